// Package auth obtains and caches the OAuth token used for Google Calendar.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	// ClientSecretsFile is the OAuth client downloaded from the Google Cloud
	// console, read from the config directory.
	ClientSecretsFile = "credentials.json"

	// TokenFile holds the user's access and refresh token.
	TokenFile = "token.json"

	// LocalhostAuthPort receives the OAuth redirect.
	LocalhostAuthPort = "6789"

	authTimeout = 5 * time.Minute
)

// Flow runs the installed-app authorization flow and keeps the token in Dir.
type Flow struct {
	Dir    string
	Scopes []string
	// Port overrides LocalhostAuthPort.
	Port   string
	Logger *log.Logger
	// Out receives the authorization URL for the user to open.
	Out io.Writer
}

func (f *Flow) port() string {
	if f.Port != "" {
		return f.Port
	}
	return LocalhostAuthPort
}

func (f *Flow) logger() *log.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return log.Default()
}

func (f *Flow) tokenPath() string {
	return filepath.Join(f.Dir, TokenFile)
}

// Config reads the client secrets and points the redirect at the local
// callback server.
func (f *Flow) Config() (*oauth2.Config, error) {
	path := filepath.Join(f.Dir, ClientSecretsFile)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file %s: %w", path, err)
	}

	config, err := google.ConfigFromJSON(b, f.Scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = f.redirectURL(config.RedirectURL)
	return config, nil
}

// redirectURL forces localhost and out-of-band redirects onto the callback
// port. Other redirects are kept as configured.
func (f *Flow) redirectURL(configured string) string {
	if configured == "urn:ietf:wg:oauth:2.0:oob" || configured == "" {
		return fmt.Sprintf("http://localhost:%s/oauth2callback", f.port())
	}
	parsed, err := url.Parse(configured)
	if err != nil {
		f.logger().Printf("Warning: Could not parse RedirectURL '%s': %v. Using it as is.", configured, err)
		return configured
	}
	if parsed.Hostname() != "localhost" && parsed.Hostname() != "127.0.0.1" {
		f.logger().Printf("Warning: RedirectURL %s is not a localhost callback. Ensure this is correct for your setup.", configured)
		return configured
	}
	if parsed.Port() != "" && parsed.Port() != f.port() {
		f.logger().Printf("Warning: credentials.json redirects to port %s, forcing %s", parsed.Port(), f.port())
	}
	parsed.Host = net.JoinHostPort(parsed.Hostname(), f.port())
	return parsed.String()
}

// Client returns an HTTP client authorized with the cached token, running
// the browser flow when there is none. Refreshed tokens are written back.
func (f *Flow) Client(ctx context.Context) (*http.Client, error) {
	config, err := f.Config()
	if err != nil {
		return nil, err
	}

	path := f.tokenPath()
	tok, err := tokenFromFile(path)
	if err != nil {
		f.logger().Printf("No existing token found at %s. Initiating web authorization flow...", path)
		tok, err = f.tokenFromWeb(ctx, config)
		if err != nil {
			return nil, fmt.Errorf("failed to get token from web: %w", err)
		}
		if err := saveToken(path, tok); err != nil {
			return nil, err
		}
	}

	src := &savingTokenSource{
		base:   config.TokenSource(ctx, tok),
		path:   path,
		last:   tok,
		logger: f.logger(),
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), nil
}

// Reset deletes the cached token so the next Client call re-authorizes.
func (f *Flow) Reset() error {
	err := os.Remove(f.tokenPath())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("could not delete token file '%s': %w", f.tokenPath(), err)
	}
	return nil
}

// tokenFromWeb captures the authorization code on a local server and
// exchanges it for a token.
func (f *Flow) tokenFromWeb(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	listener, err := net.Listen("tcp", "localhost:"+f.port())
	if err != nil {
		return nil, fmt.Errorf("failed to start listener on port %s: %w", f.port(), err)
	}
	defer listener.Close()

	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			code := r.URL.Query().Get("code")
			if code == "" {
				http.Error(w, "Authorization code not found", http.StatusBadRequest)
				select {
				case errCh <- errors.New("authorization code not found in redirect URL"):
				default:
				}
				return
			}
			fmt.Fprintf(w, "Authentication successful! You can close this window.")
			select {
			case codeCh <- code:
			default:
			}
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	defer server.Shutdown(context.Background())

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errCh <- fmt.Errorf("HTTP server error: %w", err):
			default:
			}
		}
	}()

	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	out := f.Out
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprintf(out, "Please open the following URL in your browser to authorize studysync:\n%s\n", authURL)
	f.logger().Println("Waiting for authorization code...")

	select {
	case code := <-codeCh:
		exchangeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		tok, err := config.Exchange(exchangeCtx, code)
		if err != nil {
			return nil, fmt.Errorf("unable to retrieve token from Google: %w", err)
		}
		return tok, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(authTimeout):
		return nil, errors.New("authorization timed out. Please try again")
	}
}

// savingTokenSource writes the token back whenever a refresh changes it.
type savingTokenSource struct {
	base   oauth2.TokenSource
	path   string
	logger *log.Logger

	mu   sync.Mutex
	last *oauth2.Token
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil || tok.AccessToken != s.last.AccessToken || tok.RefreshToken != s.last.RefreshToken {
		s.logger.Println("Token was refreshed. Saving new token to file.")
		if err := saveToken(s.path, tok); err != nil {
			s.logger.Printf("Warning: %v", err)
		}
		s.last = tok
	}
	return tok, nil
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("failed to decode token from file %s: %w", file, err)
	}
	return tok, nil
}

// saveToken writes the token readable by the owner only.
func saveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("could not create token directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache OAuth token to %s: %w", path, err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}
