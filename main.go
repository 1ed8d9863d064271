// Command studysync manages study tasks stored in Firestore and keeps them
// in sync with Google Calendar.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/alaap-nair/studysync/pkg/auth"
	"github.com/alaap-nair/studysync/pkg/calendarsync"
	"github.com/alaap-nair/studysync/pkg/config"
	"github.com/alaap-nair/studysync/pkg/docstore"
	"github.com/alaap-nair/studysync/pkg/fcm"
	"github.com/alaap-nair/studysync/pkg/google"
	"github.com/alaap-nair/studysync/pkg/query"
	"github.com/alaap-nair/studysync/pkg/reminder"
	"github.com/alaap-nair/studysync/pkg/taskstore"
)

var (
	cfg       *config.Config
	logOutput io.Writer = os.Stderr
	logCloser io.Closer

	calendarFlag string
)

func main() {
	ctx, stop := signalContext()
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "studysync",
	Short:        "Study tasks with reminders and calendar sync",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
		if calendarFlag != "" {
			cfg.Calendar.Name = calendarFlag
		}
		setupLogging(cfg.Log)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&calendarFlag, "calendar", "", "Google Calendar name to sync with (overrides config)")
}

// setupLogging sends logs to a rotating file when one is configured.
func setupLogging(c config.Log) {
	if c.File == "" {
		return
	}
	lj := &lumberjack.Logger{
		Filename:   c.File,
		MaxSize:    c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAgeDays,
	}
	logOutput = lj
	logCloser = lj
	log.SetOutput(lj)
}

func newLogger(prefix string) *log.Logger {
	return log.New(logOutput, prefix, log.LstdFlags)
}

// signalContext is cancelled on interrupt or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// app holds the wired components for one command invocation.
type app struct {
	docs      *docstore.Firestore
	store     *taskstore.Store
	reminders *reminder.Local
	engine    *calendarsync.Engine
}

type appOptions struct {
	calendar bool
}

// openApp connects to Firestore, loads the task cache and, when asked,
// brings calendar sync up against the cached tasks.
func openApp(ctx context.Context, opts appOptions) (*app, error) {
	docs, err := docstore.OpenFirestore(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		return nil, err
	}
	a := &app{docs: docs}

	a.reminders = reminder.NewLocal(newNotifier(ctx),
		reminder.WithInterval(cfg.Reminders.PollInterval.Duration),
		reminder.WithLogger(newLogger("[Reminder] ")))

	storeOpts := []taskstore.Option{
		taskstore.WithQuerier(query.New(docs,
			query.WithWarmup(cfg.Firebase.IndexWarmup),
			query.WithLogger(newLogger("[query] ")))),
		taskstore.WithScheduler(a.reminders),
		taskstore.WithLogger(newLogger("[tasks] ")),
	}
	if opts.calendar {
		engine, err := newEngine(ctx)
		if err != nil {
			docs.Close()
			return nil, err
		}
		a.engine = engine
		storeOpts = append(storeOpts, taskstore.WithCalendar(engine))
	}
	a.store = taskstore.New(docs, storeOpts...)

	if err := a.store.FetchAll(ctx); err != nil {
		docs.Close()
		return nil, err
	}
	if a.engine != nil {
		if err := a.store.InitializeCalendarSync(ctx); err != nil {
			log.Printf("Calendar sync not enabled: %v", err)
		}
	}
	return a, nil
}

func (a *app) Close() {
	if err := a.docs.Close(); err != nil {
		log.Printf("Error closing Firestore client: %v", err)
	}
}

// newNotifier pushes through FCM when device tokens are configured and
// logs otherwise.
func newNotifier(ctx context.Context) reminder.Notifier {
	fallback := reminder.LogNotifier{Logger: newLogger("[Reminder] ")}
	if len(cfg.Reminders.DeviceTokens) == 0 {
		return fallback
	}
	client, err := fcm.NewClient(ctx, cfg.Firebase.CredentialsFile, cfg.Reminders.DeviceTokens)
	if err != nil {
		log.Printf("Warning: FCM unavailable, logging reminders instead: %v", err)
		return fallback
	}
	return client
}

func authFlow() (*auth.Flow, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, fmt.Errorf("could not find path to configuration file: %w", err)
	}
	return &auth.Flow{
		Dir:    dir,
		Scopes: google.Scopes,
		Logger: newLogger("[auth] "),
		Out:    os.Stdout,
	}, nil
}

func newEngine(ctx context.Context) (*calendarsync.Engine, error) {
	flow, err := authFlow()
	if err != nil {
		return nil, err
	}
	httpClient, err := flow.Client(ctx)
	if err != nil {
		return nil, fmt.Errorf("authorizing Google Calendar: %w", err)
	}
	provider, err := google.NewClient(ctx, httpClient, cfg.Calendar.Name, newLogger("[gcal] "))
	if err != nil {
		return nil, err
	}
	window := calendarsync.Window{
		StartHour:   cfg.Calendar.StartHour,
		StartMinute: cfg.Calendar.StartMinute,
		Duration:    time.Duration(cfg.Calendar.DurationMinutes) * time.Minute,
	}
	return calendarsync.NewEngine(provider, nil,
		calendarsync.WithWindow(window),
		calendarsync.WithLocation(cfg.Location()),
		calendarsync.WithLogger(newLogger("[calendar] "))), nil
}

// printSession reports the calendar session state to the user.
func printSession(w io.Writer, st calendarsync.SessionState) {
	fmt.Fprintf(w, "Calendar sync: %s", st.State)
	if st.Provider != "" {
		fmt.Fprintf(w, " (%s", st.Provider)
		if st.CalendarID != "" {
			fmt.Fprintf(w, ", calendar %s", st.CalendarID)
		}
		fmt.Fprint(w, ")")
	}
	fmt.Fprintln(w)
	if st.LastError != "" {
		fmt.Fprintf(w, "  %s\n", st.LastError)
	}
}

// ignoreCanceled treats a signal-driven shutdown as success.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
