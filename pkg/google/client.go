// Package google implements calendar sync against Google Calendar.
package google

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// Scopes are the OAuth scopes the provider needs.
var Scopes = []string{
	calendar.CalendarEventsScope,
	calendar.CalendarReadonlyScope,
}

// NewClient creates a provider over an authenticated HTTP client. Extra
// options are passed to the calendar service.
func NewClient(ctx context.Context, client *http.Client, calendarName string, logger *log.Logger, opts ...option.ClientOption) (*Provider, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Calendar client: %w", err)
	}
	return NewProvider(srv, calendarName, logger), nil
}
