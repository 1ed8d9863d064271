package google

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"github.com/alaap-nair/studysync/pkg/calendarsync"
)

// Provider syncs events to Google Calendar.
type Provider struct {
	srv *calendar.Service
	// calendarName, when set, selects the calendar with that summary
	// instead of the primary one.
	calendarName string
	logger       *log.Logger
}

// NewProvider wraps an authenticated calendar service.
func NewProvider(srv *calendar.Service, calendarName string, logger *log.Logger) *Provider {
	if logger == nil {
		logger = log.New(os.Stderr, "[gcal] ", log.LstdFlags)
	}
	return &Provider{srv: srv, calendarName: calendarName, logger: logger}
}

func (p *Provider) Name() string { return "Google Calendar" }

// RequestPermission checks that the token grants calendar access. A 401 or
// 403 from the API means access was refused or revoked.
func (p *Provider) RequestPermission(ctx context.Context) (bool, error) {
	_, err := p.srv.CalendarList.List().MaxResults(1).Context(ctx).Do()
	if err == nil {
		return true, nil
	}
	if code := statusCode(err); code == http.StatusUnauthorized || code == http.StatusForbidden {
		p.logger.Printf("Calendar access refused: %v", err)
		return false, nil
	}
	return false, err
}

// ListWritableCalendars returns the calendars the user can write to.
func (p *Provider) ListWritableCalendars(ctx context.Context) ([]calendarsync.Calendar, error) {
	var out []calendarsync.Calendar
	err := p.srv.CalendarList.List().MinAccessRole("writer").Pages(ctx, func(page *calendar.CalendarList) error {
		for _, item := range page.Items {
			out = append(out, calendarsync.Calendar{
				ID:      item.Id,
				Name:    item.Summary,
				Primary: item.Primary,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve calendar list: %w", err)
	}
	if p.calendarName == "" {
		return out, nil
	}
	for _, c := range out {
		if c.Name == p.calendarName {
			c.Primary = true
			return []calendarsync.Calendar{c}, nil
		}
	}
	p.logger.Printf("Calendar %q not found or not writable", p.calendarName)
	return nil, nil
}

func (p *Provider) CreateEvent(ctx context.Context, calendarID string, fields calendarsync.EventFields) (string, error) {
	created, err := p.srv.Events.Insert(calendarID, toEvent(fields)).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

// UpdateEvent patches only the fields that differ from the stored event.
func (p *Provider) UpdateEvent(ctx context.Context, calendarID, eventID string, fields calendarsync.EventFields) error {
	target := toEvent(fields)
	existing, err := p.srv.Events.Get(calendarID, eventID).Context(ctx).Do()
	if err != nil {
		if isGone(err) {
			return fmt.Errorf("event %s no longer exists: %w", eventID, err)
		}
		return err
	}
	patch, err := eventPatch(existing, target)
	if err != nil {
		p.logger.Printf("could not compare task with its calendar event: %v", err)
		patch = target
	}
	if patch == nil {
		return nil
	}
	_, err = p.srv.Events.Patch(calendarID, eventID, patch).Context(ctx).Do()
	return err
}

// DeleteEvent deletes the event. An event that is already gone counts as
// deleted.
func (p *Provider) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	err := p.srv.Events.Delete(calendarID, eventID).Context(ctx).Do()
	if err != nil && !isGone(err) {
		return err
	}
	return nil
}

// FindEvent looks up the event tagged with taskID.
func (p *Provider) FindEvent(ctx context.Context, calendarID, taskID string) (string, error) {
	events, err := p.srv.Events.List(calendarID).
		PrivateExtendedProperty(fmt.Sprintf("%s=%s", taskIDProperty, taskID)).
		ShowDeleted(false).
		Context(ctx).
		Do()
	if err != nil {
		return "", err
	}
	if len(events.Items) > 0 {
		return events.Items[0].Id, nil
	}
	return "", nil
}

func statusCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}

func isGone(err error) bool {
	code := statusCode(err)
	return code == http.StatusNotFound || code == http.StatusGone
}
