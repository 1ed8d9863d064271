package calendarsync

import (
	"context"
	"time"

	"github.com/alaap-nair/studysync/pkg/model"
)

// Calendar is one calendar a provider can write events to.
type Calendar struct {
	ID      string
	Name    string
	Primary bool
}

// EventFields is the content of a task's calendar event.
type EventFields struct {
	TaskID   string
	Title    string
	Notes    string
	Start    time.Time
	End      time.Time
	Category model.Category
}

// Equal reports whether two field sets would produce the same event.
func (f EventFields) Equal(o EventFields) bool {
	return f.TaskID == o.TaskID &&
		f.Title == o.Title &&
		f.Notes == o.Notes &&
		f.Start.Equal(o.Start) &&
		f.End.Equal(o.End) &&
		f.Category == o.Category
}

// Provider is an external calendar service. DeleteEvent of an event that
// no longer exists must succeed.
type Provider interface {
	Name() string
	RequestPermission(ctx context.Context) (bool, error)
	ListWritableCalendars(ctx context.Context) ([]Calendar, error)
	CreateEvent(ctx context.Context, calendarID string, fields EventFields) (string, error)
	UpdateEvent(ctx context.Context, calendarID, eventID string, fields EventFields) error
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// EventFinder is implemented by providers that can look an event up by the
// task it was created for. The engine uses it to rebuild its mapping after a
// restart instead of creating duplicates. An empty id means no event exists.
type EventFinder interface {
	FindEvent(ctx context.Context, calendarID, taskID string) (string, error)
}
