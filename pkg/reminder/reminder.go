// Package reminder schedules local notifications for tasks ahead of their
// due date.
package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/alaap-nair/studysync/pkg/model"
)

// Scheduler arms and disarms a task's reminder.
//
// Schedule returns an empty handle when there is nothing to schedule: the
// task has no due date or the fire time has already passed. Cancel of an
// empty or unknown handle is a no-op, never an error.
type Scheduler interface {
	Schedule(ctx context.Context, task model.Task, offsetMinutes int) (string, error)
	Cancel(ctx context.Context, handle string) error
}

// Reminder is one armed notification.
type Reminder struct {
	Handle        string
	TaskID        string
	Title         string
	Priority      model.Priority
	DueDate       time.Time
	OffsetMinutes int
	FireAt        time.Time
}

// Message returns the title and body of the notification shown to the user.
func (r Reminder) Message() (title, body string) {
	title = priorityBadge(r.Priority) + " Task Due Soon!"
	body = fmt.Sprintf("%q is due in %s", r.Title, formatOffset(r.OffsetMinutes))
	return title, body
}

func priorityBadge(p model.Priority) string {
	switch p {
	case model.PriorityHigh:
		return "🔴"
	case model.PriorityLow:
		return "🟢"
	default:
		return "🟡"
	}
}

func formatOffset(minutes int) string {
	switch {
	case minutes == 0:
		return "now"
	case minutes%1440 == 0:
		return plural(minutes/1440, "day")
	case minutes%60 == 0:
		return plural(minutes/60, "hour")
	default:
		return plural(minutes, "minute")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// Noop is the scheduler used when notifications are unavailable. It never
// arms anything.
type Noop struct{}

func (Noop) Schedule(context.Context, model.Task, int) (string, error) { return "", nil }
func (Noop) Cancel(context.Context, string) error                       { return nil }
