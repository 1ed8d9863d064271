package reminder

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/alaap-nair/studysync/pkg/model"
	"github.com/google/uuid"
)

// Notifier delivers a reminder once its fire time has come.
type Notifier interface {
	Notify(ctx context.Context, r Reminder) error
}

// LogNotifier writes fired reminders to a logger.
type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) Notify(_ context.Context, r Reminder) error {
	title, body := r.Message()
	logger := n.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("%s %s", title, body)
	return nil
}

// Local keeps armed reminders in memory and delivers them from Run.
type Local struct {
	mu       sync.Mutex
	table    *table
	notifier Notifier
	interval time.Duration
	now      func() time.Time
	logger   *log.Logger
}

// LocalOption configures a Local scheduler.
type LocalOption func(*Local)

// WithInterval sets how often Run checks for due reminders.
func WithInterval(d time.Duration) LocalOption {
	return func(l *Local) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithClock replaces the scheduler's clock.
func WithClock(now func() time.Time) LocalOption {
	return func(l *Local) { l.now = now }
}

// WithLogger sets the scheduler's logger.
func WithLogger(logger *log.Logger) LocalOption {
	return func(l *Local) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLocal creates a scheduler that hands fired reminders to notifier.
func NewLocal(notifier Notifier, opts ...LocalOption) *Local {
	l := &Local{
		table:    newTable(),
		notifier: notifier,
		interval: time.Minute,
		now:      time.Now,
		logger:   log.New(os.Stderr, "[Reminder] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Local) Schedule(_ context.Context, task model.Task, offsetMinutes int) (string, error) {
	if !task.HasDueDate() || offsetMinutes < 0 {
		return "", nil
	}
	fireAt := task.DueDate.Add(-time.Duration(offsetMinutes) * time.Minute)
	if !fireAt.After(l.now()) {
		return "", nil
	}

	r := Reminder{
		Handle:        uuid.NewString(),
		TaskID:        task.ID,
		Title:         task.Title,
		Priority:      task.Priority,
		DueDate:       *task.DueDate,
		OffsetMinutes: offsetMinutes,
		FireAt:        fireAt,
	}

	l.mu.Lock()
	l.table.add(r)
	l.mu.Unlock()
	return r.Handle, nil
}

func (l *Local) Cancel(_ context.Context, handle string) error {
	if handle == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.table.remove(handle)
	return nil
}

// Pending lists the armed reminders, earliest first.
func (l *Local) Pending() []Reminder {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.table.list()
}

// Deliver notifies every reminder that is due and returns how many were
// delivered successfully. A reminder is disarmed whether or not delivery
// succeeded, so a broken notifier cannot cause repeated notifications.
func (l *Local) Deliver(ctx context.Context) int {
	l.mu.Lock()
	due := l.table.sweep(l.now())
	l.mu.Unlock()

	sent := 0
	for _, r := range due {
		if err := l.notifier.Notify(ctx, r); err != nil {
			l.logger.Printf("Error delivering reminder for task %s: %v", r.TaskID, err)
			continue
		}
		sent++
	}
	if len(due) > 0 {
		l.logger.Printf("Delivered %d of %d due reminders", sent, len(due))
	}
	return sent
}

// Run delivers due reminders every interval until ctx is done.
func (l *Local) Run(ctx context.Context) error {
	l.logger.Printf("Starting reminder scheduler (interval: %s)", l.interval)
	l.Deliver(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Deliver(ctx)
		case <-ctx.Done():
			l.logger.Println("Reminder scheduler stopped")
			return ctx.Err()
		}
	}
}
