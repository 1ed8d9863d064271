// Package calendarsync mirrors tasks with due dates into an external calendar.
package calendarsync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/alaap-nair/studysync/pkg/model"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed in
	// the session's current state. The state is left unchanged.
	ErrInvalidTransition = errors.New("invalid calendar sync transition")
	ErrNotEnabled        = errors.New("calendar sync is not enabled")
	ErrNoCalendar        = errors.New("no writable calendar")
	ErrSessionDisposed   = errors.New("calendar sync session disposed")
)

// Window is where on the due date a task's event is placed.
type Window struct {
	StartHour   int
	StartMinute int
	Duration    time.Duration
}

// DefaultWindow is 09:00 to 10:00.
func DefaultWindow() Window {
	return Window{StartHour: 9, Duration: time.Hour}
}

// Engine drives a Session against a Provider.
type Engine struct {
	provider Provider
	session  *Session
	window   Window
	loc      *time.Location
	logger   *log.Logger
}

type Option func(*Engine)

func WithWindow(w Window) Option {
	return func(e *Engine) {
		if w.Duration > 0 {
			e.window = w
		}
	}
}

// WithLocation sets the time zone event windows are computed in.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine returns an engine over provider. A nil session gets a fresh one.
func NewEngine(provider Provider, session *Session, opts ...Option) *Engine {
	if session == nil {
		session = NewSession()
	}
	e := &Engine{
		provider: provider,
		session:  session,
		window:   DefaultWindow(),
		loc:      time.Local,
		logger:   log.New(os.Stderr, "[calendar] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Session returns a copy of the current session state.
func (e *Engine) Session() SessionState {
	return e.session.Snapshot()
}

// Enabled reports whether mutations should be synced.
func (e *Engine) Enabled() bool {
	return e.session.Snapshot().State == StateEnabled
}

// EventRef returns the event id the task is synced to, or "".
func (e *Engine) EventRef(taskID string) string {
	if m, ok := e.session.currentMapping().Get(taskID); ok {
		return m.EventID
	}
	return ""
}

// Initialize requests permission, selects a calendar and reconciles tasks
// against it. A second call while one is running supersedes it: the earlier
// pass finishes its provider calls but no longer updates the session state.
func (e *Engine) Initialize(ctx context.Context, tasks []model.Task) error {
	return e.initialize(ctx, tasks, false)
}

func (e *Engine) initialize(ctx context.Context, tasks []model.Task, retrying bool) error {
	name := e.provider.Name()
	gen, err := e.session.begin(name, retrying)
	if err != nil {
		return err
	}
	e.logger.Printf("Initializing calendar sync with %s", name)

	granted, err := e.provider.RequestPermission(ctx)
	if err != nil {
		e.session.updateIfCurrent(gen, func(st *SessionState) {
			st.State = StateErrorRetrying
			st.LastError = fmt.Sprintf("Could not reach %s. Check your connection and try again.", name)
		})
		return fmt.Errorf("%w: requesting calendar permission: %w", model.ErrRemoteUnavailable, err)
	}
	if !granted {
		e.session.updateIfCurrent(gen, func(st *SessionState) {
			st.State = StateDisabled
			st.LastError = fmt.Sprintf("Calendar access was denied. Allow %s access in settings to sync tasks.", name)
		})
		return fmt.Errorf("calendar access: %w", model.ErrPermissionDenied)
	}

	calendars, err := e.provider.ListWritableCalendars(ctx)
	if err != nil {
		e.session.updateIfCurrent(gen, func(st *SessionState) {
			st.State = StateErrorRetrying
			st.LastError = fmt.Sprintf("Could not load calendars from %s. Try again.", name)
		})
		return fmt.Errorf("%w: listing calendars: %w", model.ErrRemoteUnavailable, err)
	}
	cal, ok := pickCalendar(calendars)
	if !ok {
		e.session.updateIfCurrent(gen, func(st *SessionState) {
			st.State = StateDisabled
			st.LastError = fmt.Sprintf("No writable calendar found in %s.", name)
		})
		return ErrNoCalendar
	}
	e.session.updateIfCurrent(gen, func(st *SessionState) {
		st.ProviderReady = true
		st.CalendarID = cal.ID
	})
	e.logger.Printf("Using calendar %q (%s)", cal.Name, cal.ID)

	failed, total := e.reconcile(ctx, cal.ID, tasks)
	if failed > 0 {
		msg := fmt.Sprintf("%d of %d tasks failed to sync with calendar", failed, total)
		e.session.updateIfCurrent(gen, func(st *SessionState) {
			st.State = StateErrorRetrying
			st.LastError = msg + ". Try again."
		})
		return fmt.Errorf("%w: %s", model.ErrPartialReconciliation, msg)
	}

	if e.session.updateIfCurrent(gen, func(st *SessionState) {
		st.State = StateEnabled
		st.LastError = ""
	}) {
		e.logger.Printf("Calendar sync enabled, %d tasks reconciled", total)
	}
	return nil
}

// reconcile syncs every task that has or needs an event. It returns how
// many of those failed.
func (e *Engine) reconcile(ctx context.Context, calendarID string, tasks []model.Task) (failed, total int) {
	mapping := e.session.currentMapping()
	for _, t := range tasks {
		if !wantsEvent(t) && t.CalendarEventRef == "" {
			if _, ok := mapping.Get(t.ID); !ok {
				continue
			}
		}
		total++
		if _, err := e.syncTask(ctx, calendarID, t); err != nil {
			failed++
			e.logger.Printf("Failed to sync task %s (%q): %v", t.ID, t.Title, err)
		}
	}
	return failed, total
}

// SyncOne brings the task's event in line with the task. Calling it again
// with an unchanged task makes no provider calls.
func (e *Engine) SyncOne(ctx context.Context, task model.Task) (string, error) {
	st := e.session.Snapshot()
	if st.State != StateEnabled {
		return e.EventRef(task.ID), ErrNotEnabled
	}

	ref, err := e.syncTask(ctx, st.CalendarID, task)
	if err != nil {
		e.session.update(func(st *SessionState) {
			if st.State == StateEnabled {
				st.State = StateErrorRetrying
			}
			st.LastError = fmt.Sprintf("Failed to sync %q with calendar. Try again.", task.Title)
		})
		return ref, fmt.Errorf("syncing task %s with calendar: %w", task.ID, err)
	}
	return ref, nil
}

func (e *Engine) syncTask(ctx context.Context, calendarID string, task model.Task) (string, error) {
	mapping := e.session.currentMapping()
	existing, mapped := mapping.Get(task.ID)
	if !mapped && task.CalendarEventRef != "" {
		// Event written by an earlier session. Its fields are unknown, so a
		// wanted task always gets one update.
		existing = MappedEvent{
			EventID:    task.CalendarEventRef,
			Provider:   e.provider.Name(),
			CalendarID: calendarID,
		}
		mapped = true
	}

	if !wantsEvent(task) {
		if !mapped {
			return "", nil
		}
		if err := e.provider.DeleteEvent(ctx, existing.CalendarID, existing.EventID); err != nil {
			return existing.EventID, fmt.Errorf("deleting event %s: %w", existing.EventID, err)
		}
		mapping.Remove(task.ID)
		return "", nil
	}

	fields := e.eventFields(task)
	if mapped {
		if existing.Fields.Equal(fields) {
			return existing.EventID, nil
		}
		if err := e.provider.UpdateEvent(ctx, existing.CalendarID, existing.EventID, fields); err != nil {
			return existing.EventID, fmt.Errorf("updating event %s: %w", existing.EventID, err)
		}
		existing.Fields = fields
		mapping.Set(task.ID, existing)
		return existing.EventID, nil
	}

	if finder, ok := e.provider.(EventFinder); ok {
		eventID, err := finder.FindEvent(ctx, calendarID, task.ID)
		if err != nil {
			return "", fmt.Errorf("looking up event for task %s: %w", task.ID, err)
		}
		if eventID != "" {
			if err := e.provider.UpdateEvent(ctx, calendarID, eventID, fields); err != nil {
				return "", fmt.Errorf("updating event %s: %w", eventID, err)
			}
			e.record(mapping, task.ID, calendarID, eventID, fields)
			return eventID, nil
		}
	}

	eventID, err := e.provider.CreateEvent(ctx, calendarID, fields)
	if err != nil {
		return "", fmt.Errorf("creating event: %w", err)
	}
	e.record(mapping, task.ID, calendarID, eventID, fields)
	return eventID, nil
}

func (e *Engine) record(mapping *Mapping, taskID, calendarID, eventID string, fields EventFields) {
	mapping.Set(taskID, MappedEvent{
		EventID:    eventID,
		Provider:   e.provider.Name(),
		CalendarID: calendarID,
		Fields:     fields,
	})
}

// Release deletes the task's event, if it has one. ref is the event id
// persisted with the task and is used when this session never mapped the
// task. The mapping is kept when the delete fails.
func (e *Engine) Release(ctx context.Context, taskID, ref string) error {
	if e.session.isDisposed() {
		return ErrSessionDisposed
	}
	mapping := e.session.currentMapping()
	existing, ok := mapping.Get(taskID)
	if !ok {
		if ref == "" {
			return nil
		}
		calendarID := e.session.Snapshot().CalendarID
		if calendarID == "" {
			return fmt.Errorf("deleting event %s for task %s: %w", ref, taskID, ErrNoCalendar)
		}
		if err := e.provider.DeleteEvent(ctx, calendarID, ref); err != nil {
			return fmt.Errorf("deleting event %s for task %s: %w", ref, taskID, err)
		}
		return nil
	}
	if err := e.provider.DeleteEvent(ctx, existing.CalendarID, existing.EventID); err != nil {
		return fmt.Errorf("deleting event %s for task %s: %w", existing.EventID, taskID, err)
	}
	mapping.Remove(taskID)
	return nil
}

// Retry re-runs initialization. It is only valid after a failure.
func (e *Engine) Retry(ctx context.Context, tasks []model.Task) error {
	if e.session.Snapshot().State != StateErrorRetrying {
		return ErrInvalidTransition
	}
	err := e.initialize(ctx, tasks, true)
	e.session.update(func(st *SessionState) {
		st.Retrying = false
	})
	return err
}

// Toggle turns syncing off when it is on (or failing) and on when it is off.
// Existing events stay in the calendar when syncing is turned off.
func (e *Engine) Toggle(ctx context.Context, tasks []model.Task) error {
	switch e.session.Snapshot().State {
	case StateEnabled, StateErrorRetrying:
		e.session.update(func(st *SessionState) {
			st.State = StateDisabled
			st.LastError = ""
			st.Retrying = false
		})
		e.logger.Printf("Calendar sync disabled")
		return nil
	case StateDisabled:
		return e.Initialize(ctx, tasks)
	default:
		return ErrInvalidTransition
	}
}

func wantsEvent(t model.Task) bool {
	return !t.Completed && t.HasDueDate()
}

func (e *Engine) eventFields(t model.Task) EventFields {
	due := t.DueDate.In(e.loc)
	start := time.Date(due.Year(), due.Month(), due.Day(), e.window.StartHour, e.window.StartMinute, 0, 0, e.loc)
	return EventFields{
		TaskID:   t.ID,
		Title:    t.Title,
		Notes:    EventNotes(t),
		Start:    start,
		End:      start.Add(e.window.Duration),
		Category: t.Category,
	}
}

// EventNotes is the event body for a task.
func EventNotes(t model.Task) string {
	return fmt.Sprintf("%s\n\nPriority: %s\nCategory: %s", t.Description, t.Priority, t.Category)
}

// pickCalendar prefers the primary calendar, then the first listed.
func pickCalendar(cals []Calendar) (Calendar, bool) {
	for _, c := range cals {
		if c.Primary {
			return c, true
		}
	}
	if len(cals) == 0 {
		return Calendar{}, false
	}
	return cals[0], true
}
