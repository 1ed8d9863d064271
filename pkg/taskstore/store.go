// Package taskstore keeps an in-memory mirror of the tasks collection and
// applies every mutation to the remote store before the mirror.
package taskstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"slices"
	"sync"

	"github.com/alaap-nair/studysync/pkg/docstore"
	"github.com/alaap-nair/studysync/pkg/model"
	"github.com/alaap-nair/studysync/pkg/query"
	"github.com/alaap-nair/studysync/pkg/reminder"
)

// CalendarSync is the calendar engine as seen by the store.
type CalendarSync interface {
	Enabled() bool
	SyncOne(ctx context.Context, task model.Task) (string, error)
	// Release deletes the task's event. ref is the event id persisted
	// with the task.
	Release(ctx context.Context, taskID, ref string) error
	EventRef(taskID string) string
	Initialize(ctx context.Context, tasks []model.Task) error
	Retry(ctx context.Context, tasks []model.Task) error
	Toggle(ctx context.Context, tasks []model.Task) error
}

// Snapshot is what subscribers receive after every confirmed change.
type Snapshot struct {
	Tasks []model.Task
	// Err is the last fetch error, cleared by the next successful fetch.
	Err     error
	Version uint64
}

// Store is the task cache.
type Store struct {
	docs      docstore.Store
	querier   *query.Querier
	reminders reminder.Scheduler
	calendar  CalendarSync
	logger    *log.Logger

	mu      sync.RWMutex
	tasks   []model.Task
	lastErr error
	version uint64
	subs    map[int]chan Snapshot
	nextSub int
}

type Option func(*Store)

// WithQuerier replaces the default querier built over the document store.
func WithQuerier(q *query.Querier) Option {
	return func(s *Store) { s.querier = q }
}

func WithScheduler(r reminder.Scheduler) Option {
	return func(s *Store) {
		if r != nil {
			s.reminders = r
		}
	}
}

// WithCalendar enables propagating mutations to a calendar engine.
func WithCalendar(c CalendarSync) Option {
	return func(s *Store) { s.calendar = c }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns an empty store over docs. Call FetchAll to load it.
func New(docs docstore.Store, opts ...Option) *Store {
	s := &Store{
		docs:      docs,
		reminders: reminder.Noop{},
		logger:    log.New(os.Stderr, "[tasks] ", log.LstdFlags),
		subs:      make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.querier == nil {
		s.querier = query.New(docs, query.WithLogger(s.logger))
	}
	return s
}

// FetchAll replaces the cache with the remote tasks, newest first. On
// failure the cache is kept as it was and the error is also reported
// through LastError and subscribers.
func (s *Store) FetchAll(ctx context.Context) error {
	docs, err := s.querier.QueryCollection(ctx, Collection, nil, &docstore.OrderBy{Field: fieldCreatedAt, Direction: docstore.Desc})
	if err != nil {
		if !errors.Is(err, model.ErrRemoteUnavailable) {
			err = docstore.WithKind(model.ErrRemoteUnavailable, err)
		}
		err = fmt.Errorf("fetching tasks: %w", err)
		s.logger.Printf("Error fetching tasks, keeping cached copy: %v", err)
		s.mu.Lock()
		s.lastErr = err
		s.publishLocked()
		s.mu.Unlock()
		return err
	}

	tasks := make([]model.Task, 0, len(docs))
	for _, doc := range docs {
		if query.IsProbe(doc) {
			continue
		}
		tasks = append(tasks, decode(doc))
	}
	for i := range tasks {
		tasks[i] = s.rearmFetched(ctx, tasks[i])
	}
	if s.calendar != nil {
		for i := range tasks {
			if ref := s.calendar.EventRef(tasks[i].ID); ref != "" {
				tasks[i].CalendarEventRef = ref
			}
		}
	}

	s.mu.Lock()
	s.tasks = tasks
	s.lastErr = nil
	s.publishLocked()
	s.mu.Unlock()
	return nil
}

// rearmFetched re-schedules the reminder of a freshly fetched task and
// persists the new handle when it changed.
func (s *Store) rearmFetched(ctx context.Context, t model.Task) model.Task {
	if t.Completed || t.ReminderOffsetMinutes == nil {
		return t
	}
	s.cancelReminder(ctx, t.ReminderHandle)
	handle := s.scheduleReminder(ctx, t)
	if handle == t.ReminderHandle {
		return t
	}
	if _, err := s.docs.Update(ctx, Collection, t.ID, map[string]any{fieldNotificationID: nullString(handle)}); err != nil {
		s.logger.Printf("Could not store reminder handle for task %s: %v", t.ID, err)
		s.cancelReminder(ctx, handle)
		t.ReminderHandle = ""
		return t
	}
	t.ReminderHandle = handle
	return t
}

// LastError returns the error of the last failed fetch, or nil.
func (s *Store) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Tasks returns a copy of the cached tasks.
func (s *Store) Tasks() []model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneTasks(s.tasks)
}

// Get returns a copy of the cached task with the given id.
func (s *Store) Get(id string) (model.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.tasks[i].Clone(), true
	}
	return model.Task{}, false
}

// BySubject returns the cached tasks of one subject. It never calls the
// remote store.
func (s *Store) BySubject(subjectID string) []model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Task
	for _, t := range s.tasks {
		if t.SubjectID == subjectID {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Add validates in, stores it remotely and appends the stored task to the
// cache. Nothing is cached when the remote write fails.
func (s *Store) Add(ctx context.Context, in model.TaskInput) (model.Task, error) {
	if err := in.Validate(); err != nil {
		return model.Task{}, err
	}
	in = in.Normalize()

	task := model.Task{
		Title:                 in.Title,
		Description:           in.Description,
		Priority:              in.Priority,
		Category:              in.Category,
		SubjectID:             in.SubjectID,
		DueDate:               in.DueDate,
		ReminderOffsetMinutes: in.ReminderOffsetMinutes,
		LinkedNoteIDs:         dedupe(in.LinkedNoteIDs),
	}.Clone()

	doc, err := s.docs.Add(ctx, Collection, encodeNew(task))
	if err != nil {
		return model.Task{}, fmt.Errorf("adding task: %w", err)
	}
	created := s.armCreated(ctx, decode(doc))

	s.mu.Lock()
	s.tasks = append(s.tasks, created)
	s.publishLocked()
	s.mu.Unlock()

	return s.syncCalendar(ctx, created), nil
}

// armCreated schedules the reminder of a task that now has its remote id and
// persists the handle. A handle that cannot be stored is cancelled.
func (s *Store) armCreated(ctx context.Context, t model.Task) model.Task {
	handle := s.scheduleReminder(ctx, t)
	if handle == "" {
		return t
	}
	if _, err := s.docs.Update(ctx, Collection, t.ID, map[string]any{fieldNotificationID: handle}); err != nil {
		s.logger.Printf("Could not store reminder handle for task %s: %v", t.ID, err)
		s.cancelReminder(ctx, handle)
		return t
	}
	t.ReminderHandle = handle
	return t
}

// Update applies patch to the task remotely, then to the cache.
func (s *Store) Update(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error) {
	if err := patch.Validate(); err != nil {
		return model.Task{}, err
	}
	cur, ok := s.Get(id)
	if !ok {
		return model.Task{}, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	next := patch.Apply(cur)
	if !patch.TouchesReminder() {
		return s.write(ctx, cur, next)
	}
	return s.writeRearmed(ctx, cur, next)
}

// ToggleCompletion flips the completed flag. Completing disarms the
// reminder, un-completing arms it again.
func (s *Store) ToggleCompletion(ctx context.Context, id string) (model.Task, error) {
	cur, ok := s.Get(id)
	if !ok {
		return model.Task{}, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	next := cur.Clone()
	next.Completed = !cur.Completed
	return s.writeRearmed(ctx, cur, next)
}

// SetReminder arms a reminder minutes before the task's due date.
func (s *Store) SetReminder(ctx context.Context, id string, minutes int) (model.Task, error) {
	return s.Update(ctx, id, model.TaskPatch{ReminderOffsetMinutes: &minutes})
}

// RemoveReminder disarms the task's reminder and clears its offset.
func (s *Store) RemoveReminder(ctx context.Context, id string) (model.Task, error) {
	return s.Update(ctx, id, model.TaskPatch{ClearReminder: true})
}

// writeRearmed writes next with a freshly scheduled reminder. The old
// reminder is cancelled only once the write is confirmed.
func (s *Store) writeRearmed(ctx context.Context, cur, next model.Task) (model.Task, error) {
	next.ReminderHandle = s.scheduleReminder(ctx, next)
	stored, err := s.write(ctx, cur, next)
	if err != nil {
		s.cancelReminder(ctx, next.ReminderHandle)
		if errors.Is(err, model.ErrNotFound) {
			s.cancelReminder(ctx, cur.ReminderHandle)
		}
		return model.Task{}, err
	}
	if cur.ReminderHandle != next.ReminderHandle {
		s.cancelReminder(ctx, cur.ReminderHandle)
	}
	return stored, nil
}

// write stores next remotely, patches the cache and syncs the calendar.
func (s *Store) write(ctx context.Context, cur, next model.Task) (model.Task, error) {
	doc, err := s.docs.Update(ctx, Collection, cur.ID, encodeFields(next))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			s.forget(cur.ID)
		}
		return model.Task{}, fmt.Errorf("updating task %s: %w", cur.ID, err)
	}
	stored := decode(doc)
	s.replace(stored)
	return s.syncCalendar(ctx, stored), nil
}

// Delete releases the task's reminder and calendar event, then deletes it
// remotely and from the cache. Release failures are logged and do not stop
// the delete.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	cur, ok := s.Get(id)
	if !ok {
		return false, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	if cur.ReminderHandle != "" {
		if err := s.reminders.Cancel(ctx, cur.ReminderHandle); err != nil {
			s.logger.Printf("ERROR orphaned reminder %s for deleted task %s: %v", cur.ReminderHandle, id, err)
		}
	}
	switch {
	case s.calendar != nil:
		if err := s.calendar.Release(ctx, id, cur.CalendarEventRef); err != nil {
			s.logger.Printf("ERROR orphaned calendar event for deleted task %s: %v", id, err)
		}
	case cur.CalendarEventRef != "":
		s.logger.Printf("ERROR orphaned calendar event %s for deleted task %s: calendar sync is not configured", cur.CalendarEventRef, id)
	}

	if err := s.docs.Delete(ctx, Collection, id); err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			return false, fmt.Errorf("deleting task %s: %w", id, err)
		}
		s.logger.Printf("Task %s was already deleted remotely", id)
	}
	s.forget(id)
	return true, nil
}

// LinkNote adds noteID to the task's linked notes. Linking a note twice
// makes no remote call.
func (s *Store) LinkNote(ctx context.Context, taskID, noteID string) (model.Task, error) {
	cur, ok := s.Get(taskID)
	if !ok {
		return model.Task{}, fmt.Errorf("task %s: %w", taskID, model.ErrNotFound)
	}
	if cur.HasNote(noteID) {
		return cur, nil
	}
	next := cur.Clone()
	next.LinkedNoteIDs = append(next.LinkedNoteIDs, noteID)
	return s.writeNotes(ctx, next)
}

// UnlinkNote removes noteID from the task's linked notes.
func (s *Store) UnlinkNote(ctx context.Context, taskID, noteID string) (model.Task, error) {
	cur, ok := s.Get(taskID)
	if !ok {
		return model.Task{}, fmt.Errorf("task %s: %w", taskID, model.ErrNotFound)
	}
	if !cur.HasNote(noteID) {
		return cur, nil
	}
	next := cur.Clone()
	next.LinkedNoteIDs = slices.DeleteFunc(next.LinkedNoteIDs, func(id string) bool { return id == noteID })
	return s.writeNotes(ctx, next)
}

func (s *Store) writeNotes(ctx context.Context, next model.Task) (model.Task, error) {
	ids := make([]any, 0, len(next.LinkedNoteIDs))
	for _, id := range next.LinkedNoteIDs {
		ids = append(ids, id)
	}
	doc, err := s.docs.Update(ctx, Collection, next.ID, map[string]any{
		fieldNoteIDs:   ids,
		fieldUpdatedAt: docstore.ServerTimestamp,
	})
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			s.forget(next.ID)
		}
		return model.Task{}, fmt.Errorf("updating notes of task %s: %w", next.ID, err)
	}
	stored := decode(doc)
	s.replace(stored)
	return stored, nil
}

// syncCalendar pushes t to the calendar engine when syncing is on and
// returns t with its event reference refreshed. Failures are logged; the
// engine records them in its session.
func (s *Store) syncCalendar(ctx context.Context, t model.Task) model.Task {
	if s.calendar == nil || !s.calendar.Enabled() {
		return t
	}
	ref, err := s.calendar.SyncOne(ctx, t)
	if err != nil {
		s.logger.Printf("Calendar sync error for task %s: %v", t.ID, err)
	}
	if ref == t.CalendarEventRef {
		return t
	}
	if _, err := s.docs.Update(ctx, Collection, t.ID, map[string]any{fieldCalendarEvent: nullString(ref)}); err != nil {
		s.logger.Printf("Could not store calendar event for task %s: %v", t.ID, err)
	}
	t.CalendarEventRef = ref
	s.replace(t)
	return t
}

// InitializeCalendarSync turns calendar syncing on for the cached tasks.
func (s *Store) InitializeCalendarSync(ctx context.Context) error {
	return s.calendarSession(ctx, func(c CalendarSync, tasks []model.Task) error {
		return c.Initialize(ctx, tasks)
	})
}

// RetryCalendarSync re-runs a failed calendar initialization.
func (s *Store) RetryCalendarSync(ctx context.Context) error {
	return s.calendarSession(ctx, func(c CalendarSync, tasks []model.Task) error {
		return c.Retry(ctx, tasks)
	})
}

// ToggleCalendarSync turns calendar syncing off, or on when it is off.
func (s *Store) ToggleCalendarSync(ctx context.Context) error {
	return s.calendarSession(ctx, func(c CalendarSync, tasks []model.Task) error {
		return c.Toggle(ctx, tasks)
	})
}

var errNoCalendar = errors.New("no calendar configured")

// calendarSession runs fn and stores the event references it produced. An
// engine that is not enabled has no view of unmapped tasks, so their refs are
// kept as they are.
func (s *Store) calendarSession(ctx context.Context, fn func(CalendarSync, []model.Task) error) error {
	if s.calendar == nil {
		return errNoCalendar
	}
	err := fn(s.calendar, s.Tasks())

	enabled := s.calendar.Enabled()
	refs := make(map[string]string)
	for _, t := range s.Tasks() {
		ref := s.calendar.EventRef(t.ID)
		if ref == t.CalendarEventRef || (ref == "" && !enabled) {
			continue
		}
		if _, werr := s.docs.Update(ctx, Collection, t.ID, map[string]any{fieldCalendarEvent: nullString(ref)}); werr != nil {
			s.logger.Printf("Could not store calendar event for task %s: %v", t.ID, werr)
			continue
		}
		refs[t.ID] = ref
	}
	if len(refs) == 0 {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		if ref, ok := refs[s.tasks[i].ID]; ok {
			s.tasks[i].CalendarEventRef = ref
		}
	}
	s.publishLocked()
	return err
}

func (s *Store) scheduleReminder(ctx context.Context, t model.Task) string {
	if t.Completed || !t.HasDueDate() || t.ReminderOffsetMinutes == nil {
		return ""
	}
	handle, err := s.reminders.Schedule(ctx, t, *t.ReminderOffsetMinutes)
	if err != nil {
		s.logger.Printf("Could not schedule reminder for task %q: %v", t.Title, err)
		return ""
	}
	return handle
}

func (s *Store) cancelReminder(ctx context.Context, handle string) {
	if handle == "" {
		return
	}
	if err := s.reminders.Cancel(ctx, handle); err != nil {
		s.logger.Printf("Could not cancel reminder %s: %v", handle, err)
	}
}

// replace swaps the cached copy of t. A task removed in the meantime is
// not brought back.
func (s *Store) replace(t model.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(t.ID); i >= 0 {
		s.tasks[i] = t.Clone()
		s.publishLocked()
	}
}

func (s *Store) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		s.tasks = slices.Delete(s.tasks, i, i+1)
		s.publishLocked()
	}
}

func (s *Store) indexLocked(id string) int {
	return slices.IndexFunc(s.tasks, func(t model.Task) bool { return t.ID == id })
}

func cloneTasks(tasks []model.Task) []model.Task {
	out := make([]model.Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}

func dedupe(ids []string) []string {
	var out []string
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
