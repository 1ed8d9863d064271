package calendarsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/alaap-nair/studysync/pkg/model"
)

type fakeProvider struct {
	granted   bool
	permErr   error
	calendars []Calendar
	events    map[string]EventFields
	nextID    int
	failFor   map[string]bool // task ids whose create/update fails
	found     map[string]string

	creates, updates, deletes, finds int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		granted:   true,
		calendars: []Calendar{{ID: "work", Name: "Work"}, {ID: "primary", Name: "Me", Primary: true}},
		events:    make(map[string]EventFields),
		failFor:   make(map[string]bool),
	}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) RequestPermission(context.Context) (bool, error) {
	return f.granted, f.permErr
}

func (f *fakeProvider) ListWritableCalendars(context.Context) ([]Calendar, error) {
	return f.calendars, nil
}

func (f *fakeProvider) CreateEvent(_ context.Context, calendarID string, fields EventFields) (string, error) {
	f.creates++
	if f.failFor[fields.TaskID] {
		return "", errors.New("provider unavailable")
	}
	f.nextID++
	id := fmt.Sprintf("%s-ev%d", calendarID, f.nextID)
	f.events[id] = fields
	return id, nil
}

func (f *fakeProvider) UpdateEvent(_ context.Context, _, eventID string, fields EventFields) error {
	f.updates++
	if f.failFor[fields.TaskID] {
		return errors.New("provider unavailable")
	}
	f.events[eventID] = fields
	return nil
}

func (f *fakeProvider) DeleteEvent(_ context.Context, _, eventID string) error {
	f.deletes++
	delete(f.events, eventID)
	return nil
}

func (f *fakeProvider) calls() int { return f.creates + f.updates + f.deletes + f.finds }

// findingProvider adds lookup by task id.
type findingProvider struct {
	*fakeProvider
}

func (f findingProvider) FindEvent(_ context.Context, _, taskID string) (string, error) {
	f.finds++
	return f.found[taskID], nil
}

func quietEngine(p Provider, opts ...Option) *Engine {
	opts = append(opts, WithLogger(log.New(io.Discard, "", 0)), WithLocation(time.UTC))
	return NewEngine(p, NewSession(), opts...)
}

func dueTask(id, title string, due time.Time) model.Task {
	return model.Task{
		ID:       id,
		Title:    title,
		Priority: model.PriorityHigh,
		Category: model.CategoryExam,
		DueDate:  &due,
	}
}

func TestInitializeSelectsPrimaryAndCreatesEvents(t *testing.T) {
	p := newFakeProvider()
	e := quietEngine(p)
	due := time.Date(2026, 10, 16, 23, 59, 0, 0, time.UTC)

	err := e.Initialize(context.Background(), []model.Task{
		dueTask("t1", "Midterm", due),
		{ID: "t2", Title: "No date"},
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	st := e.Session()
	if st.State != StateEnabled || !st.Enabled || !st.ProviderReady {
		t.Fatalf("expected enabled session, got %+v", st)
	}
	if st.CalendarID != "primary" {
		t.Errorf("expected primary calendar, got %q", st.CalendarID)
	}
	if p.creates != 1 {
		t.Fatalf("expected 1 create, got %d", p.creates)
	}

	ref := e.EventRef("t1")
	ev, ok := p.events[ref]
	if !ok {
		t.Fatalf("no event recorded for ref %q", ref)
	}
	wantStart := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	if !ev.Start.Equal(wantStart) || !ev.End.Equal(wantStart.Add(time.Hour)) {
		t.Errorf("expected 09:00-10:00 window, got %v - %v", ev.Start, ev.End)
	}
	if ev.Notes != "\n\nPriority: high\nCategory: exam" {
		t.Errorf("unexpected notes %q", ev.Notes)
	}
}

func TestSyncOneIsIdempotent(t *testing.T) {
	p := newFakeProvider()
	e := quietEngine(p)
	if err := e.Initialize(context.Background(), nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	task := dueTask("t1", "Essay", time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC))
	first, err := e.SyncOne(context.Background(), task)
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	before := p.calls()

	second, err := e.SyncOne(context.Background(), task)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if first != second {
		t.Errorf("expected same ref, got %q and %q", first, second)
	}
	if p.calls() != before {
		t.Errorf("expected no provider calls on the second sync, got %d", p.calls()-before)
	}
}

func TestSyncOneUpdatesOnlyWhenFieldsChange(t *testing.T) {
	p := newFakeProvider()
	e := quietEngine(p)
	if err := e.Initialize(context.Background(), nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	task := dueTask("t1", "Essay", time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC))
	ref, _ := e.SyncOne(context.Background(), task)

	task.Title = "Essay draft"
	got, err := e.SyncOne(context.Background(), task)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if got != ref {
		t.Errorf("expected ref to be kept, got %q", got)
	}
	if p.updates != 1 {
		t.Errorf("expected 1 update, got %d", p.updates)
	}
	if p.events[ref].Title != "Essay draft" {
		t.Errorf("event not updated: %+v", p.events[ref])
	}
}

func TestCompletingTaskDeletesEvent(t *testing.T) {
	p := newFakeProvider()
	e := quietEngine(p)
	if err := e.Initialize(context.Background(), nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	task := dueTask("t1", "Reading", time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC))
	if _, err := e.SyncOne(context.Background(), task); err != nil {
		t.Fatalf("sync: %v", err)
	}

	task.Completed = true
	ref, err := e.SyncOne(context.Background(), task)
	if err != nil {
		t.Fatalf("sync completed: %v", err)
	}
	if ref != "" || e.EventRef("t1") != "" {
		t.Errorf("expected cleared ref, got %q", ref)
	}
	if len(p.events) != 0 {
		t.Errorf("expected event deleted, %d left", len(p.events))
	}

	task.Completed = false
	ref, err = e.SyncOne(context.Background(), task)
	if err != nil || ref == "" {
		t.Fatalf("expected a new event after un-completing, got %q, %v", ref, err)
	}
}

func TestSyncOneUsesFinderBeforeCreating(t *testing.T) {
	base := newFakeProvider()
	base.events["primary-existing"] = EventFields{TaskID: "t1"}
	base.found = map[string]string{"t1": "primary-existing"}
	p := findingProvider{base}
	e := quietEngine(p)
	if err := e.Initialize(context.Background(), nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	ref, err := e.SyncOne(context.Background(), dueTask("t1", "Lab", time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if ref != "primary-existing" {
		t.Errorf("expected existing event, got %q", ref)
	}
	if base.creates != 0 || base.updates != 1 {
		t.Errorf("expected 0 creates and 1 update, got %d and %d", base.creates, base.updates)
	}
}

func TestPermissionDeniedDisables(t *testing.T) {
	p := newFakeProvider()
	p.granted = false
	e := quietEngine(p)

	err := e.Initialize(context.Background(), nil)
	if !errors.Is(err, model.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	st := e.Session()
	if st.State != StateDisabled || st.LastError == "" {
		t.Errorf("expected disabled with a message, got %+v", st)
	}
}

func TestNoWritableCalendarDisables(t *testing.T) {
	p := newFakeProvider()
	p.calendars = nil
	e := quietEngine(p)

	if err := e.Initialize(context.Background(), nil); !errors.Is(err, ErrNoCalendar) {
		t.Fatalf("expected ErrNoCalendar, got %v", err)
	}
	if e.Session().State != StateDisabled {
		t.Errorf("expected disabled, got %s", e.Session().State)
	}
}

func TestPartialReconciliationThenRetry(t *testing.T) {
	p := newFakeProvider()
	p.failFor["t2"] = true
	e := quietEngine(p)
	due := time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)
	tasks := []model.Task{dueTask("t1", "A", due), dueTask("t2", "B", due), dueTask("t3", "C", due)}

	err := e.Initialize(context.Background(), tasks)
	if !errors.Is(err, model.ErrPartialReconciliation) {
		t.Fatalf("expected ErrPartialReconciliation, got %v", err)
	}
	st := e.Session()
	if st.State != StateErrorRetrying {
		t.Fatalf("expected error_retrying, got %s", st.State)
	}
	if st.LastError != "1 of 3 tasks failed to sync with calendar. Try again." {
		t.Errorf("unexpected message %q", st.LastError)
	}
	if e.EventRef("t1") == "" || e.EventRef("t3") == "" {
		t.Errorf("successful tasks should stay mapped")
	}

	delete(p.failFor, "t2")
	if err := e.Retry(context.Background(), tasks); err != nil {
		t.Fatalf("retry: %v", err)
	}
	st = e.Session()
	if st.State != StateEnabled || st.Retrying || st.LastError != "" {
		t.Errorf("expected clean enabled session, got %+v", st)
	}
	if p.creates != 4 {
		t.Errorf("expected only the failed task to be created again, got %d creates", p.creates)
	}
}

func TestRetryOnlyFromErrorRetrying(t *testing.T) {
	p := newFakeProvider()
	e := quietEngine(p)
	if err := e.Initialize(context.Background(), nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if err := e.Retry(context.Background(), nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if e.Session().State != StateEnabled {
		t.Errorf("state changed to %s", e.Session().State)
	}
}

func TestSyncFailureMovesToErrorRetrying(t *testing.T) {
	p := newFakeProvider()
	p.failFor["t1"] = true
	e := quietEngine(p)
	if err := e.Initialize(context.Background(), nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if _, err := e.SyncOne(context.Background(), dueTask("t1", "X", time.Now())); err == nil {
		t.Fatalf("expected sync error")
	}
	if e.Session().State != StateErrorRetrying {
		t.Errorf("expected error_retrying, got %s", e.Session().State)
	}
	if _, err := e.SyncOne(context.Background(), dueTask("t4", "Y", time.Now())); !errors.Is(err, ErrNotEnabled) {
		t.Errorf("expected ErrNotEnabled while failing, got %v", err)
	}
}

func TestToggle(t *testing.T) {
	p := newFakeProvider()
	e := quietEngine(p)
	due := time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)
	tasks := []model.Task{dueTask("t1", "A", due)}

	if err := e.Toggle(context.Background(), tasks); err != nil {
		t.Fatalf("toggle on: %v", err)
	}
	if !e.Enabled() {
		t.Fatalf("expected enabled")
	}
	if err := e.Toggle(context.Background(), tasks); err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if e.Enabled() {
		t.Fatalf("expected disabled")
	}
	if len(p.events) != 1 {
		t.Errorf("events should be kept when disabling, got %d", len(p.events))
	}
}

func TestReleaseDeletesMappedEvent(t *testing.T) {
	p := newFakeProvider()
	e := quietEngine(p)
	if err := e.Initialize(context.Background(), []model.Task{dueTask("t1", "A", time.Now())}); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if err := e.Release(context.Background(), "t1", e.EventRef("t1")); err != nil {
		t.Fatalf("release: %v", err)
	}
	if e.EventRef("t1") != "" || len(p.events) != 0 {
		t.Errorf("expected event released")
	}
	if err := e.Release(context.Background(), "t1", ""); err != nil {
		t.Errorf("second release should be a no-op, got %v", err)
	}
	if p.deletes != 1 {
		t.Errorf("expected one delete, got %d", p.deletes)
	}
}

func TestReleaseFallsBackToPersistedRef(t *testing.T) {
	p := newFakeProvider()
	p.events["primary-ev9"] = EventFields{TaskID: "t1"}
	e := quietEngine(p)

	if err := e.Release(context.Background(), "t1", "primary-ev9"); !errors.Is(err, ErrNoCalendar) {
		t.Fatalf("expected ErrNoCalendar before a calendar is selected, got %v", err)
	}
	if err := e.Initialize(context.Background(), nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := e.Release(context.Background(), "t1", "primary-ev9"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok := p.events["primary-ev9"]; ok {
		t.Errorf("expected the persisted event deleted")
	}
}

func TestInitializeAdoptsPersistedRefs(t *testing.T) {
	p := newFakeProvider()
	p.events["primary-ev7"] = EventFields{TaskID: "done"}
	p.events["primary-ev8"] = EventFields{TaskID: "open", Title: "Old title"}

	done := dueTask("done", "Finished", time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC))
	done.Completed = true
	done.CalendarEventRef = "primary-ev7"
	open := dueTask("open", "Essay", time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC))
	open.CalendarEventRef = "primary-ev8"

	e := quietEngine(p)
	if err := e.Initialize(context.Background(), []model.Task{done, open}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, ok := p.events["primary-ev7"]; ok {
		t.Errorf("expected the completed task's event deleted")
	}
	if p.creates != 0 || p.updates != 1 {
		t.Errorf("expected the open task's event updated in place, got %d creates %d updates", p.creates, p.updates)
	}
	if got := p.events["primary-ev8"].Title; got != "Essay" {
		t.Errorf("expected updated title, got %q", got)
	}
	if e.EventRef("open") != "primary-ev8" || e.EventRef("done") != "" {
		t.Errorf("unexpected refs %q %q", e.EventRef("open"), e.EventRef("done"))
	}
}

func TestWindowIsConfigurable(t *testing.T) {
	p := newFakeProvider()
	e := quietEngine(p, WithWindow(Window{StartHour: 14, StartMinute: 30, Duration: 30 * time.Minute}))
	if err := e.Initialize(context.Background(), nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	ref, err := e.SyncOne(context.Background(), dueTask("t1", "A", time.Date(2026, 11, 2, 8, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	want := time.Date(2026, 11, 2, 14, 30, 0, 0, time.UTC)
	if ev := p.events[ref]; !ev.Start.Equal(want) || ev.End.Sub(ev.Start) != 30*time.Minute {
		t.Errorf("unexpected window %v - %v", ev.Start, ev.End)
	}
}

func TestDisposedSessionRejectsInitialize(t *testing.T) {
	s := NewSession()
	e := NewEngine(newFakeProvider(), s, WithLogger(log.New(io.Discard, "", 0)))
	s.Dispose()

	if err := e.Initialize(context.Background(), nil); !errors.Is(err, ErrSessionDisposed) {
		t.Fatalf("expected ErrSessionDisposed, got %v", err)
	}
	s.Init()
	if err := e.Initialize(context.Background(), nil); err != nil {
		t.Fatalf("initialize after Init: %v", err)
	}
}
