package model

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Priority is the urgency of a task.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Priorities lists the priorities from most to least urgent.
var Priorities = []Priority{PriorityHigh, PriorityMedium, PriorityLow}

// Rank orders priorities for sorting: high is 0, low is 2, unknown sorts last.
func (p Priority) Rank() int {
	if i := slices.Index(Priorities, p); i >= 0 {
		return i
	}
	return len(Priorities)
}

func (p Priority) Valid() bool {
	return slices.Contains(Priorities, p)
}

// Category classifies what kind of work a task is.
type Category string

const (
	CategoryStudy      Category = "study"
	CategoryAssignment Category = "assignment"
	CategoryExam       Category = "exam"
	CategoryReading    Category = "reading"
	CategoryProject    Category = "project"
	CategoryOther      Category = "other"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryStudy,
	CategoryAssignment,
	CategoryExam,
	CategoryReading,
	CategoryProject,
	CategoryOther,
}

func (c Category) Valid() bool {
	return slices.Contains(Categories, c)
}

// Rank is the display position of the category; unknown categories sort last.
func (c Category) Rank() int {
	if i := slices.Index(Categories, c); i >= 0 {
		return i
	}
	return len(Categories)
}

// Task is the cached mirror of one document in the tasks collection.
type Task struct {
	ID          string
	Title       string
	Description string
	Completed   bool
	Priority    Priority
	Category    Category
	SubjectID   string
	DueDate     *time.Time
	// ReminderOffsetMinutes is how long before DueDate the reminder fires.
	ReminderOffsetMinutes *int
	// ReminderHandle is the scheduler-assigned id of the active reminder, or "".
	ReminderHandle string
	LinkedNoteIDs  []string
	// CalendarEventRef is the provider event id of the synced event, or "".
	CalendarEventRef string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasDueDate reports whether the task has a usable due date.
func (t Task) HasDueDate() bool {
	return t.DueDate != nil && !t.DueDate.IsZero()
}

// HasNote reports whether noteID is linked to the task.
func (t Task) HasNote(noteID string) bool {
	return slices.Contains(t.LinkedNoteIDs, noteID)
}

// Clone returns a deep copy so snapshots never share mutable state with the cache.
func (t Task) Clone() Task {
	c := t
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	if t.ReminderOffsetMinutes != nil {
		m := *t.ReminderOffsetMinutes
		c.ReminderOffsetMinutes = &m
	}
	if t.LinkedNoteIDs != nil {
		c.LinkedNoteIDs = slices.Clone(t.LinkedNoteIDs)
	}
	return c
}

// TaskInput carries the caller-supplied fields of a new task.
type TaskInput struct {
	Title                 string
	Description           string
	Priority              Priority
	Category              Category
	SubjectID             string
	DueDate               *time.Time
	ReminderOffsetMinutes *int
	LinkedNoteIDs         []string
}

// Normalize trims the title and fills enum defaults.
func (in TaskInput) Normalize() TaskInput {
	in.Title = strings.TrimSpace(in.Title)
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if in.Category == "" {
		in.Category = CategoryOther
	}
	return in
}

// Validate rejects input before any remote call is made.
func (in TaskInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: title must not be empty", ErrValidation)
	}
	if in.Priority != "" && !in.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrValidation, in.Priority)
	}
	if in.Category != "" && !in.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrValidation, in.Category)
	}
	if in.ReminderOffsetMinutes != nil && *in.ReminderOffsetMinutes < 0 {
		return fmt.Errorf("%w: reminder offset must be non-negative", ErrValidation)
	}
	return nil
}

// TaskPatch is a partial update. Nil fields are left unchanged.
// ClearDueDate and ClearReminder take precedence over the matching value field.
type TaskPatch struct {
	Title                 *string
	Description           *string
	Completed             *bool
	Priority              *Priority
	Category              *Category
	SubjectID             *string
	DueDate               *time.Time
	ClearDueDate          bool
	ReminderOffsetMinutes *int
	ClearReminder         bool
}

func (p TaskPatch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return fmt.Errorf("%w: title must not be empty", ErrValidation)
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrValidation, *p.Priority)
	}
	if p.Category != nil && !p.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrValidation, *p.Category)
	}
	if p.ReminderOffsetMinutes != nil && *p.ReminderOffsetMinutes < 0 {
		return fmt.Errorf("%w: reminder offset must be non-negative", ErrValidation)
	}
	return nil
}

// Apply returns a copy of t with the patch applied.
func (p TaskPatch) Apply(t Task) Task {
	out := t.Clone()
	if p.Title != nil {
		out.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Completed != nil {
		out.Completed = *p.Completed
	}
	if p.Priority != nil {
		out.Priority = *p.Priority
	}
	if p.Category != nil {
		out.Category = *p.Category
	}
	if p.SubjectID != nil {
		out.SubjectID = *p.SubjectID
	}
	if p.ClearDueDate {
		out.DueDate = nil
	} else if p.DueDate != nil {
		d := *p.DueDate
		out.DueDate = &d
	}
	if p.ClearReminder {
		out.ReminderOffsetMinutes = nil
	} else if p.ReminderOffsetMinutes != nil {
		m := *p.ReminderOffsetMinutes
		out.ReminderOffsetMinutes = &m
	}
	return out
}

// TouchesReminder reports whether applying the patch can change when the
// task's reminder should fire.
func (p TaskPatch) TouchesReminder() bool {
	return p.DueDate != nil || p.ClearDueDate || p.ReminderOffsetMinutes != nil ||
		p.ClearReminder || p.Completed != nil
}
