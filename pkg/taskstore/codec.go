package taskstore

import (
	"github.com/alaap-nair/studysync/pkg/docstore"
	"github.com/alaap-nair/studysync/pkg/model"
)

// Collection is the document collection tasks are stored in.
const Collection = "tasks"

// Document field names.
const (
	fieldTitle          = "title"
	fieldDescription    = "description"
	fieldCompleted      = "completed"
	fieldPriority       = "priority"
	fieldCategory       = "category"
	fieldSubjectID      = "subjectId"
	fieldDueDate        = "dueDate"
	fieldReminderTime   = "reminderTime"
	fieldNotificationID = "notificationId"
	fieldNoteIDs        = "noteIds"
	fieldCalendarEvent  = "calendarEventId"
	fieldCreatedAt      = "createdAt"
	fieldUpdatedAt      = "updatedAt"
)

// encodeNew builds the document for a task that has not been stored yet.
func encodeNew(t model.Task) map[string]any {
	data := encodeFields(t)
	data[fieldCreatedAt] = docstore.ServerTimestamp
	return data
}

// encodeFields returns every mutable field of t.
func encodeFields(t model.Task) map[string]any {
	noteIDs := make([]any, 0, len(t.LinkedNoteIDs))
	for _, id := range t.LinkedNoteIDs {
		noteIDs = append(noteIDs, id)
	}
	return map[string]any{
		fieldTitle:          t.Title,
		fieldDescription:    t.Description,
		fieldCompleted:      t.Completed,
		fieldPriority:       string(t.Priority),
		fieldCategory:       string(t.Category),
		fieldSubjectID:      nullString(t.SubjectID),
		fieldDueDate:        nullTime(t),
		fieldReminderTime:   nullInt(t.ReminderOffsetMinutes),
		fieldNotificationID: nullString(t.ReminderHandle),
		fieldNoteIDs:        noteIDs,
		fieldCalendarEvent:  nullString(t.CalendarEventRef),
		fieldUpdatedAt:      docstore.ServerTimestamp,
	}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t model.Task) any {
	if !t.HasDueDate() {
		return nil
	}
	return *t.DueDate
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}

// decode maps a stored document to a task. Unknown enum values fall back to
// the defaults.
func decode(doc docstore.Document) model.Task {
	t := model.Task{
		ID:               doc.ID,
		Title:            stringField(doc, fieldTitle),
		Description:      stringField(doc, fieldDescription),
		Priority:         model.Priority(stringField(doc, fieldPriority)),
		Category:         model.Category(stringField(doc, fieldCategory)),
		SubjectID:        stringField(doc, fieldSubjectID),
		ReminderHandle:   stringField(doc, fieldNotificationID),
		CalendarEventRef: stringField(doc, fieldCalendarEvent),
	}
	if !t.Priority.Valid() {
		t.Priority = model.PriorityMedium
	}
	if !t.Category.Valid() {
		t.Category = model.CategoryOther
	}
	if v, ok := doc.Data[fieldCompleted].(bool); ok {
		t.Completed = v
	}
	if due, ok := docstore.Time(doc.Data[fieldDueDate]); ok {
		t.DueDate = &due
	}
	if m, ok := intField(doc.Data[fieldReminderTime]); ok && m >= 0 {
		t.ReminderOffsetMinutes = &m
	}
	switch ids := doc.Data[fieldNoteIDs].(type) {
	case []any:
		for _, id := range ids {
			if s, ok := id.(string); ok && s != "" {
				t.LinkedNoteIDs = append(t.LinkedNoteIDs, s)
			}
		}
	case []string:
		t.LinkedNoteIDs = append(t.LinkedNoteIDs, ids...)
	}
	if c, ok := docstore.Time(doc.Data[fieldCreatedAt]); ok {
		t.CreatedAt = c
	}
	if u, ok := docstore.Time(doc.Data[fieldUpdatedAt]); ok {
		t.UpdatedAt = u
	}
	return t
}

func stringField(doc docstore.Document, name string) string {
	s, _ := doc.Data[name].(string)
	return s
}

func intField(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
