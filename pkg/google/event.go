package google

import (
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/alaap-nair/studysync/pkg/calendarsync"
	"github.com/alaap-nair/studysync/pkg/model"
)

// taskIDProperty is the private extended property events are tagged with.
const taskIDProperty = "studysync_task_id"

// Google Calendar event colour ids.
var categoryColors = map[model.Category]string{
	model.CategoryStudy:      "9",  // Blueberry
	model.CategoryAssignment: "6",  // Tangerine
	model.CategoryExam:       "11", // Tomato
	model.CategoryReading:    "2",  // Sage
	model.CategoryProject:    "3",  // Grape
	model.CategoryOther:      "8",  // Graphite
}

// ColorID returns the event colour for a category.
func ColorID(c model.Category) string {
	if id, ok := categoryColors[c]; ok {
		return id
	}
	return categoryColors[model.CategoryOther]
}

// toEvent converts sync fields to a calendar event.
func toEvent(f calendarsync.EventFields) *calendar.Event {
	return &calendar.Event{
		Summary:     f.Title,
		Description: f.Notes,
		ColorId:     ColorID(f.Category),
		Start:       eventTime(f.Start),
		End:         eventTime(f.End),
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{
				taskIDProperty: f.TaskID,
			},
		},
	}
}

func eventTime(t time.Time) *calendar.EventDateTime {
	dt := &calendar.EventDateTime{DateTime: t.Format(time.RFC3339)}
	if name := t.Location().String(); name != "Local" && name != "" {
		dt.TimeZone = name
	}
	return dt
}

// eventPatch returns the fields of target that differ from existing, or nil
// when the event is already up to date.
func eventPatch(existing, target *calendar.Event) (*calendar.Event, error) {
	patch := &calendar.Event{}
	needsUpdate := false

	if existing.Summary != target.Summary {
		patch.Summary = target.Summary
		needsUpdate = true
	}
	if existing.Description != target.Description {
		patch.Description = target.Description
		needsUpdate = true
	}
	if existing.ColorId != target.ColorId {
		patch.ColorId = target.ColorId
		needsUpdate = true
	}

	sameStart, err := sameTime(existing.Start, target.Start)
	if err != nil {
		return nil, err
	}
	sameEnd, err := sameTime(existing.End, target.End)
	if err != nil {
		return nil, err
	}
	if !sameStart || !sameEnd {
		patch.Start = target.Start
		patch.End = target.End
		needsUpdate = true
	}

	if existing.ExtendedProperties == nil || existing.ExtendedProperties.Private[taskIDProperty] != target.ExtendedProperties.Private[taskIDProperty] {
		patch.ExtendedProperties = target.ExtendedProperties
		needsUpdate = true
	}

	if needsUpdate {
		return patch, nil
	}
	return nil, nil
}

func sameTime(a, b *calendar.EventDateTime) (bool, error) {
	if a == nil || b == nil || a.DateTime == "" || b.DateTime == "" {
		return a == nil && b == nil, nil
	}
	at, err := time.Parse(time.RFC3339, a.DateTime)
	if err != nil {
		return false, fmt.Errorf("parsing event time %q: %w", a.DateTime, err)
	}
	bt, err := time.Parse(time.RFC3339, b.DateTime)
	if err != nil {
		return false, fmt.Errorf("parsing event time %q: %w", b.DateTime, err)
	}
	return at.Equal(bt), nil
}
