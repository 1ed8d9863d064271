package google

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/alaap-nair/studysync/pkg/calendarsync"
	"github.com/alaap-nair/studysync/pkg/model"
)

func newTestProvider(t *testing.T, mux *http.ServeMux, calendarName string) *Provider {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	p, err := NewClient(context.Background(), server.Client(), calendarName, log.New(io.Discard, "", 0),
		option.WithEndpoint(server.URL+"/"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return p
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func calendarList() *calendar.CalendarList {
	return &calendar.CalendarList{Items: []*calendar.CalendarListEntry{
		{Id: "school@group", Summary: "School"},
		{Id: "me@example.com", Summary: "Me", Primary: true},
	}}
}

func sampleFields() calendarsync.EventFields {
	start := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	return calendarsync.EventFields{
		TaskID:   "task-1",
		Title:    "Midterm",
		Notes:    "Bring calculator\n\nPriority: high\nCategory: exam",
		Start:    start,
		End:      start.Add(time.Hour),
		Category: model.CategoryExam,
	}
}

func TestToEvent(t *testing.T) {
	event := toEvent(sampleFields())

	if event.ExtendedProperties == nil || event.ExtendedProperties.Private == nil {
		t.Fatal("ExtendedProperties or Private map is nil")
	}
	if val := event.ExtendedProperties.Private[taskIDProperty]; val != "task-1" {
		t.Errorf("Expected %s task-1, got %v", taskIDProperty, val)
	}
	if event.ColorId != "11" {
		t.Errorf("Expected exam colour 11, got %s", event.ColorId)
	}
	if event.Start.DateTime != "2026-10-16T09:00:00Z" || event.End.DateTime != "2026-10-16T10:00:00Z" {
		t.Errorf("Unexpected window %s - %s", event.Start.DateTime, event.End.DateTime)
	}
	if event.Start.TimeZone != "UTC" {
		t.Errorf("Expected UTC time zone, got %q", event.Start.TimeZone)
	}
}

func TestEventPatchOnlyChangedFields(t *testing.T) {
	existing := toEvent(sampleFields())
	if patch, err := eventPatch(existing, toEvent(sampleFields())); err != nil || patch != nil {
		t.Fatalf("expected no patch for identical events, got %+v, %v", patch, err)
	}

	f := sampleFields()
	f.Title = "Midterm (room 4)"
	patch, err := eventPatch(existing, toEvent(f))
	if err != nil {
		t.Fatalf("eventPatch: %v", err)
	}
	if patch == nil || patch.Summary != "Midterm (room 4)" {
		t.Fatalf("expected summary patch, got %+v", patch)
	}
	if patch.Start != nil || patch.Description != "" || patch.ColorId != "" {
		t.Errorf("patch carries unchanged fields: %+v", patch)
	}
}

func TestListWritableCalendars(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/me/calendarList", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("minAccessRole"); got != "writer" {
			t.Errorf("expected minAccessRole=writer, got %q", got)
		}
		writeJSON(w, calendarList())
	})

	cals, err := newTestProvider(t, mux, "").ListWritableCalendars(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(cals) != 2 || !cals[1].Primary {
		t.Errorf("unexpected calendars %+v", cals)
	}

	cals, err = newTestProvider(t, mux, "School").ListWritableCalendars(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(cals) != 1 || cals[0].ID != "school@group" || !cals[0].Primary {
		t.Errorf("expected only the configured calendar, got %+v", cals)
	}

	cals, err = newTestProvider(t, mux, "Missing").ListWritableCalendars(context.Background())
	if err != nil || len(cals) != 0 {
		t.Errorf("expected no calendars for an unknown name, got %+v, %v", cals, err)
	}
}

func TestRequestPermissionDenied(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/me/calendarList", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"insufficient scopes"}}`, http.StatusForbidden)
	})

	granted, err := newTestProvider(t, mux, "").RequestPermission(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if granted {
		t.Errorf("expected permission to be refused")
	}
}

func TestCreateAndDeleteEvent(t *testing.T) {
	var inserted calendar.Event
	mux := http.NewServeMux()
	mux.HandleFunc("POST /calendars/{cal}/events", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&inserted); err != nil {
			t.Errorf("decode: %v", err)
		}
		inserted.Id = "ev1"
		writeJSON(w, &inserted)
	})
	mux.HandleFunc("DELETE /calendars/{cal}/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":410,"message":"Resource has been deleted"}}`, http.StatusGone)
	})
	p := newTestProvider(t, mux, "")

	id, err := p.CreateEvent(context.Background(), "me@example.com", sampleFields())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "ev1" || inserted.Summary != "Midterm" {
		t.Errorf("unexpected insert %q %+v", id, inserted)
	}

	if err := p.DeleteEvent(context.Background(), "me@example.com", "ev1"); err != nil {
		t.Errorf("deleting a gone event should succeed, got %v", err)
	}
}

func TestUpdateEventSkipsUnchanged(t *testing.T) {
	patched := 0
	mux := http.NewServeMux()
	mux.HandleFunc("GET /calendars/{cal}/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		ev := toEvent(sampleFields())
		ev.Id = r.PathValue("id")
		writeJSON(w, ev)
	})
	mux.HandleFunc("PATCH /calendars/{cal}/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		patched++
		var ev calendar.Event
		json.NewDecoder(r.Body).Decode(&ev)
		ev.Id = r.PathValue("id")
		writeJSON(w, &ev)
	})
	p := newTestProvider(t, mux, "")

	if err := p.UpdateEvent(context.Background(), "me@example.com", "ev1", sampleFields()); err != nil {
		t.Fatalf("update: %v", err)
	}
	if patched != 0 {
		t.Errorf("expected no patch for an up to date event, got %d", patched)
	}

	f := sampleFields()
	f.Notes = "changed"
	if err := p.UpdateEvent(context.Background(), "me@example.com", "ev1", f); err != nil {
		t.Fatalf("update: %v", err)
	}
	if patched != 1 {
		t.Errorf("expected 1 patch, got %d", patched)
	}
}

func TestFindEvent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /calendars/{cal}/events", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("privateExtendedProperty"); got != taskIDProperty+"=task-1" {
			writeJSON(w, &calendar.Events{})
			return
		}
		writeJSON(w, &calendar.Events{Items: []*calendar.Event{{Id: "ev9"}}})
	})
	p := newTestProvider(t, mux, "")

	id, err := p.FindEvent(context.Background(), "me@example.com", "task-1")
	if err != nil || id != "ev9" {
		t.Errorf("expected ev9, got %q, %v", id, err)
	}
	id, err = p.FindEvent(context.Background(), "me@example.com", "task-2")
	if err != nil || id != "" {
		t.Errorf("expected no event, got %q, %v", id, err)
	}
}
