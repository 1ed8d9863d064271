package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alaap-nair/studysync/pkg/calendarsync"
	"github.com/alaap-nair/studysync/pkg/model"
	"github.com/alaap-nair/studysync/pkg/summary"
)

func TestSummaryOptions(t *testing.T) {
	opts, err := summaryOptions("exam", "high", "week", false, true)
	if err != nil {
		t.Fatalf("summaryOptions: %v", err)
	}
	if opts.Category != model.CategoryExam || opts.Priority != model.PriorityHigh || opts.Timeframe != summary.Week {
		t.Errorf("unexpected options %+v", opts)
	}
	if opts.Completed == nil || *opts.Completed {
		t.Errorf("--pending should filter to open tasks, got %v", opts.Completed)
	}

	all, err := summaryOptions("", "", "", false, false)
	if err != nil || all.Completed != nil {
		t.Errorf("expected no completion filter, got %+v, %v", all, err)
	}

	bad := []struct{ category, priority, timeframe string }{
		{"chores", "", ""},
		{"", "urgent", ""},
		{"", "", "year"},
	}
	for _, b := range bad {
		if _, err := summaryOptions(b.category, b.priority, b.timeframe, false, false); !errors.Is(err, model.ErrValidation) {
			t.Errorf("summaryOptions(%+v): expected validation error, got %v", b, err)
		}
	}
	if _, err := summaryOptions("", "", "", true, true); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected --done with --pending to be rejected, got %v", err)
	}
}

func TestParseDue(t *testing.T) {
	due, err := parseDue("2026-10-16")
	if err != nil {
		t.Fatalf("parseDue: %v", err)
	}
	if due.Year() != 2026 || due.Month() != time.October || due.Day() != 16 {
		t.Errorf("unexpected date %v", due)
	}
	if _, err := parseDue("16/10/2026"); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestPrintTasks(t *testing.T) {
	var buf bytes.Buffer
	printTasks(&buf, nil)
	if buf.String() != "No tasks.\n" {
		t.Errorf("unexpected empty output %q", buf.String())
	}

	buf.Reset()
	due := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	remind := 30
	printTasks(&buf, []model.Task{{
		ID: "t1", Title: "Midterm", Completed: true, Priority: model.PriorityHigh,
		Category: model.CategoryExam, DueDate: &due, ReminderOffsetMinutes: &remind,
	}})
	out := buf.String()
	for _, want := range []string{"[x]", "t1", "2026-10-16", "Midterm", "remind 30m before"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestPrintSession(t *testing.T) {
	var buf bytes.Buffer
	printSession(&buf, calendarsync.SessionState{
		State:      calendarsync.StateErrorRetrying,
		Provider:   "Google Calendar",
		CalendarID: "me@example.com",
		LastError:  "1 of 3 tasks failed to sync with calendar. Try again.",
	})
	want := "Calendar sync: error_retrying (Google Calendar, calendar me@example.com)\n  1 of 3 tasks failed to sync with calendar. Try again.\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}
