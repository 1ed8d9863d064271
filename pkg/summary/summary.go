// Package summary renders a plain-text digest of tasks grouped by category.
package summary

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/alaap-nair/studysync/pkg/model"
)

// Timeframe limits the summary to tasks due within a window around now.
type Timeframe string

const (
	All   Timeframe = "all"
	Today Timeframe = "today"
	Week  Timeframe = "week"
	Month Timeframe = "month"
)

// NoMatches is returned when no task passes the filters.
const NoMatches = "No tasks match the selected filters."

const dateLayout = "Mon Jan 2, 2006"

// Options are conjunctive filters. Zero values match everything.
type Options struct {
	Category  model.Category
	Priority  model.Priority
	Completed *bool
	Timeframe Timeframe
}

// Summarize renders tasks as of time.Now.
func Summarize(tasks []model.Task, opts Options) string {
	return SummarizeAt(tasks, opts, time.Now())
}

// SummarizeAt renders tasks with timeframe windows computed from now, in
// now's location.
func SummarizeAt(tasks []model.Task, opts Options, now time.Time) string {
	start, end, windowed := window(opts.Timeframe, now)

	groups := make(map[model.Category][]model.Task)
	for _, t := range tasks {
		if opts.Category != "" && t.Category != opts.Category {
			continue
		}
		if opts.Priority != "" && t.Priority != opts.Priority {
			continue
		}
		if opts.Completed != nil && t.Completed != *opts.Completed {
			continue
		}
		if windowed {
			if !t.HasDueDate() || t.DueDate.Before(start) || !t.DueDate.Before(end) {
				continue
			}
		}
		groups[t.Category] = append(groups[t.Category], t)
	}
	if len(groups) == 0 {
		return NoMatches
	}

	categories := make([]model.Category, 0, len(groups))
	for c := range groups {
		categories = append(categories, c)
	}
	slices.SortFunc(categories, func(a, b model.Category) int {
		return cmp.Or(cmp.Compare(a.Rank(), b.Rank()), strings.Compare(string(a), string(b)))
	})

	var b strings.Builder
	for i, c := range categories {
		group := groups[c]
		slices.SortFunc(group, compareTasks)
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s (%d)\n", heading(c), len(group))
		for _, t := range group {
			b.WriteString(line(t, now.Location()))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func window(tf Timeframe, now time.Time) (start, end time.Time, ok bool) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch tf {
	case Today:
		return midnight, midnight.AddDate(0, 0, 1), true
	case Week:
		return midnight, midnight.AddDate(0, 0, 7), true
	case Month:
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return first, first.AddDate(0, 1, 0), true
	}
	return time.Time{}, time.Time{}, false
}

// compareTasks orders by priority, then due date with undated tasks last,
// then title and id.
func compareTasks(a, b model.Task) int {
	if c := cmp.Compare(a.Priority.Rank(), b.Priority.Rank()); c != 0 {
		return c
	}
	switch {
	case a.HasDueDate() && b.HasDueDate():
		if c := a.DueDate.Compare(*b.DueDate); c != 0 {
			return c
		}
	case a.HasDueDate():
		return -1
	case b.HasDueDate():
		return 1
	}
	return cmp.Or(strings.Compare(a.Title, b.Title), strings.Compare(a.ID, b.ID))
}

func heading(c model.Category) string {
	if c == "" {
		return "Uncategorized"
	}
	s := string(c)
	return strings.ToUpper(s[:1]) + s[1:]
}

func line(t model.Task, loc *time.Location) string {
	status := "○"
	if t.Completed {
		status = "✓"
	}
	due := "no due date"
	if t.HasDueDate() {
		due = "due " + t.DueDate.In(loc).Format(dateLayout)
	}
	return fmt.Sprintf("%s %s %s — %s", status, priorityGlyph(t.Priority), t.Title, due)
}

func priorityGlyph(p model.Priority) string {
	switch p {
	case model.PriorityHigh:
		return "🔴"
	case model.PriorityLow:
		return "🟢"
	default:
		return "🟡"
	}
}
