package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alaap-nair/studysync/pkg/model"
)

const dueLayout = "2006-01-02"

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List and edit tasks",
}

var (
	tasksWithCalendar bool
	listSubject       string

	addDescription string
	addPriority    string
	addCategory    string
	addSubject     string
	addDue         string
	addRemind      int
	addNotes       []string
)

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appOptions{calendar: tasksWithCalendar})
		if err != nil {
			return err
		}
		defer a.Close()

		tasks := a.store.Tasks()
		if listSubject != "" {
			tasks = a.store.BySubject(listSubject)
		}
		printTasks(cmd.OutOrStdout(), tasks)
		return nil
	},
}

var tasksAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := model.TaskInput{
			Title:         strings.Join(args, " "),
			Description:   addDescription,
			Priority:      model.Priority(addPriority),
			Category:      model.Category(addCategory),
			SubjectID:     addSubject,
			LinkedNoteIDs: addNotes,
		}
		if addDue != "" {
			due, err := parseDue(addDue)
			if err != nil {
				return err
			}
			in.DueDate = &due
		}
		if cmd.Flags().Changed("remind") {
			in.ReminderOffsetMinutes = &addRemind
		}
		if err := in.Validate(); err != nil {
			return err
		}

		a, err := openApp(cmd.Context(), appOptions{calendar: tasksWithCalendar})
		if err != nil {
			return err
		}
		defer a.Close()

		task, err := a.store.Add(cmd.Context(), in)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added %s\n", task.ID)
		return nil
	},
}

var tasksDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Toggle a task's completion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appOptions{calendar: tasksWithCalendar})
		if err != nil {
			return err
		}
		defer a.Close()

		task, err := a.store.ToggleCompletion(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printTasks(cmd.OutOrStdout(), []model.Task{task})
		return nil
	},
}

var tasksDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appOptions{calendar: tasksWithCalendar})
		if err != nil {
			return err
		}
		defer a.Close()

		existed, err := a.store.Delete(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !existed {
			fmt.Fprintf(cmd.OutOrStdout(), "Task %s was already gone\n", args[0])
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}

var tasksLinkCmd = &cobra.Command{
	Use:   "link <task-id> <note-id>",
	Short: "Link a note to a task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		task, err := a.store.LinkNote(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s notes: %s\n", task.ID, strings.Join(task.LinkedNoteIDs, ", "))
		return nil
	},
}

var tasksUnlinkCmd = &cobra.Command{
	Use:   "unlink <task-id> <note-id>",
	Short: "Unlink a note from a task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		task, err := a.store.UnlinkNote(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s notes: %s\n", task.ID, strings.Join(task.LinkedNoteIDs, ", "))
		return nil
	},
}

func init() {
	tasksCmd.PersistentFlags().BoolVar(&tasksWithCalendar, "sync-calendar", false, "Propagate changes to Google Calendar")
	tasksListCmd.Flags().StringVar(&listSubject, "subject", "", "Only tasks for this subject id")

	f := tasksAddCmd.Flags()
	f.StringVarP(&addDescription, "description", "d", "", "Task description")
	f.StringVarP(&addPriority, "priority", "p", "", "high, medium or low (default medium)")
	f.StringVarP(&addCategory, "category", "c", "", "study, assignment, exam, reading, project or other")
	f.StringVar(&addSubject, "subject", "", "Subject id")
	f.StringVar(&addDue, "due", "", "Due date (YYYY-MM-DD)")
	f.IntVar(&addRemind, "remind", 0, "Reminder offset in minutes before the due date")
	f.StringSliceVar(&addNotes, "note", nil, "Linked note id (repeatable)")

	tasksCmd.AddCommand(tasksListCmd, tasksAddCmd, tasksDoneCmd, tasksDeleteCmd, tasksLinkCmd, tasksUnlinkCmd)
	rootCmd.AddCommand(tasksCmd)
}

// parseDue reads a calendar date in the configured time zone.
func parseDue(s string) (time.Time, error) {
	loc := time.Local
	if cfg != nil {
		loc = cfg.Location()
	}
	due, err := time.ParseInLocation(dueLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: due date %q is not YYYY-MM-DD", model.ErrValidation, s)
	}
	return due, nil
}

func printTasks(w io.Writer, tasks []model.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No tasks.")
		return
	}
	for _, t := range tasks {
		mark := " "
		if t.Completed {
			mark = "x"
		}
		due := "-"
		if t.HasDueDate() {
			due = t.DueDate.Format(dueLayout)
		}
		fmt.Fprintf(w, "[%s] %-20s %-10s %-6s %-10s %s", mark, t.ID, t.Category, t.Priority, due, t.Title)
		if t.ReminderOffsetMinutes != nil {
			fmt.Fprintf(w, " (remind %dm before)", *t.ReminderOffsetMinutes)
		}
		fmt.Fprintln(w)
	}
}
