package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/alaap-nair/studysync/pkg/feed"
	"github.com/alaap-nair/studysync/pkg/model"
	"github.com/alaap-nair/studysync/pkg/summary"
)

var (
	summaryCategory  string
	summaryPriority  string
	summaryTimeframe string
	summaryDone      bool
	summaryPending   bool
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print tasks grouped by category",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := summaryOptions(summaryCategory, summaryPriority, summaryTimeframe, summaryDone, summaryPending)
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context(), appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Fprintln(cmd.OutOrStdout(), summary.Summarize(a.store.Tasks(), opts))
		return nil
	},
}

func summaryOptions(category, priority, timeframe string, done, pending bool) (summary.Options, error) {
	opts := summary.Options{
		Category:  model.Category(category),
		Priority:  model.Priority(priority),
		Timeframe: summary.Timeframe(timeframe),
	}
	if category != "" && !opts.Category.Valid() {
		return opts, fmt.Errorf("%w: unknown category %q", model.ErrValidation, category)
	}
	if priority != "" && !opts.Priority.Valid() {
		return opts, fmt.Errorf("%w: unknown priority %q", model.ErrValidation, priority)
	}
	switch opts.Timeframe {
	case "", summary.All, summary.Today, summary.Week, summary.Month:
	default:
		return opts, fmt.Errorf("%w: unknown timeframe %q", model.ErrValidation, timeframe)
	}
	if done && pending {
		return opts, fmt.Errorf("%w: --done and --pending are exclusive", model.ErrValidation)
	}
	if done || pending {
		opts.Completed = &done
	}
	return opts, nil
}

var refreshInterval time.Duration

var remindersCmd = &cobra.Command{
	Use:   "reminders",
	Short: "Task reminder delivery",
}

var remindersRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Deliver reminders until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		log.Printf("%d reminders armed", len(a.reminders.Pending()))
		go refreshLoop(ctx, a)
		return ignoreCanceled(a.reminders.Run(ctx))
	},
}

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Task snapshot feed",
}

var feedRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Publish task snapshots to Pub/Sub until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Feed.Topic == "" {
			return errors.New("no feed topic configured (set feed.topic or STUDYSYNC_FEED_TOPIC)")
		}
		ctx := cmd.Context()
		pub, err := feed.NewPubSub(ctx, cfg.Firebase.ProjectID, cfg.Feed.Topic, cfg.Firebase.CredentialsFile)
		if err != nil {
			return err
		}
		defer pub.Close()

		a, err := openApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		snapshots, unsubscribe := a.store.Subscribe(4)
		defer unsubscribe()
		go refreshLoop(ctx, a)
		return ignoreCanceled(feed.New(pub, newLogger("[feed] ")).Run(ctx, snapshots))
	},
}

// refreshLoop refetches the task cache every refreshInterval.
func refreshLoop(ctx context.Context, a *app) {
	if refreshInterval <= 0 {
		return
	}
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// FetchAll logs and publishes its own errors.
			_ = a.store.FetchAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func init() {
	f := summaryCmd.Flags()
	f.StringVarP(&summaryCategory, "category", "c", "", "Only this category")
	f.StringVarP(&summaryPriority, "priority", "p", "", "Only this priority")
	f.StringVarP(&summaryTimeframe, "timeframe", "t", "", "all, today, week or month")
	f.BoolVar(&summaryDone, "done", false, "Only completed tasks")
	f.BoolVar(&summaryPending, "pending", false, "Only open tasks")

	remindersCmd.PersistentFlags().DurationVar(&refreshInterval, "refresh", 5*time.Minute, "How often to refetch tasks (0 disables)")
	feedCmd.PersistentFlags().DurationVar(&refreshInterval, "refresh", 5*time.Minute, "How often to refetch tasks (0 disables)")

	remindersCmd.AddCommand(remindersRunCmd)
	feedCmd.AddCommand(feedRunCmd)
	rootCmd.AddCommand(summaryCmd, remindersCmd, feedCmd)
}
