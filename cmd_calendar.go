package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/alaap-nair/studysync/pkg/config"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authenticate with Google Calendar",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flow, err := authFlow()
		if err != nil {
			return err
		}
		if err := flow.Reset(); err != nil {
			return err
		}
		if _, err := flow.Client(cmd.Context()); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
		log.Printf("Authentication successful! Token saved in %s", flow.Dir)
		return nil
	},
}

var setCalendarCmd = &cobra.Command{
	Use:   "set-calendar <name>",
	Short: "Set the default Google Calendar name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Save the file's own settings, not the environment overrides.
		path, err := config.GetConfigPath()
		if err != nil {
			return err
		}
		fileCfg, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		fileCfg.Calendar.Name = args[0]
		if err := config.SaveFile(path, fileCfg); err != nil {
			return fmt.Errorf("error saving config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Default calendar set to: %s\n", args[0])
		return nil
	},
}

var (
	syncRetry  bool
	syncToggle bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile all tasks with the calendar",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, appOptions{calendar: true})
		if err != nil {
			return err
		}
		defer a.Close()

		switch {
		case syncRetry:
			if err := a.store.RetryCalendarSync(ctx); err != nil {
				log.Printf("Retry: %v", err)
			}
		case syncToggle:
			if err := a.store.ToggleCalendarSync(ctx); err != nil {
				log.Printf("Toggle: %v", err)
			}
		}
		printSession(cmd.OutOrStdout(), a.engine.Session())
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncRetry, "retry", false, "Retry after a failed reconciliation")
	syncCmd.Flags().BoolVar(&syncToggle, "toggle", false, "Toggle calendar sync after initializing")
	rootCmd.AddCommand(authCmd, setCalendarCmd, syncCmd)
}
