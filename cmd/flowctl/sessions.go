package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"flowsentinel.dev/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "invalidate or inspect active flow instances by partition",
}

var invalidatePartitionCmd = &cobra.Command{
	Use:   "invalidate-partition <partition>",
	Short: "delete every active flow instance under a partition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		mgr, closeStore, err := newSessionManager()
		if err != nil {
			return err
		}
		defer closeStore()

		var n int
		if reason != "" {
			n, err = mgr.InvalidateOnSecurityEvent(args[0], reason)
		} else {
			n, err = mgr.InvalidateUserSession(args[0])
		}
		if err != nil {
			return err
		}
		fmt.Printf("invalidated %d instance(s) under partition %q\n", n, args[0])
		return nil
	},
}

var invalidateUserCmd = &cobra.Command{
	Use:   "invalidate-user <userId>",
	Short: "log out a user: delete every active flow instance partitioned under their id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, closeStore, err := newSessionManager()
		if err != nil {
			return err
		}
		defer closeStore()

		n, err := mgr.InvalidateUserSession(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("invalidated %d instance(s) for user %q\n", n, args[0])
		return nil
	},
}

var listActiveCmd = &cobra.Command{
	Use:   "list-active <partition>",
	Short: "list active flow instance ids under a partition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, closeStore, err := newSessionManager()
		if err != nil {
			return err
		}
		defer closeStore()

		ids, err := mgr.ListActiveFlows(args[0])
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("(none)")
			return nil
		}
		fmt.Println(strings.Join(ids, "\n"))
		return nil
	},
}

func newSessionManager() (*session.Manager, func() error, error) {
	cfg := loadConfig()
	st, closeStore, err := buildStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	return session.New(st, newLogger(cfg)), closeStore, nil
}

func init() {
	invalidatePartitionCmd.Flags().String("reason", "", "if set, logs and invalidates as a security event rather than a plain logout")
	sessionsCmd.AddCommand(invalidatePartitionCmd)
	sessionsCmd.AddCommand(invalidateUserCmd)
	sessionsCmd.AddCommand(listActiveCmd)
}
