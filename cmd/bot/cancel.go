package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"remindbot/internal/app"
	"remindbot/internal/task/scheduler"
)

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>...",
		Short: "Remove stored entries by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, a := range args {
				id, err := strconv.ParseInt(a, 10, 64)
				if err != nil || id <= 0 {
					return fmt.Errorf("invalid id %q", a)
				}
				ids = append(ids, id)
			}

			ctx := cmd.Context()
			sched, _, err := app.OpenOffline(ctx, flagConfig, logger)
			if err != nil {
				return err
			}
			defer sched.Close(ctx)

			for _, id := range ids {
				if err := sched.Remove(ctx, scheduler.Entry{ID: id}); err != nil {
					return err
				}
				fmt.Printf("Entry %d cancelled.\n", id)
			}
			return nil
		},
	}
}
