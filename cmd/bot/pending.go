package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"remindbot/internal/app"
	"remindbot/internal/task/scheduler"
)

func newPendingCmd() *cobra.Command {
	var (
		kind   string
		user   int64
		limit  int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List stored entries in due order",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sched, _, err := app.OpenOffline(ctx, flagConfig, logger)
			if err != nil {
				return err
			}
			defer sched.Close(ctx)

			entries, ok, err := sched.Pending(ctx, scheduler.Filter{
				Kind:   scheduler.Kind(strings.TrimSpace(kind)),
				UserID: user,
				Limit:  limit,
				Offset: offset,
			})
			if err != nil {
				return fmt.Errorf("list pending: %w", err)
			}
			if !ok {
				return fmt.Errorf("the configured storage cannot list entries")
			}
			if len(entries) == 0 {
				fmt.Println("No pending entries.")
				return nil
			}

			now := time.Now()
			fmt.Printf("%-8s  %-18s  %-22s  %s\n", "ID", "KIND", "DUE", "DETAIL")
			fmt.Printf("%-8s  %-18s  %-22s  %s\n", "--", "----", "---", "------")
			for _, e := range entries {
				fmt.Printf("%-8d  %-18s  %-22s  %s\n", e.ID, e.Kind(), humanize.RelTime(e.Due, now, "ago", "from now"), describe(e))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only this event kind (reminder_complete, mute_complete, tempban_complete, ...)")
	cmd.Flags().Int64Var(&user, "user", 0, "only entries for this user id")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to show (0 = all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many entries")
	return cmd
}

func describe(e scheduler.Entry) string {
	switch ev := e.Event.(type) {
	case scheduler.Reminder:
		msg := ev.Message
		if r := []rune(msg); len(r) > 40 {
			msg = string(r[:40]) + "…"
		}
		return fmt.Sprintf("user=%d chat=%d %q", ev.UserID, ev.ChatID, msg)
	case scheduler.Unmute:
		return fmt.Sprintf("chat=%d user=%d", ev.ChatID, ev.UserID)
	case scheduler.Unban:
		return fmt.Sprintf("chat=%d user=%d", ev.ChatID, ev.UserID)
	case scheduler.Custom:
		return fmt.Sprintf("args=%v kwargs=%v", ev.Args, ev.Kwargs)
	}
	return ""
}
