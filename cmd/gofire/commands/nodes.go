package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var NodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List cluster members and their liveness",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, closeFn, err := openClient()
		if err != nil {
			return err
		}
		defer closeFn()

		nodes, err := c.Nodes(cmd.Context())
		if err != nil {
			return err
		}
		if len(nodes) == 0 {
			fmt.Println("No nodes registered")
			return nil
		}

		fmt.Printf("%-32s %-10s %-6s %-26s %s\n", "NODE", "STATE", "ALIVE", "LAST CHECK-IN", "INTERVAL")
		for _, n := range nodes {
			fmt.Printf("%-32s %-10s %-6t %-26s %s\n", n.ID, n.State, n.Alive, formatTime(&n.LastCheckin), n.CheckinInterval)
		}

		locks, err := c.Locks(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("\n%-48s %-32s %s\n", "LOCK", "OWNER", "ACQUIRED")
		for _, l := range locks {
			fmt.Printf("%-48s %-32s %s\n", l.ResourceName, l.OwningNode, formatTime(&l.AcquiredAt))
		}
		fmt.Printf("\nTotal: %d node(s), %d lock(s)\n", len(nodes), len(locks))
		return nil
	},
}

var dueWindow time.Duration

// DueCmd lists triggers that fire within the window, overdue ones included.
var DueCmd = &cobra.Command{
	Use:   "due",
	Short: "List triggers due within a window",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, closeFn, err := openClient()
		if err != nil {
			return err
		}
		defer closeFn()

		triggers, err := c.DueTriggers(cmd.Context(), dueWindow)
		if err != nil {
			return err
		}
		fmt.Printf("%-40s %-12s %-26s %-32s %s\n", "TRIGGER", "STATE", "NEXT FIRE", "OWNER", "SCHEDULE")
		for _, t := range triggers {
			owner := t.OwningNode
			if owner == "" {
				owner = "-"
			}
			fmt.Printf("%-40s %-12s %-26s %-32s %s\n", t.Key, t.State, formatTime(t.NextFireTime), owner, t.Schedule)
		}
		fmt.Printf("\nTotal: %d trigger(s)\n", len(triggers))
		return nil
	},
}

func init() {
	DueCmd.Flags().DurationVarP(&dueWindow, "window", "w", time.Minute, "look-ahead window")
}
