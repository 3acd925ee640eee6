package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/RezaEskandarii/gofire-cluster/internal/message_broaker"
	"github.com/spf13/cobra"
)

// EventsCmd prints fire events published by the cluster until interrupted.
var EventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Tail fire events from the message queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.PublishFireEvents {
			return errors.New("rabbitmq is not enabled in the configuration")
		}

		broker, err := message_broaker.NewRabbitMQ(*cfg.RabbitMQConfig)
		if err != nil {
			return err
		}
		defer broker.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		messages, err := broker.Consume(ctx)
		if err != nil {
			return err
		}
		for msg := range messages {
			var ev message_broaker.FireEvent
			if err := json.Unmarshal(msg, &ev); err != nil {
				log.Warnw("skipping malformed fire event", "error", err)
				continue
			}
			fmt.Printf("%s %-40s %-10s node=%s late=%t %dms %s\n",
				ev.FireTime.Format("15:04:05.000"), ev.Trigger, ev.Outcome, ev.NodeID, ev.Misfired, ev.DurationMs, ev.Error)
		}
		return nil
	},
}
