package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/conduit/pkg/channels/gochannel"
	"github.com/dukex/conduit/pkg/channels/kafka"
	"github.com/dukex/conduit/pkg/eventbus"
)

// NewEventBus builds the status event bus. "gochannel" only connects
// components of one process.
func NewEventBus(provider string, logger *slog.Logger, config kafka.Config) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, config)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	case "gochannel":
		pubSub := gochannel.NewPubSub(wmLogger)

		return eventbus.NewWatermillEventBus(pubSub, pubSub), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider %q", provider)
	}
}
