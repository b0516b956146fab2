// Package gochannel provides the in-process event transport used by a
// controller and node sharing one process, and by tests.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// reportBuffer bounds the status reports held per subscriber before
// publishers block.
const reportBuffer = 1024

// NewPubSub returns a GoChannel acting as both publisher and subscriber.
// Reports are not persisted; a subscriber that is not yet listening misses
// them.
func NewPubSub(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: reportBuffer}, logger)
}
