package chat

import (
	"context"
	"log/slog"

	"codetalk/cmd/internal/realtime/eventbus"
)

// Publisher sends events to the bus without ever failing the caller. Event
// delivery is best effort; the bus logs and counts what it drops.
type Publisher struct {
	bus eventbus.Bus
	log *slog.Logger
}

func NewPublisher(bus eventbus.Bus, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{bus: bus, log: log}
}

func (p *Publisher) Publish(ctx context.Context, topic string, payload any) {
	if p == nil || p.bus == nil {
		return
	}
	p.log.Debug("bus.publish", "topic", topic)
	p.bus.Publish(ctx, topic, payload)
}
