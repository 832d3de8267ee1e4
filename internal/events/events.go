package events

import "context"

// StreamEscrow carries every escrow lifecycle and admin event.
const StreamEscrow = "events:escrow"

// Event types
const (
	EventEscrowCreated      = "escrow_created"
	EventEscrowFunded       = "escrow_funded"
	EventEscrowReleased     = "escrow_released"
	EventEscrowRefunded     = "escrow_refunded"
	EventAdminConfigChanged = "admin_config_changed"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// Nop discards events. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, Event) error { return nil }
