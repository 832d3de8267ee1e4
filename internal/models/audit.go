package models

import (
	"time"

	"github.com/google/uuid"
)

// Actor types
const (
	ActorClient    = "client"
	ActorRelayer   = "relayer"
	ActorAuthority = "authority"
	ActorUser      = "user"
	ActorSystem    = "system"
)

// Audited entities
const (
	EntityEscrow      = "escrow"
	EntityAdminConfig = "admin_config"
)

type AuditLog struct {
	ID         uuid.UUID  `json:"id"`
	Actor      *Principal `json:"actor,omitempty"`
	ActorType  string     `json:"actor_type"`
	Action     string     `json:"action"`
	EntityType string     `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Meta       any        `json:"meta,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
