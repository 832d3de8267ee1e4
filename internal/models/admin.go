package models

import "time"

// AdminSettings are the principals appointed by the deploying authority.
type AdminSettings struct {
	Treasury  Principal  `json:"treasury"`
	Relayer   *Principal `json:"relayer"`
	UpdatedAt time.Time  `json:"updated_at"`
}
