package dto

import "time"

type CreateEscrowRequest struct {
	ProjectID      string     `json:"project_id"`
	Client         string     `json:"client,omitempty"` // defaults to the caller
	Freelancer     string     `json:"freelancer"`
	ExpectedAmount uint64     `json:"expected_amount"` // e8s
	ReleaseAt      *time.Time `json:"release_at,omitempty"`
}

// SetPrincipalRequest sets an admin principal. A null principal clears the relayer.
type SetPrincipalRequest struct {
	Principal *string `json:"principal"`
}

type DevDepositRequest struct {
	EscrowID string `json:"escrow_id"`
	Amount   uint64 `json:"amount"`
}
