package dto

import "github.com/gurssagar/finalicp-sub006/internal/models"

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

// EscrowResponse adds the derived ledger_block_index to the stored record.
type EscrowResponse struct {
	*models.Escrow
	LedgerBlockIndex *uint64 `json:"ledger_block_index,omitempty"`
}

func NewEscrowResponse(e *models.Escrow) EscrowResponse {
	return EscrowResponse{Escrow: e, LedgerBlockIndex: e.LedgerBlockIndex()}
}

type CreateEscrowResponse struct {
	EscrowID       string         `json:"escrow_id"`
	DepositAccount models.Account `json:"deposit_account"`
	Escrow         EscrowResponse `json:"escrow"`
}

type RefreshResponse struct {
	Funded  bool           `json:"funded"`
	Balance uint64         `json:"balance"`
	Escrow  EscrowResponse `json:"escrow"`
}

type SettlementResponse struct {
	BlockIndex *uint64        `json:"block_index,omitempty"`
	Escrow     EscrowResponse `json:"escrow"`
}

type PrincipalResponse struct {
	Principal *models.Principal `json:"principal"`
}

type DevDepositResponse struct {
	BlockIndex uint64         `json:"block_index"`
	Account    models.Account `json:"account"`
}
