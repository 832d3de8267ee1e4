package models

import (
	"time"
)

type EscrowStatus string

// Escrow statuses
const (
	EscrowStatusCreated  EscrowStatus = "created"
	EscrowStatusFunded   EscrowStatus = "funded"
	EscrowStatusReleased EscrowStatus = "released"
	EscrowStatusRefunded EscrowStatus = "refunded"
)

// Valid state transitions: from -> []to
var ValidEscrowTransitions = map[EscrowStatus][]EscrowStatus{
	EscrowStatusCreated:  {EscrowStatusFunded},
	EscrowStatusFunded:   {EscrowStatusReleased, EscrowStatusRefunded},
	EscrowStatusReleased: {},
	EscrowStatusRefunded: {},
}

func IsValidTransition(from, to EscrowStatus) bool {
	allowed, ok := ValidEscrowTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func (s EscrowStatus) IsTerminal() bool {
	return s == EscrowStatusReleased || s == EscrowStatusRefunded
}

func (s EscrowStatus) Valid() bool {
	_, ok := ValidEscrowTransitions[s]
	return ok
}

type Escrow struct {
	ID                   string       `json:"escrow_id"`
	ProjectID            string       `json:"project_id"`
	Client               Principal    `json:"client"`
	Freelancer           Principal    `json:"freelancer"`
	ExpectedAmount       uint64       `json:"expected_amount"` // e8s
	DepositAccount       Account      `json:"deposit_account"`
	Status               EscrowStatus `json:"status"`
	CreatedAt            time.Time    `json:"created_at"`
	FundedAt             *time.Time   `json:"funded_at,omitempty"`
	ReleaseAt            *time.Time   `json:"release_at,omitempty"`
	SettledAt            *time.Time   `json:"settled_at,omitempty"`
	FundingBlockIndex    *uint64      `json:"funding_block_index,omitempty"`
	SettlementBlockIndex *uint64      `json:"settlement_block_index,omitempty"`
	SettledAmount        *uint64      `json:"settled_amount,omitempty"`
}

// LedgerBlockIndex returns the most recent settlement reference recorded for the escrow.
func (e *Escrow) LedgerBlockIndex() *uint64 {
	if e.SettlementBlockIndex != nil {
		return e.SettlementBlockIndex
	}
	return e.FundingBlockIndex
}

// EscrowTransition describes a single status change applied by a store.
type EscrowTransition struct {
	To         EscrowStatus
	At         time.Time
	BlockIndex *uint64
	Amount     uint64 // settled amount, terminal transitions only
}

// Apply mutates e according to t. Callers must have checked IsValidTransition.
func (t EscrowTransition) Apply(e *Escrow) {
	at := t.At
	e.Status = t.To
	switch t.To {
	case EscrowStatusFunded:
		e.FundedAt = &at
		if t.BlockIndex != nil {
			idx := *t.BlockIndex
			e.FundingBlockIndex = &idx
		}
	case EscrowStatusReleased, EscrowStatusRefunded:
		e.SettledAt = &at
		amount := t.Amount
		e.SettledAmount = &amount
		if t.BlockIndex != nil {
			idx := *t.BlockIndex
			e.SettlementBlockIndex = &idx
		}
	}
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (e *Escrow) Clone() *Escrow {
	c := *e
	c.DepositAccount = e.DepositAccount.Clone()
	c.FundedAt = cloneTime(e.FundedAt)
	c.ReleaseAt = cloneTime(e.ReleaseAt)
	c.SettledAt = cloneTime(e.SettledAt)
	c.FundingBlockIndex = cloneUint(e.FundingBlockIndex)
	c.SettlementBlockIndex = cloneUint(e.SettlementBlockIndex)
	c.SettledAmount = cloneUint(e.SettledAmount)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneUint(u *uint64) *uint64 {
	if u == nil {
		return nil
	}
	v := *u
	return &v
}
