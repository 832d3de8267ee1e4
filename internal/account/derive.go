// Package account maps escrow identifiers to their deposit locations on the ledger.
package account

import (
	"crypto/sha256"

	"github.com/gurssagar/finalicp-sub006/internal/models"
)

// DomainSeparator prefixes every escrow id before hashing so deposit subaccounts
// cannot collide with subaccounts derived for other purposes under the same owner.
const DomainSeparator = "escrow-deposit:"

// DeriveSubaccount returns SHA-256(DomainSeparator || escrowID).
func DeriveSubaccount(escrowID string) models.Subaccount {
	h := sha256.New()
	h.Write([]byte(DomainSeparator))
	h.Write([]byte(escrowID))

	var sub models.Subaccount
	copy(sub[:], h.Sum(nil))
	return sub
}

// Derive returns the deposit account of escrowID under the custody owner.
func Derive(owner models.Principal, escrowID string) models.Account {
	sub := DeriveSubaccount(escrowID)
	return models.Account{Owner: owner, Subaccount: &sub}
}
