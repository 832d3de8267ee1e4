package models

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

const (
	SubaccountSize     = 32
	MaxPrincipalLength = 128
)

// Principal is an opaque ledger identity (wallet address, canister principal, ...).
type Principal string

func (p Principal) String() string {
	return string(p)
}

func (p Principal) IsZero() bool {
	return p == ""
}

// ParsePrincipal trims and validates a textual identity.
func ParsePrincipal(s string) (Principal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("principal is empty")
	}
	if len(s) > MaxPrincipalLength {
		return "", fmt.Errorf("principal longer than %d bytes", MaxPrincipalLength)
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", fmt.Errorf("principal contains whitespace or control characters")
		}
	}
	return Principal(s), nil
}

type Subaccount [SubaccountSize]byte

func (s Subaccount) Hex() string {
	return hex.EncodeToString(s[:])
}

func ParseSubaccountHex(s string) (Subaccount, error) {
	var sub Subaccount
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return sub, fmt.Errorf("invalid subaccount hex: %w", err)
	}
	if len(b) != SubaccountSize {
		return sub, fmt.Errorf("subaccount must be %d bytes, got %d", SubaccountSize, len(b))
	}
	copy(sub[:], b)
	return sub, nil
}

// Account addresses a balance on the ledger.
type Account struct {
	Owner      Principal   `json:"owner"`
	Subaccount *Subaccount `json:"-"`
}

// Memo is the deposit tag for ledgers that route by transfer comment.
// Empty for the default subaccount.
func (a Account) Memo() string {
	if a.Subaccount == nil {
		return ""
	}
	return a.Subaccount.Hex()
}

// Key uniquely identifies the account, suitable for map keys.
func (a Account) Key() string {
	if a.Subaccount == nil {
		return a.Owner.String()
	}
	return a.Owner.String() + "." + a.Subaccount.Hex()
}

func (a Account) Clone() Account {
	if a.Subaccount == nil {
		return a
	}
	sub := *a.Subaccount
	return Account{Owner: a.Owner, Subaccount: &sub}
}

func (a Account) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Owner      Principal `json:"owner"`
		Subaccount string    `json:"subaccount,omitempty"`
	}{Owner: a.Owner, Subaccount: a.Memo()})
}
