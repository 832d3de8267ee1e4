package ton

import (
	"math/big"
	"strings"

	"github.com/gurssagar/finalicp-sub006/internal/models"
	"github.com/xssnick/tonutils-go/tlb"
)

// NanoPerE8s converts ledger minor units to nanoTON: 1 TON = 1e8 e8s = 1e9 nanoTON.
const NanoPerE8s = 10

var nanoPerE8s = big.NewInt(NanoPerE8s)

// ToCoins converts an e8s amount to TON coins.
func ToCoins(e8s uint64) tlb.Coins {
	nano := new(big.Int).SetUint64(e8s)
	return tlb.FromNanoTON(nano.Mul(nano, nanoPerE8s))
}

// FromNano converts nanoTON to e8s, dropping sub-e8s dust. ok is false when
// the result does not fit in uint64.
func FromNano(nano *big.Int) (e8s uint64, ok bool) {
	if nano == nil || nano.Sign() <= 0 {
		return 0, true
	}
	q := new(big.Int).Quo(nano, nanoPerE8s)
	if !q.IsUint64() {
		return 0, false
	}
	return q.Uint64(), true
}

// ExtractComment parses a text comment from an InternalMessage body.
// TON text comments have opcode 0x00000000 followed by UTF-8 text.
func ExtractComment(inMsg *tlb.InternalMessage) string {
	body := inMsg.Body
	if body == nil {
		return ""
	}

	slice := body.BeginParse()
	if slice.BitsLeft() < 32 {
		return ""
	}

	op, err := slice.LoadUInt(32)
	if err != nil || op != 0 {
		return ""
	}

	remaining := slice.BitsLeft()
	if remaining < 8 {
		return ""
	}

	data, err := slice.LoadSlice(remaining)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}

// DepositMemo reports whether comment names a deposit subaccount and returns
// its canonical lowercase hex form.
func DepositMemo(comment string) (string, bool) {
	sub, err := models.ParseSubaccountHex(strings.ToLower(strings.TrimSpace(comment)))
	if err != nil {
		return "", false
	}
	return sub.Hex(), true
}
