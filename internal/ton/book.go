package ton

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gurssagar/finalicp-sub006/internal/ledger"
	"github.com/redis/go-redis/v9"
)

const (
	redisDepositPrefix    = "ton:deposit:"
	redisCreditedPrefix   = "ton:credited:"
	redisSettlementPrefix = "ton:settlement:"
	// hash of in-flight settlement memo -> "<deposit memo> <amount> <reserved unix>"
	redisPendingIndex = "ton:settlement:pending"
	creditedTTL       = 7 * 24 * time.Hour
	settlementPending = "pending"
)

// ErrNotReserved is returned by Commit for a settlement memo that holds no reservation.
var ErrNotReserved = errors.New("ton: settlement was not reserved")

// ReserveStatus is the outcome of Book.Reserve.
type ReserveStatus int

const (
	Reserved ReserveStatus = iota
	AlreadySettled
	SettlementPending
	Insufficient
)

type Reservation struct {
	Status ReserveStatus
	// LT of the earlier settlement, set for AlreadySettled
	LT uint64
	// deposit balance, set for Insufficient
	Balance uint64
}

// Book tracks credited deposits per subaccount memo and the settlements drawn from them.
type Book interface {
	// Credit adds amount under memo once per transaction lt. It reports false for a replay.
	Credit(ctx context.Context, memo string, lt, amount uint64) (bool, error)
	Balance(ctx context.Context, memo string) (ledger.Balance, error)
	// Reserve debits amount from depositMemo and marks settlementMemo as in flight.
	Reserve(ctx context.Context, settlementMemo, depositMemo string, amount uint64) (Reservation, error)
	// Commit records the transaction that paid settlementMemo. Committing an
	// already committed memo is a no-op.
	Commit(ctx context.Context, settlementMemo string, lt uint64) error
	// Cancel undoes a reservation whose transfer was not sent.
	Cancel(ctx context.Context, settlementMemo, depositMemo string, amount uint64) error
	// Pending lists reservations that are neither committed nor cancelled.
	Pending(ctx context.Context) ([]PendingSettlement, error)
}

type PendingSettlement struct {
	Memo        string
	DepositMemo string
	Amount      uint64
	Since       time.Time
}

var creditScript = redis.NewScript(`
if redis.call("SET", KEYS[2], "1", "NX", "EX", ARGV[3]) then
	redis.call("HINCRBY", KEYS[1], "balance", ARGV[1])
	redis.call("HSET", KEYS[1], "last_lt", ARGV[2])
	return 1
end
return 0
`)

var reserveScript = redis.NewScript(`
local s = redis.call("GET", KEYS[1])
if s then
	return {1, s}
end
local bal = redis.call("HGET", KEYS[2], "balance") or "0"
if tonumber(bal) < tonumber(ARGV[1]) then
	return {2, bal}
end
redis.call("HINCRBY", KEYS[2], "balance", ARGV[2])
redis.call("SET", KEYS[1], "pending")
redis.call("HSET", KEYS[3], ARGV[3], ARGV[4])
return {0, ""}
`)

var commitScript = redis.NewScript(`
local s = redis.call("GET", KEYS[1])
if s == "pending" then
	redis.call("SET", KEYS[1], ARGV[1])
	redis.call("HDEL", KEYS[2], ARGV[2])
	return 1
end
if s then
	return 0
end
return -1
`)

var cancelScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == "pending" then
	redis.call("DEL", KEYS[1])
	redis.call("HINCRBY", KEYS[2], "balance", ARGV[1])
	redis.call("HDEL", KEYS[3], ARGV[2])
	return 1
end
return 0
`)

type RedisBook struct {
	rdb *redis.Client
}

func NewRedisBook(rdb *redis.Client) *RedisBook {
	return &RedisBook{rdb: rdb}
}

func (b *RedisBook) Credit(ctx context.Context, memo string, lt, amount uint64) (bool, error) {
	keys := []string{redisDepositPrefix + memo, redisCreditedPrefix + strconv.FormatUint(lt, 10)}
	n, err := creditScript.Run(ctx, b.rdb, keys,
		strconv.FormatUint(amount, 10),
		strconv.FormatUint(lt, 10),
		int(creditedTTL.Seconds()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("credit %s: %w", memo, err)
	}
	return n == 1, nil
}

func (b *RedisBook) Balance(ctx context.Context, memo string) (ledger.Balance, error) {
	vals, err := b.rdb.HMGet(ctx, redisDepositPrefix+memo, "balance", "last_lt").Result()
	if err != nil {
		return ledger.Balance{}, fmt.Errorf("balance %s: %w", memo, err)
	}

	var bal ledger.Balance
	if s, ok := vals[0].(string); ok {
		if bal.Amount, err = strconv.ParseUint(s, 10, 64); err != nil {
			return ledger.Balance{}, fmt.Errorf("balance %s: corrupt amount %q", memo, s)
		}
	}
	if s, ok := vals[1].(string); ok {
		if lt, err := strconv.ParseUint(s, 10, 64); err == nil {
			bal.LastBlockIndex = &lt
		}
	}
	return bal, nil
}

func (b *RedisBook) Reserve(ctx context.Context, settlementMemo, depositMemo string, amount uint64) (Reservation, error) {
	keys := []string{redisSettlementPrefix + settlementMemo, redisDepositPrefix + depositMemo, redisPendingIndex}
	res, err := reserveScript.Run(ctx, b.rdb, keys,
		strconv.FormatUint(amount, 10),
		"-"+strconv.FormatUint(amount, 10),
		settlementMemo,
		fmt.Sprintf("%s %d %d", depositMemo, amount, time.Now().Unix()),
	).Slice()
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve %s: %w", settlementMemo, err)
	}
	if len(res) != 2 {
		return Reservation{}, errors.New("reserve: unexpected script reply")
	}

	code, _ := res[0].(int64)
	val, _ := res[1].(string)
	switch code {
	case 0:
		return Reservation{Status: Reserved}, nil
	case 1:
		if val == settlementPending {
			return Reservation{Status: SettlementPending}, nil
		}
		lt, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return Reservation{}, fmt.Errorf("reserve %s: corrupt settlement %q", settlementMemo, val)
		}
		return Reservation{Status: AlreadySettled, LT: lt}, nil
	default:
		bal, _ := strconv.ParseUint(val, 10, 64)
		return Reservation{Status: Insufficient, Balance: bal}, nil
	}
}

func (b *RedisBook) Commit(ctx context.Context, settlementMemo string, lt uint64) error {
	keys := []string{redisSettlementPrefix + settlementMemo, redisPendingIndex}
	n, err := commitScript.Run(ctx, b.rdb, keys, strconv.FormatUint(lt, 10), settlementMemo).Int()
	if err != nil {
		return fmt.Errorf("commit %s: %w", settlementMemo, err)
	}
	if n < 0 {
		return fmt.Errorf("commit %s: %w", settlementMemo, ErrNotReserved)
	}
	return nil
}

func (b *RedisBook) Cancel(ctx context.Context, settlementMemo, depositMemo string, amount uint64) error {
	keys := []string{redisSettlementPrefix + settlementMemo, redisDepositPrefix + depositMemo, redisPendingIndex}
	return cancelScript.Run(ctx, b.rdb, keys, strconv.FormatUint(amount, 10), settlementMemo).Err()
}

func (b *RedisBook) Pending(ctx context.Context) ([]PendingSettlement, error) {
	entries, err := b.rdb.HGetAll(ctx, redisPendingIndex).Result()
	if err != nil {
		return nil, fmt.Errorf("pending settlements: %w", err)
	}
	out := make([]PendingSettlement, 0, len(entries))
	for memo, v := range entries {
		p, err := parsePending(memo, v)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func parsePending(memo, v string) (PendingSettlement, error) {
	f := strings.Fields(v)
	if len(f) != 3 {
		return PendingSettlement{}, fmt.Errorf("pending %s: corrupt entry %q", memo, v)
	}
	amount, err := strconv.ParseUint(f[1], 10, 64)
	if err != nil {
		return PendingSettlement{}, fmt.Errorf("pending %s: corrupt amount %q", memo, f[1])
	}
	since, err := strconv.ParseInt(f[2], 10, 64)
	if err != nil {
		return PendingSettlement{}, fmt.Errorf("pending %s: corrupt time %q", memo, f[2])
	}
	return PendingSettlement{Memo: memo, DepositMemo: f[0], Amount: amount, Since: time.Unix(since, 0)}, nil
}
