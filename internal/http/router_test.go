package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gurssagar/finalicp-sub006/internal/auth"
	"github.com/gurssagar/finalicp-sub006/internal/config"
	"github.com/gurssagar/finalicp-sub006/internal/events"
	"github.com/gurssagar/finalicp-sub006/internal/http/handlers"
	"github.com/gurssagar/finalicp-sub006/internal/ledger"
	"github.com/gurssagar/finalicp-sub006/internal/lock"
	"github.com/gurssagar/finalicp-sub006/internal/metrics"
	"github.com/gurssagar/finalicp-sub006/internal/models"
	"github.com/gurssagar/finalicp-sub006/internal/repositories"
	"github.com/gurssagar/finalicp-sub006/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const secret = "test-secret"

type testAPI struct {
	app    *fiber.App
	ledger *ledger.MemoryLedger
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	log := zap.NewNop()
	cfg := &config.Config{JWTSecret: secret}

	mem := ledger.NewMemoryLedger("custody")
	audit := repositories.NewMemoryAuditRepo()
	bus := events.NewMemoryBus()
	m := metrics.New()
	relayer := models.Principal("relayer")
	admin := services.NewAdminConfig("authority", "authority", &relayer)

	escrowService := services.NewEscrowService(
		repositories.NewMemoryEscrowRepo(), audit, mem, lock.NewKeyedMutex(),
		admin, bus, m, "custody", log,
	)
	adminService := services.NewAdminService(admin, audit, bus, log)

	app := fiber.New()
	SetupRouter(app, cfg, log, nil, m,
		handlers.NewEscrowHandler(escrowService, log),
		handlers.NewAdminHandler(adminService, log),
		handlers.NewDevLedgerHandler(mem, escrowService, log),
		nil,
	)
	return &testAPI{app: app, ledger: mem}
}

func token(t *testing.T, p models.Principal) string {
	t.Helper()
	tok, err := auth.GenerateJWT(secret, p, time.Hour)
	require.NoError(t, err)
	return tok
}

type envelope struct {
	OK        bool            `json:"ok"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	Code      string          `json:"code"`
	Field     string          `json:"field"`
	Retryable bool            `json:"retryable"`
}

func (a *testAPI) do(t *testing.T, method, path string, as models.Principal, body any) (int, envelope) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if as != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, as))
	}

	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &env)
	}
	return resp.StatusCode, env
}

func TestEscrowLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)

	status, env := api.do(t, fiber.MethodPost, "/api/v1/escrows", "client-C", map[string]any{
		"project_id":      "proj-1",
		"freelancer":      "freelancer-F",
		"expected_amount": 500_000_000,
	})
	require.Equal(t, fiber.StatusCreated, status, env.Error)

	var created struct {
		EscrowID       string `json:"escrow_id"`
		DepositAccount struct {
			Owner      string `json:"owner"`
			Subaccount string `json:"subaccount"`
		} `json:"deposit_account"`
		Escrow struct {
			Client string `json:"client"`
			Status string `json:"status"`
		} `json:"escrow"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "custody", created.DepositAccount.Owner)
	assert.Len(t, created.DepositAccount.Subaccount, 64)
	assert.Equal(t, "client-C", created.Escrow.Client)
	assert.Equal(t, "created", created.Escrow.Status)
	id := created.EscrowID

	status, env = api.do(t, fiber.MethodGet, "/api/v1/escrows/"+id+"/deposit-account", "anyone", nil)
	assert.Equal(t, fiber.StatusOK, status)

	status, env = api.do(t, fiber.MethodPost, "/api/v1/escrows/"+id+"/refresh", "anyone", nil)
	require.Equal(t, fiber.StatusOK, status)
	var refresh struct {
		Funded  bool   `json:"funded"`
		Balance uint64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &refresh))
	assert.False(t, refresh.Funded)

	status, _ = api.do(t, fiber.MethodPost, "/api/v1/dev/ledger/deposits", "payer", map[string]any{
		"escrow_id": id, "amount": 500_000_000,
	})
	require.Equal(t, fiber.StatusCreated, status)

	status, env = api.do(t, fiber.MethodPost, "/api/v1/escrows/"+id+"/refresh", "anyone", nil)
	require.Equal(t, fiber.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &refresh))
	assert.True(t, refresh.Funded)
	assert.Equal(t, uint64(500_000_000), refresh.Balance)

	status, env = api.do(t, fiber.MethodPost, "/api/v1/escrows/"+id+"/release", "freelancer-F", nil)
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, handlers.CodeUnauthorized, env.Code)

	status, env = api.do(t, fiber.MethodPost, "/api/v1/escrows/"+id+"/release", "client-C", nil)
	require.Equal(t, fiber.StatusOK, status, env.Error)
	var settled struct {
		BlockIndex *uint64 `json:"block_index"`
		Escrow     struct {
			Status           string  `json:"status"`
			LedgerBlockIndex *uint64 `json:"ledger_block_index"`
		} `json:"escrow"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &settled))
	require.NotNil(t, settled.BlockIndex)
	assert.Equal(t, "released", settled.Escrow.Status)
	assert.Equal(t, settled.BlockIndex, settled.Escrow.LedgerBlockIndex)

	status, env = api.do(t, fiber.MethodPost, "/api/v1/escrows/"+id+"/release", "client-C", nil)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, handlers.CodeInvalidState, env.Code)

	status, _ = api.do(t, fiber.MethodPost, "/api/v1/escrows/"+id+"/refund", "relayer", nil)
	assert.Equal(t, fiber.StatusConflict, status)

	status, env = api.do(t, fiber.MethodGet, "/api/v1/escrows/"+id+"/events", "anyone", nil)
	require.Equal(t, fiber.StatusOK, status)
	var trail []models.AuditLog
	require.NoError(t, json.Unmarshal(env.Data, &trail))
	assert.Len(t, trail, 3)

	status, env = api.do(t, fiber.MethodGet, "/api/v1/escrows?role=freelancer", "freelancer-F", nil)
	require.Equal(t, fiber.StatusOK, status)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 1)
}

func TestErrorMapping(t *testing.T) {
	api := newTestAPI(t)

	status, env := api.do(t, fiber.MethodPost, "/api/v1/escrows", "client-C", map[string]any{
		"project_id": "p", "freelancer": "client-C", "expected_amount": 5,
	})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, handlers.CodeValidation, env.Code)
	assert.Equal(t, "freelancer", env.Field)

	status, env = api.do(t, fiber.MethodGet, "/api/v1/escrows/missing", "client-C", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, handlers.CodeNotFound, env.Code)

	status, _ = api.do(t, fiber.MethodGet, "/api/v1/escrows?status=bogus", "client-C", nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = api.do(t, fiber.MethodGet, "/api/v1/escrows/missing", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	_, env = api.do(t, fiber.MethodPost, "/api/v1/escrows", "client-C", map[string]any{
		"project_id": "p", "freelancer": "f", "expected_amount": 5,
	})
	var created struct {
		EscrowID string `json:"escrow_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))

	api.ledger.FailNextBalance(ledger.Unavailable("balance_of", errors.New("timeout")))
	status, env = api.do(t, fiber.MethodPost, "/api/v1/escrows/"+created.EscrowID+"/refresh", "client-C", nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, handlers.CodeLedgerUnavailable, env.Code)
	assert.True(t, env.Retryable)
}

func TestAdminRoutes(t *testing.T) {
	api := newTestAPI(t)

	status, env := api.do(t, fiber.MethodPut, "/api/v1/admin/treasury", "client-C", map[string]any{"principal": "t2"})
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, handlers.CodeUnauthorized, env.Code)

	status, _ = api.do(t, fiber.MethodPut, "/api/v1/admin/treasury", "authority", map[string]any{"principal": "t2"})
	assert.Equal(t, fiber.StatusOK, status)

	status, env = api.do(t, fiber.MethodGet, "/api/v1/admin/treasury", "anyone", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"principal":"t2"}`, string(env.Data))

	status, _ = api.do(t, fiber.MethodPut, "/api/v1/admin/relayer", "authority", map[string]any{"principal": nil})
	assert.Equal(t, fiber.StatusOK, status)

	status, env = api.do(t, fiber.MethodGet, "/api/v1/admin/relayer", "anyone", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"principal":null}`, string(env.Data))
}

func TestPublicRoutes(t *testing.T) {
	api := newTestAPI(t)

	status, _ := api.do(t, fiber.MethodGet, "/health", "", nil)
	assert.Equal(t, fiber.StatusOK, status)

	resp, err := api.app.Test(httptest.NewRequest(fiber.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRecipients(t *testing.T) {
	to := handlers.Recipients(events.Event{Payload: map[string]any{"client": "c", "freelancer": "f"}})
	assert.Equal(t, []models.Principal{"c", "f"}, to)
	assert.Empty(t, handlers.Recipients(events.Event{Type: events.EventAdminConfigChanged, Payload: map[string]any{"field": "relayer"}}))
}
