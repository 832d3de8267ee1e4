package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegistryCounts(t *testing.T) {
	m := New()
	m.Operation("release", "ok")
	m.Operation("release", "ok")
	m.Transition("funded", "released")
	m.LedgerCall("transfer", "ok", time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("release", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("funded", "released")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerCalls.WithLabelValues("transfer", "ok")))

	families, err := m.Gatherer().Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilRegistryIsNoop(t *testing.T) {
	var m *Registry
	assert.NotPanics(t, func() {
		m.Operation("create", "ok")
		m.Transition("created", "funded")
		m.LedgerCall("balance_of", "error", time.Now())
		m.HTTPRequest("GET", "200")
	})
}
