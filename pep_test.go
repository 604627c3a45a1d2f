package agbac

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingKeyset is a refreshable keyset recording Refresh calls.
type countingKeyset struct {
	Keyset
	refreshes atomic.Int32
}

func (c *countingKeyset) Refresh(_ context.Context) error {
	c.refreshes.Add(1)
	return nil
}

func backgroundPEP(t *testing.T, ks Keyset) *PEP {
	t.Helper()
	cfg := testConfig()
	cfg.ReplaySweepInterval = 10 * time.Millisecond
	cfg.KeyRefreshInterval = 10 * time.Millisecond

	pep, err := New(
		WithConfig(cfg),
		WithKeyset(ks),
		WithPDP(allowAllPDP()),
		WithAuditSink(&captureSink{}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pep.Close() })
	return pep
}

func TestBackground_SweepsReplayCache(t *testing.T) {
	signer := newEvalSigner(t)
	pep := backgroundPEP(t, signer.keyset)

	// Seed an entry that is already past expiry plus grace.
	pep.replay.CheckAndRecord("stale-jti", time.Now().Add(-time.Hour))
	require.Equal(t, 1, pep.replay.Len())

	assert.Eventually(t, func() bool {
		return pep.replay.Len() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestBackground_RefreshesKeys(t *testing.T) {
	signer := newEvalSigner(t)
	ks := &countingKeyset{Keyset: signer.keyset}
	backgroundPEP(t, ks)

	// One warm refresh at startup plus at least one scheduled tick.
	assert.Eventually(t, func() bool {
		return ks.refreshes.Load() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestClose_StopsBackgroundAndIsIdempotent(t *testing.T) {
	signer := newEvalSigner(t)
	ks := &countingKeyset{Keyset: signer.keyset}
	pep := backgroundPEP(t, ks)

	require.NoError(t, pep.Close())
	after := ks.refreshes.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, ks.refreshes.Load())

	require.NoError(t, pep.Close())
}

func TestNew_RealClockEndToEnd(t *testing.T) {
	signer := newEvalSigner(t)
	sink := &captureSink{}

	pep, err := New(
		WithConfig(testConfig()),
		WithKeyset(signer.keyset),
		WithPDP(allowAllPDP()),
		WithAuditSink(sink),
		WithoutBackgroundTasks(),
	)
	require.NoError(t, err)
	defer func() { _ = pep.Close() }()

	now := time.Now()
	raw := signer.mint(t, func(m jwt.MapClaims) {
		m["iat"] = now.Add(-time.Minute).Unix()
		m["exp"] = now.Add(time.Hour).Unix()
		m["delegation"] = map[string]any{
			"method":     "explicit",
			"granted_at": now.Add(-time.Minute).Unix(),
		}
	})

	v, err := pep.Evaluate(context.Background(), Request{
		RawToken: raw, Action: "read", Resource: "records/55239",
	})
	require.NoError(t, err)
	assert.Equal(t, Allow, v.Decision)
}
