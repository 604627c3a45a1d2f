package agbac

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cedarTestPolicies = `
permit (
    principal == AGBAC::Agent::"agent:finance-bot",
    action == AGBAC::Action::"read",
    resource
);

permit (
    principal == AGBAC::Human::"user:alice",
    action == AGBAC::Action::"read",
    resource
);
`

func loadedCedarPDP(t *testing.T) *CedarPDP {
	t.Helper()
	pdp := NewCedarPDP()
	require.NoError(t, pdp.LoadBundle(map[string]string{"authz.cedar": cedarTestPolicies}, "v1"))
	return pdp
}

func TestCedarPDP_DualSubjectAllow(t *testing.T) {
	pdp := loadedCedarPDP(t)

	resp, err := pdp.Evaluate(context.Background(), decisionReq())
	require.NoError(t, err)
	assert.True(t, resp.Allowed)
	assert.NotEmpty(t, resp.PolicyID)
}

func TestCedarPDP_DeniesWhenEitherSubjectUnauthorized(t *testing.T) {
	pdp := loadedCedarPDP(t)

	badAgent := decisionReq()
	badAgent.AgentSubject = "agent:rogue"
	resp, err := pdp.Evaluate(context.Background(), badAgent)
	require.NoError(t, err)
	assert.False(t, resp.Allowed)
	assert.Contains(t, resp.ReasonCode, "agent")

	badHuman := decisionReq()
	badHuman.HumanSubject = "user:mallory"
	resp, err = pdp.Evaluate(context.Background(), badHuman)
	require.NoError(t, err)
	assert.False(t, resp.Allowed)
	assert.Contains(t, resp.ReasonCode, "human")
}

func TestCedarPDP_EmptyPolicySetDenies(t *testing.T) {
	pdp := NewCedarPDP()
	assert.Equal(t, 0, pdp.PolicyCount())

	resp, err := pdp.Evaluate(context.Background(), decisionReq())
	require.NoError(t, err)
	assert.False(t, resp.Allowed)
}

func TestCedarPDP_ContextCarriesDelegationMetadata(t *testing.T) {
	pdp := NewCedarPDP()
	// Policy keyed on the delegation method carried in the request context.
	require.NoError(t, pdp.LoadBundle(map[string]string{
		"explicit.cedar": `
permit (principal, action, resource)
when { context.delegation_method == "explicit" };
`,
	}, "v1"))

	req := decisionReq()
	req.DelegationGrantedAt = time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC)
	resp, err := pdp.Evaluate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.Allowed)

	req.DelegationMethod = "implicit"
	resp, err = pdp.Evaluate(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.Allowed)
}

func TestCedarPDP_InsidePEP(t *testing.T) {
	signer := newEvalSigner(t)
	sink := &captureSink{}

	pdp := loadedCedarPDP(t)
	pep, err := New(
		WithConfig(testConfig()),
		WithKeyset(signer.keyset),
		WithPDP(pdp),
		WithAuditSink(sink),
		WithClock(func() time.Time { return evalNow }),
		WithoutBackgroundTasks(),
	)
	require.NoError(t, err)
	defer func() { _ = pep.Close() }()

	v, err := pep.Evaluate(context.Background(), Request{
		RawToken: signer.mint(t, nil),
		Action:   "read",
		Resource: "records/55239",
	})
	require.NoError(t, err)
	assert.Equal(t, Allow, v.Decision)
}
