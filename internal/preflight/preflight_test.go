package preflight

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candlekeep/candlekeep/internal/kberr"
)

func staticProbe(result CheckResult) Probe {
	return func(_ context.Context) CheckResult { return result }
}

func TestRun_UnregisteredCapabilityFails(t *testing.T) {
	c := NewChecker()

	results := c.Run(context.Background(), []Capability{CapEmbedder}, Strict)

	require.Len(t, results, 1)
	assert.Equal(t, string(CapEmbedder), results[0].Name)
	assert.Equal(t, StatusFail, results[0].Status)
}

func TestRun_ResultsSortedByName(t *testing.T) {
	c := NewChecker()
	c.Register(CapQueue, staticProbe(CheckResult{Name: string(CapQueue), Status: StatusPass}))
	c.Register(CapEmbedder, staticProbe(CheckResult{Name: string(CapEmbedder), Status: StatusPass}))
	c.Register(CapStoreConnect, staticProbe(CheckResult{Name: string(CapStoreConnect), Status: StatusPass}))

	results := c.Run(context.Background(),
		[]Capability{CapQueue, CapStoreConnect, CapEmbedder}, Strict)

	require.Len(t, results, 3)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Name, results[i].Name)
	}
}

func TestRun_LenientDropsSchemaCheck(t *testing.T) {
	c := NewChecker()
	c.Register(CapStoreConnect, staticProbe(CheckResult{Name: string(CapStoreConnect), Status: StatusPass}))
	c.Register(CapStoreSchema, staticProbe(CheckResult{Name: string(CapStoreSchema), Status: StatusFail, Required: true}))

	results := c.Run(context.Background(),
		[]Capability{CapStoreConnect, CapStoreSchema}, Lenient)

	require.Len(t, results, 1)
	assert.Equal(t, string(CapStoreConnect), results[0].Name)
}

func TestValidate_AggregatesCriticalFailures(t *testing.T) {
	// Given: two required capabilities down, one optional degraded
	c := NewChecker()
	c.Register(CapStoreConnect, staticProbe(CheckResult{
		Name: string(CapStoreConnect), Status: StatusFail,
		Message: "connection refused", Details: "start postgres", Required: true,
	}))
	c.Register(CapEmbedder, staticProbe(CheckResult{
		Name: string(CapEmbedder), Status: StatusFail,
		Message: "model missing", Required: true,
	}))
	c.Register(CapBrowser, staticProbe(CheckResult{
		Name: string(CapBrowser), Status: StatusWarn, Message: "no chromium",
	}))

	// When: validating
	results, err := c.Validate(context.Background(),
		[]Capability{CapStoreConnect, CapEmbedder, CapBrowser}, Strict)

	// Then: one aggregated error names every critical failure
	require.Len(t, results, 3)
	require.Error(t, err)
	assert.Equal(t, kberr.CodeDependencyUnavailable, kberr.CodeOf(err))

	var ke *kberr.Error
	require.ErrorAs(t, err, &ke)
	assert.Contains(t, ke.Suggestion, "connection refused")
	assert.Contains(t, ke.Suggestion, "start postgres")
	assert.Contains(t, ke.Suggestion, "model missing")
	assert.Len(t, ke.Details, 2)
}

func TestValidate_DegradedOnlyIsSoft(t *testing.T) {
	c := NewChecker()
	c.Register(CapStoreConnect, staticProbe(CheckResult{Name: string(CapStoreConnect), Status: StatusPass}))
	c.Register(CapMetasearch, staticProbe(CheckResult{Name: string(CapMetasearch), Status: StatusFail, Message: "down"}))

	_, err := c.Validate(context.Background(),
		[]Capability{CapStoreConnect, CapMetasearch}, Strict)

	require.Error(t, err)
	assert.Equal(t, kberr.KindDependencyDegraded, kberr.KindOf(err))
}

func TestValidate_AllPass(t *testing.T) {
	c := NewChecker()
	c.Register(CapStoreConnect, staticProbe(CheckResult{Name: string(CapStoreConnect), Status: StatusPass}))

	results, err := c.Validate(context.Background(), []Capability{CapStoreConnect}, Strict)

	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestGate_SwallowsDegraded(t *testing.T) {
	c := NewChecker()
	c.Register(CapStoreConnect, staticProbe(CheckResult{Name: string(CapStoreConnect), Status: StatusPass}))
	c.Register(CapMetasearch, staticProbe(CheckResult{Name: string(CapMetasearch), Status: StatusFail, Message: "down"}))

	gate := c.Gate([]Capability{CapStoreConnect, CapMetasearch}, Strict)
	assert.NoError(t, gate(context.Background()))
}

func TestGate_PropagatesCritical(t *testing.T) {
	c := NewChecker()
	c.Register(CapStoreConnect, staticProbe(CheckResult{
		Name: string(CapStoreConnect), Status: StatusFail, Required: true,
	}))

	gate := c.Gate([]Capability{CapStoreConnect}, Strict)
	err := gate(context.Background())

	require.Error(t, err)
	assert.Equal(t, kberr.KindDependencyUnavailable, kberr.KindOf(err))
}

func TestCheckResult_IsCritical(t *testing.T) {
	assert.True(t, CheckResult{Status: StatusFail, Required: true}.IsCritical())
	assert.False(t, CheckResult{Status: StatusFail}.IsCritical())
	assert.False(t, CheckResult{Status: StatusWarn, Required: true}.IsCritical())
	assert.False(t, CheckResult{Status: StatusPass, Required: true}.IsCritical())
}

func TestCheckStatus_String(t *testing.T) {
	assert.Equal(t, "PASS", StatusPass.String())
	assert.Equal(t, "WARN", StatusWarn.String())
	assert.Equal(t, "FAIL", StatusFail.String())
}
