// ABOUTME: Unit tests for the residual risk scorer.
// ABOUTME: Verifies sub-score mappings, severity fallbacks and the weighted formula.

package scoring

import (
	"testing"

	"github.com/jfeddern/RiskGate/internal/types"
	"github.com/stretchr/testify/assert"
)

func ptr(v float64) *float64 {
	return &v
}

func TestBusinessCriticalityScore(t *testing.T) {
	tests := []struct {
		criticality types.BusinessCriticality
		expected    int
	}{
		{types.CriticalityNone, 0},
		{types.CriticalityVeryLow, 1},
		{types.CriticalityLow, 2},
		{types.CriticalityMedium, 3},
		{types.CriticalityHigh, 4},
		{types.CriticalityVeryHigh, 5},
		{types.CriticalityUnset, 3},
		{types.BusinessCriticality("mission critical"), 3},
	}

	for _, tt := range tests {
		t.Run(string(tt.criticality), func(t *testing.T) {
			assert.Equal(t, tt.expected, BusinessCriticalityScore(tt.criticality))
		})
	}
}

func TestNetworkReachabilityScore(t *testing.T) {
	assert.Equal(t, 1, NetworkReachabilityScore(true))
	assert.Equal(t, 0, NetworkReachabilityScore(false))
}

func TestCVEScore(t *testing.T) {
	tests := []struct {
		name     string
		finding  types.Finding
		expected float64
	}{
		{name: "critical without score", finding: types.Finding{Severity: types.SeverityCritical}, expected: 10},
		{name: "high without score", finding: types.Finding{Severity: types.SeverityHigh}, expected: 7.9},
		{name: "medium without score", finding: types.Finding{Severity: types.SeverityMedium}, expected: 5.9},
		{name: "low without score", finding: types.Finding{Severity: types.SeverityLow}, expected: 3.9},
		{name: "informational without score", finding: types.Finding{Severity: types.SeverityInformational}, expected: 1.9},
		{name: "unknown severity", finding: types.Finding{Severity: "Severe"}, expected: 5.0},
		{name: "missing severity", finding: types.Finding{}, expected: 5.0},
		{name: "zero score falls back to severity", finding: types.Finding{Severity: types.SeverityHigh, CVSSScore: ptr(0)}, expected: 7.9},
		{name: "score overrides severity", finding: types.Finding{Severity: types.SeverityCritical, CVSSScore: ptr(4.2)}, expected: 4.2},
		{name: "score overrides unknown severity", finding: types.Finding{Severity: "Severe", CVSSScore: ptr(9.1)}, expected: 9.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, CVEScore(tt.finding), 1e-9)
		})
	}
}

func TestScoreFormula(t *testing.T) {
	policy := types.PolicyConfig{
		BusinessCriticalityWeight: 40,
		NetworkReachabilityWeight: 20,
		CVEWeight:                 40,
		ToleranceThreshold:        7,
	}

	t.Run("unset criticality internet facing", func(t *testing.T) {
		finding := types.Finding{Severity: types.SeverityHigh, CVSSScore: ptr(7.5)}
		product := types.ProductContext{InternetAccessible: true}

		b := Explain(policy, finding, product)
		assert.Equal(t, 3, b.BusinessCriticality)
		assert.Equal(t, 1, b.NetworkReachability)
		assert.InDelta(t, 7.5, b.CVE, 1e-9)
		// 2.4 + 2.0 + 3.0
		assert.InDelta(t, 7.4, b.Final, 1e-9)
		assert.InDelta(t, 7.4, Score(policy, finding, product), 1e-9)
	})

	t.Run("explicit none criticality internal", func(t *testing.T) {
		finding := types.Finding{Severity: types.SeverityLow}
		product := types.ProductContext{BusinessCriticality: types.CriticalityNone}

		// 0 + 0 + 3.9*0.4
		assert.InDelta(t, 1.56, Score(policy, finding, product), 1e-9)
	})

	t.Run("maximum inputs", func(t *testing.T) {
		finding := types.Finding{Severity: types.SeverityCritical}
		product := types.ProductContext{BusinessCriticality: types.CriticalityVeryHigh, InternetAccessible: true}

		assert.InDelta(t, 10.0, Score(policy, finding, product), 1e-9)
	})
}

func TestScoreMalformedWeights(t *testing.T) {
	finding := types.Finding{Severity: types.SeverityCritical}
	product := types.ProductContext{BusinessCriticality: types.CriticalityVeryHigh, InternetAccessible: true}

	t.Run("weights above 100", func(t *testing.T) {
		policy := types.PolicyConfig{BusinessCriticalityWeight: 100, NetworkReachabilityWeight: 100, CVEWeight: 100}
		assert.InDelta(t, 30.0, Score(policy, finding, product), 1e-9)
	})

	t.Run("negative weights", func(t *testing.T) {
		policy := types.PolicyConfig{BusinessCriticalityWeight: -50, CVEWeight: 50}
		assert.InDelta(t, 0.0, Score(policy, finding, product), 1e-9)
	})

	t.Run("zero weights", func(t *testing.T) {
		assert.Equal(t, 0.0, Score(types.PolicyConfig{}, finding, product))
	})
}

func TestScoreDeterministic(t *testing.T) {
	policy := types.PolicyConfig{BusinessCriticalityWeight: 33.3, NetworkReachabilityWeight: 33.3, CVEWeight: 33.4}
	finding := types.Finding{Severity: types.SeverityMedium, CVSSScore: ptr(6.1)}
	product := types.ProductContext{BusinessCriticality: types.CriticalityHigh}

	first := Score(policy, finding, product)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Score(policy, finding, product))
	}
	assert.InDelta(t, 6.1, *finding.CVSSScore, 0)
}

func TestTolerable(t *testing.T) {
	policy := types.PolicyConfig{ToleranceThreshold: 7.4}

	assert.True(t, Tolerable(policy, 7.39))
	assert.False(t, Tolerable(policy, 7.4), "score equal to threshold is untolerable")
	assert.False(t, Tolerable(policy, 9))
}
