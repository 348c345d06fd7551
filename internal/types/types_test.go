// ABOUTME: Unit tests for shared types.
// ABOUTME: Covers finding eligibility and engagement defaulting.

package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFindingEligible(t *testing.T) {
	tests := []struct {
		name     string
		finding  Finding
		expected bool
	}{
		{name: "active open finding", finding: Finding{Active: true}, expected: true},
		{name: "inactive", finding: Finding{Active: false}, expected: false},
		{name: "mitigated", finding: Finding{Active: true, Mitigated: true}, expected: false},
		{name: "risk accepted", finding: Finding{Active: true, RiskAccepted: true}, expected: false},
		{name: "out of scope", finding: Finding{Active: true, OutOfScope: true}, expected: false},
		{name: "false positive", finding: Finding{Active: true, FalsePositive: true}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.finding.Eligible())
		})
	}
}

func TestEngagementApplyDefaults(t *testing.T) {
	start := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

	t.Run("empty name derived from target start", func(t *testing.T) {
		e := &Engagement{TargetStart: start}
		e.ApplyDefaults()
		assert.Equal(t, "2025-03-14", e.Name)
	})

	t.Run("existing name kept", func(t *testing.T) {
		e := &Engagement{Name: "Q1 pentest", TargetStart: start}
		e.ApplyDefaults()
		assert.Equal(t, "Q1 pentest", e.Name)
	})
}
