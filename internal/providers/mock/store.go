// ABOUTME: Demo dataset for mock mode, served from the local in-memory store.
// ABOUTME: Covers policy scoring, unset criticality and severity fallback without a database.

package mock

import (
	"time"

	"github.com/jfeddern/RiskGate/internal/providers/local"
	"github.com/jfeddern/RiskGate/internal/types"
	"github.com/sirupsen/logrus"
)

// DemoFixture returns the mock dataset. Engagement 1 belongs to an internet facing product
// without a criticality, engagement 2 to an internal one, engagement 3 has no findings.
func DemoFixture() local.Fixture {
	start := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

	return local.Fixture{
		Products: []types.Product{
			{ID: 1, Name: "web-frontend", InternetAccessible: true},
			{ID: 2, Name: "billing-worker", BusinessCriticality: types.CriticalityLow},
		},
		Engagements: []types.Engagement{
			{
				ID: 1, ProductID: 1, TargetStart: start, TargetEnd: start.AddDate(0, 0, 14),
				Active: true, Status: types.StatusInProgress, CommitHash: "9f2c1e4",
				TrackerLink: &types.TrackerLink{Provider: "github", Project: "example/web-frontend", Issue: 42},
			},
			{
				ID: 2, ProductID: 2, Name: "billing quarterly review", TargetStart: start, TargetEnd: start.AddDate(0, 0, 7),
				Active: true, Status: types.StatusInProgress,
			},
			{
				ID: 3, ProductID: 2, TargetStart: start.AddDate(0, 1, 0), TargetEnd: start.AddDate(0, 1, 7),
				Active: true, Status: types.StatusNotStarted,
			},
		},
		Tests: []types.Test{
			{ID: 1, EngagementID: 1, Title: "web-frontend:v1.2.3", ScanType: "aws-ecr"},
			{ID: 2, EngagementID: 2, Title: "billing-worker:latest", ScanType: "aws-ecr"},
		},
		Findings: []types.Finding{
			{ID: 1, TestID: 1, Title: "CVE-2024-7592 - nginx HTTP/2 buffer overflow", Severity: types.SeverityCritical,
				CVSSVector: "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H", Active: true},
			{ID: 2, TestID: 1, Title: "CVE-2024-2961 - libc6 buffer overflow", Severity: types.SeverityMedium, Active: true},
			{ID: 3, TestID: 1, Title: "CVE-2023-44487 - HTTP/2 rapid reset", Severity: types.SeverityHigh,
				Active: true, RiskAccepted: true},
			{ID: 4, TestID: 2, Title: "CVE-2024-0727 - openssl denial of service", Severity: types.SeverityMedium, Active: true},
			{ID: 5, TestID: 2, Title: "CVE-2024-2398 - curl heap buffer overflow", Severity: types.SeverityLow, Active: true},
			{ID: 6, TestID: 2, Title: "CVE-2022-3602 - openssl punycode overflow", Severity: types.SeverityHigh,
				Active: false, Mitigated: true},
		},
		Policies: []types.PolicyConfig{
			{
				ID: 1, Name: "default",
				BusinessCriticalityWeight: 40, NetworkReachabilityWeight: 20, CVEWeight: 40,
				ToleranceThreshold: 7.4, IsDefault: true,
			},
		},
	}
}

// NewStore creates a local store seeded with the demo dataset
func NewStore(logger *logrus.Logger) *local.Store {
	logger.Info("Using mock demo dataset")

	store := local.NewStore(logger)
	// The demo fixture is consistent, Load cannot fail on it
	_ = store.Load(DemoFixture())
	return store
}
