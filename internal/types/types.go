// ABOUTME: Common types shared across the RiskGate system.
// ABOUTME: Defines engagements, findings, residual risk policies and validation verdicts.

package types

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by stores when a requested record does not exist
var ErrNotFound = errors.New("not found")

// Severity of a finding as reported by the scanner or tester
type Severity string

const (
	SeverityCritical      Severity = "Critical"
	SeverityHigh          Severity = "High"
	SeverityMedium        Severity = "Medium"
	SeverityLow           Severity = "Low"
	SeverityInformational Severity = "Informational"
)

// BusinessCriticality of a product. The zero value means the criticality was never set,
// which is not the same as CriticalityNone.
type BusinessCriticality string

const (
	CriticalityUnset    BusinessCriticality = ""
	CriticalityNone     BusinessCriticality = "none"
	CriticalityVeryLow  BusinessCriticality = "very low"
	CriticalityLow      BusinessCriticality = "low"
	CriticalityMedium   BusinessCriticality = "medium"
	CriticalityHigh     BusinessCriticality = "high"
	CriticalityVeryHigh BusinessCriticality = "very high"
)

// Engagement statuses
const (
	StatusNotStarted = "Not Started"
	StatusInProgress = "In Progress"
	StatusCompleted  = "Completed"
)

// Validation modes
const (
	ModePolicy           = "policy"
	ModeSeverityFallback = "severity_fallback"
)

// PolicyConfig holds the residual risk settings. Weights are expected to sum to 100
// but are passed through as configured.
type PolicyConfig struct {
	ID                        int64   `json:"id" yaml:"id"`
	Name                      string  `json:"name" yaml:"name"`
	BusinessCriticalityWeight float64 `json:"business_criticality_weight" yaml:"business_criticality_weight"`
	NetworkReachabilityWeight float64 `json:"network_reachability_weight" yaml:"network_reachability_weight"`
	CVEWeight                 float64 `json:"cve_weight" yaml:"cve_weight"`
	ToleranceThreshold        float64 `json:"tolerance_threshold" yaml:"tolerance_threshold"`
	IsDefault                 bool    `json:"is_default" yaml:"is_default"`
}

// ProductContext carries the attributes of a finding's owning product used for scoring
type ProductContext struct {
	BusinessCriticality BusinessCriticality `json:"business_criticality" yaml:"business_criticality"`
	InternetAccessible  bool                `json:"internet_accessible" yaml:"internet_accessible"`
}

// Product is the system under test that engagements belong to
type Product struct {
	ID                  int64               `json:"id" yaml:"id"`
	Name                string              `json:"name" yaml:"name"`
	BusinessCriticality BusinessCriticality `json:"business_criticality" yaml:"business_criticality"`
	InternetAccessible  bool                `json:"internet_accessible" yaml:"internet_accessible"`
}

// Context returns the scoring attributes of the product
func (p Product) Context() ProductContext {
	return ProductContext{
		BusinessCriticality: p.BusinessCriticality,
		InternetAccessible:  p.InternetAccessible,
	}
}

// Finding represents a single security finding reported in a test
type Finding struct {
	ID                int64          `json:"id" yaml:"id"`
	TestID            int64          `json:"test_id" yaml:"test_id"`
	Title             string         `json:"title" yaml:"title"`
	Severity          Severity       `json:"severity" yaml:"severity"`
	CVSSScore         *float64       `json:"cvss_score,omitempty" yaml:"cvss_score,omitempty"`
	CVSSVector        string         `json:"cvss_vector,omitempty" yaml:"cvss_vector,omitempty"`
	Active            bool           `json:"active" yaml:"active"`
	Mitigated         bool           `json:"is_mitigated" yaml:"is_mitigated"`
	RiskAccepted      bool           `json:"risk_accepted" yaml:"risk_accepted"`
	OutOfScope        bool           `json:"out_of_scope" yaml:"out_of_scope"`
	FalsePositive     bool           `json:"false_p" yaml:"false_p"`
	ResidualRiskLevel *float64       `json:"residual_risk_level,omitempty" yaml:"residual_risk_level,omitempty"`
	Product           ProductContext `json:"product" yaml:"-"`
}

// Eligible reports whether the finding counts towards an engagement validation
func (f Finding) Eligible() bool {
	return f.Active && !f.Mitigated && !f.RiskAccepted && !f.OutOfScope && !f.FalsePositive
}

// TrackerLink points at the external epic tracking an engagement
type TrackerLink struct {
	Provider string `json:"provider" yaml:"provider"` // "github" or "gitlab"
	Project  string `json:"project" yaml:"project"`   // "owner/repo" or GitLab project path/ID
	Issue    int    `json:"issue" yaml:"issue"`
}

// Engagement groups the tests performed against a product
type Engagement struct {
	ID          int64        `json:"id" yaml:"id"`
	ProductID   int64        `json:"product_id" yaml:"product_id"`
	Name        string       `json:"name" yaml:"name"`
	TargetStart time.Time    `json:"target_start" yaml:"target_start"`
	TargetEnd   time.Time    `json:"target_end" yaml:"target_end"`
	Active      bool         `json:"active" yaml:"active"`
	Status      string       `json:"status" yaml:"status"`
	CommitHash  string       `json:"commit_hash,omitempty" yaml:"commit_hash,omitempty"`
	TrackerLink *TrackerLink `json:"tracker_link,omitempty" yaml:"tracker_link,omitempty"`
}

// ApplyDefaults fills in values that must be present before the engagement is stored.
// An engagement without a name is named after its target start date.
func (e *Engagement) ApplyDefaults() {
	if e.Name == "" {
		e.Name = e.TargetStart.Format("2006-01-02")
	}
}

// Test is a single scan or manual test inside an engagement
type Test struct {
	ID           int64  `json:"id" yaml:"id"`
	EngagementID int64  `json:"engagement_id" yaml:"engagement_id"`
	Title        string `json:"title" yaml:"title"`
	ScanType     string `json:"scan_type" yaml:"scan_type"`
}

// ScoredFinding is the residual risk level computed for one finding
type ScoredFinding struct {
	FindingID int64   `json:"finding_id"`
	Score     float64 `json:"score"`
}

// ValidationResult is the verdict recorded for an engagement
type ValidationResult struct {
	ID                  uuid.UUID         `json:"id" yaml:"id"`
	EngagementID        int64             `json:"engagement_id" yaml:"engagement_id"`
	Valid               bool              `json:"valid" yaml:"valid"`
	Mode                string            `json:"mode" yaml:"mode"`
	PolicyID            *int64            `json:"policy_id,omitempty" yaml:"policy_id,omitempty"`
	TolerableFindings   []int64           `json:"tolerable_findings" yaml:"tolerable_findings"`
	UntolerableFindings []int64           `json:"untolerable_findings" yaml:"untolerable_findings"`
	Scores              map[int64]float64 `json:"scores,omitempty" yaml:"scores,omitempty"`
	CreatedAt           time.Time         `json:"created_at" yaml:"created_at"`
}
