// ABOUTME: Residual risk scorer combining business criticality, exposure and CVE severity.
// ABOUTME: Pure functions; the caller decides what to do with the computed score.

package scoring

import (
	"github.com/jfeddern/RiskGate/internal/types"
)

// DefaultBusinessCriticalityScore is used when a product has no criticality set
const DefaultBusinessCriticalityScore = 3

// DefaultCVEScore is used when neither a CVSS score nor a known severity is available
const DefaultCVEScore = 5.0

var criticalityScores = map[types.BusinessCriticality]int{
	types.CriticalityNone:     0,
	types.CriticalityVeryLow:  1,
	types.CriticalityLow:      2,
	types.CriticalityMedium:   3,
	types.CriticalityHigh:     4,
	types.CriticalityVeryHigh: 5,
}

// Worst score of each CVSS severity band
var severityScores = map[types.Severity]float64{
	types.SeverityCritical:      10,
	types.SeverityHigh:          7.9,
	types.SeverityMedium:        5.9,
	types.SeverityLow:           3.9,
	types.SeverityInformational: 1.9,
}

// Breakdown holds the sub-scores that make up a residual risk score
type Breakdown struct {
	BusinessCriticality int     `json:"business_criticality"` // 0-5
	NetworkReachability int     `json:"network_reachability"` // 0-1
	CVE                 float64 `json:"cve"`                  // 0-10
	Final               float64 `json:"final"`
}

// BusinessCriticalityScore maps a product criticality onto 0-5
func BusinessCriticalityScore(c types.BusinessCriticality) int {
	if score, ok := criticalityScores[c]; ok {
		return score
	}
	// unset or unknown criticality is treated as medium
	return DefaultBusinessCriticalityScore
}

// NetworkReachabilityScore is 1 for internet facing products, 0 otherwise
func NetworkReachabilityScore(internetAccessible bool) int {
	if internetAccessible {
		return 1
	}
	return 0
}

// CVEScore returns the finding's CVSS score, or the worst score of its severity band
// when no score is available.
func CVEScore(f types.Finding) float64 {
	if f.CVSSScore != nil && *f.CVSSScore != 0 {
		return *f.CVSSScore
	}
	if score, ok := severityScores[f.Severity]; ok {
		return score
	}
	return DefaultCVEScore
}

// Explain computes the residual risk score along with its sub-scores.
// The result is not clamped: weights that do not sum to 100 move it off the 0-10 scale.
func Explain(policy types.PolicyConfig, f types.Finding, product types.ProductContext) Breakdown {
	bcs := BusinessCriticalityScore(product.BusinessCriticality)
	nrs := NetworkReachabilityScore(product.InternetAccessible)
	cve := CVEScore(f)

	// bcs and nrs are scaled onto 0-10 before weighting
	final := (float64(bcs)*2*policy.BusinessCriticalityWeight)/100.0 +
		(float64(nrs)*10*policy.NetworkReachabilityWeight)/100.0 +
		(cve*policy.CVEWeight)/100.0

	return Breakdown{
		BusinessCriticality: bcs,
		NetworkReachability: nrs,
		CVE:                 cve,
		Final:               final,
	}
}

// Score computes the residual risk level of a finding under the given policy
func Score(policy types.PolicyConfig, f types.Finding, product types.ProductContext) float64 {
	return Explain(policy, f, product).Final
}

// Tolerable reports whether a score stays below the policy's tolerance threshold
func Tolerable(policy types.PolicyConfig, score float64) bool {
	return score < policy.ToleranceThreshold
}
