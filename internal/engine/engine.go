// ABOUTME: Residual risk engine that validates engagements against the default policy.
// ABOUTME: Coordinates the finding store, policy resolver and result writer for each validation.

package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jfeddern/RiskGate/internal/scoring"
	"github.com/jfeddern/RiskGate/internal/types"
	"github.com/sirupsen/logrus"
)

// FindingSource supplies the eligible findings of an engagement together with their product context
type FindingSource interface {
	EligibleFindings(ctx context.Context, engagementID int64) ([]types.Finding, error)
}

// PolicyResolver returns the default residual risk policy, or nil when none is configured
type PolicyResolver interface {
	DefaultPolicy(ctx context.Context) (*types.PolicyConfig, error)
}

// ResultWriter persists residual risk levels and validation verdicts
type ResultWriter interface {
	SaveResidualRiskLevels(ctx context.Context, scores []types.ScoredFinding) error
	CreateValidation(ctx context.Context, result *types.ValidationResult) error
}

// ValidationHistory returns the most recent stored verdict of every engagement
type ValidationHistory interface {
	LatestValidations(ctx context.Context) ([]types.ValidationResult, error)
}

// Recorder receives validation outcomes for instrumentation
type Recorder interface {
	RecordValidation(result *types.ValidationResult, duration time.Duration)
}

// Config holds configuration for the residual risk service
type Config struct {
	Mode            string `validate:"oneof=postgres local"`
	Port            int    `validate:"min=1,max=65535"`
	DatabaseURL     string `validate:"required_if=Mode postgres MockMode false"`
	FixtureFile     string `validate:"required_if=Mode local MockMode false"`
	PolicySource    string `validate:"oneof=store kubernetes"`
	PolicyNamespace string `validate:"required_if=PolicySource kubernetes"`
	PolicyCacheTTL  time.Duration
	GitHubToken     string
	GitLabToken     string
	GitLabBaseURL   string `validate:"omitempty,url"`
	KafkaBrokers    []string
	KafkaTopic      string `validate:"required_with=KafkaBrokers"`
	ECRAccountID    string `validate:"required_with=ECRRegion"`
	ECRRegion       string `validate:"required_with=ECRAccountID"`
	MockMode        bool   // Enable the built-in demo dataset
}

// Engine validates engagements and remembers the latest verdict of each one
type Engine struct {
	findings FindingSource
	policies PolicyResolver
	results  ResultWriter
	recorder Recorder
	logger   *logrus.Logger

	engagements EngagementStore
	tracker     TrackerNotifier

	now func() time.Time

	mutex              sync.RWMutex
	latest             map[int64]*types.ValidationResult
	lastValidationTime time.Time
}

// Option customises an Engine
type Option func(*Engine)

// WithRecorder attaches an instrumentation recorder
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithEngagementStore enables the engagement lifecycle operations
func WithEngagementStore(s EngagementStore) Option {
	return func(e *Engine) { e.engagements = s }
}

// WithTracker enables closing linked tracker epics when an engagement is closed
func WithTracker(t TrackerNotifier) Option {
	return func(e *Engine) { e.tracker = t }
}

// NewEngine creates a new residual risk engine
func NewEngine(findings FindingSource, policies PolicyResolver, results ResultWriter, logger *logrus.Logger, opts ...Option) *Engine {
	e := &Engine{
		findings: findings,
		policies: policies,
		results:  results,
		logger:   logger,
		now:      time.Now,
		latest:   make(map[int64]*types.ValidationResult),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validate classifies the eligible findings of an engagement and records a new verdict.
// Any collaborator failure aborts the validation before a verdict is written.
func (e *Engine) Validate(ctx context.Context, engagementID int64) (*types.ValidationResult, error) {
	logger := e.logger.WithFields(logrus.Fields{
		"operation":     "validate_engagement",
		"engagement_id": engagementID,
	})
	startTime := e.now()

	findings, err := e.findings.EligibleFindings(ctx, engagementID)
	if err != nil {
		return nil, fmt.Errorf("failed to load findings for engagement %d: %w", engagementID, err)
	}
	findings = eligibleOnly(findings)

	logger.WithField("finding_count", len(findings)).Debug("Loaded eligible findings")

	policy, err := e.policies.DefaultPolicy(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve default policy: %w", err)
	}

	result := &types.ValidationResult{
		ID:                  uuid.New(),
		EngagementID:        engagementID,
		TolerableFindings:   []int64{},
		UntolerableFindings: []int64{},
	}

	if policy != nil {
		scores := e.scoreFindings(logger, *policy, findings)

		policyID := policy.ID
		result.Mode = types.ModePolicy
		result.PolicyID = &policyID
		result.Scores = make(map[int64]float64, len(scores))
		for _, s := range scores {
			result.Scores[s.FindingID] = s.Score
			if scoring.Tolerable(*policy, s.Score) {
				result.TolerableFindings = append(result.TolerableFindings, s.FindingID)
			} else {
				result.UntolerableFindings = append(result.UntolerableFindings, s.FindingID)
			}
		}

		if len(scores) > 0 {
			if err := e.results.SaveResidualRiskLevels(ctx, scores); err != nil {
				return nil, fmt.Errorf("failed to save residual risk levels: %w", err)
			}
		}
	} else {
		logger.Debug("No default policy configured, classifying by severity")
		result.Mode = types.ModeSeverityFallback
		result.TolerableFindings, result.UntolerableFindings = classifyBySeverity(findings)
	}

	sortIDs(result.TolerableFindings)
	sortIDs(result.UntolerableFindings)
	result.Valid = len(result.UntolerableFindings) == 0
	result.CreatedAt = e.now().UTC()

	if err := e.results.CreateValidation(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to store validation: %w", err)
	}

	e.mutex.Lock()
	e.latest[engagementID] = result
	e.lastValidationTime = result.CreatedAt
	e.mutex.Unlock()

	duration := e.now().Sub(startTime)
	if e.recorder != nil {
		e.recorder.RecordValidation(result, duration)
	}

	logger.WithFields(logrus.Fields{
		"validation_id": result.ID.String(),
		"mode":          result.Mode,
		"valid":         result.Valid,
		"tolerable":     len(result.TolerableFindings),
		"untolerable":   len(result.UntolerableFindings),
		"duration":      duration,
	}).Info("Engagement validation completed")

	return result, nil
}

// scoreFindings computes the residual risk level of every finding without side effects
func (e *Engine) scoreFindings(logger *logrus.Entry, policy types.PolicyConfig, findings []types.Finding) []types.ScoredFinding {
	scores := make([]types.ScoredFinding, 0, len(findings))
	for _, f := range findings {
		b := scoring.Explain(policy, f, f.Product)
		logger.WithFields(logrus.Fields{
			"finding_id": f.ID,
			"bcs":        b.BusinessCriticality,
			"nrs":        b.NetworkReachability,
			"cve":        b.CVE,
			"final":      b.Final,
		}).Debug("Scored finding")
		scores = append(scores, types.ScoredFinding{FindingID: f.ID, Score: b.Final})
	}
	return scores
}

// classifyBySeverity is used when no policy exists: critical and high findings are untolerable
func classifyBySeverity(findings []types.Finding) (tolerable, untolerable []int64) {
	tolerable = []int64{}
	untolerable = []int64{}
	for _, f := range findings {
		switch f.Severity {
		case types.SeverityCritical, types.SeverityHigh:
			untolerable = append(untolerable, f.ID)
		default:
			tolerable = append(tolerable, f.ID)
		}
	}
	return tolerable, untolerable
}

func eligibleOnly(findings []types.Finding) []types.Finding {
	eligible := findings[:0:0]
	for _, f := range findings {
		if f.Eligible() {
			eligible = append(eligible, f)
		}
	}
	return eligible
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// GetValidationData returns the latest verdict per engagement and the time of the last validation
func (e *Engine) GetValidationData() (map[int64]*types.ValidationResult, time.Time) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	// Return a copy to prevent race conditions
	data := make(map[int64]*types.ValidationResult, len(e.latest))
	for k, v := range e.latest {
		data[k] = v
	}

	return data, e.lastValidationTime
}

// Restore seeds the latest-verdict view from stored history, typically at startup.
// Verdicts already held in memory are only replaced by newer ones.
func (e *Engine) Restore(ctx context.Context, history ValidationHistory) error {
	results, err := history.LatestValidations(ctx)
	if err != nil {
		return fmt.Errorf("failed to load validation history: %w", err)
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	for i := range results {
		result := &results[i]
		if current, ok := e.latest[result.EngagementID]; ok && current.CreatedAt.After(result.CreatedAt) {
			continue
		}
		e.latest[result.EngagementID] = result
		if result.CreatedAt.After(e.lastValidationTime) {
			e.lastValidationTime = result.CreatedAt
		}
	}

	e.logger.WithFields(logrus.Fields{
		"operation":   "restore_validations",
		"engagements": len(results),
	}).Info("Restored validation history")
	return nil
}
