// ABOUTME: PostgreSQL store for engagements, findings, policies and validation verdicts.
// ABOUTME: Implements every store interface the engine uses on top of pgx.

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jfeddern/RiskGate/internal/providers/local"
	"github.com/jfeddern/RiskGate/internal/types"
	"github.com/sirupsen/logrus"
)

const foreignKeyViolation = "23503"

// Store reads and writes RiskGate data in PostgreSQL
type Store struct {
	pool   *pgxpool.Pool
	logger *logrus.Logger
}

func NewStore(pool *pgxpool.Pool, logger *logrus.Logger) *Store {
	return &Store{
		pool:   pool,
		logger: logger,
	}
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const eligibleFindingsQuery = `
SELECT f.id, f.test_id, f.title, f.severity, f.cvss_score, f.cvss_vector,
       f.active, f.is_mitigated, f.risk_accepted, f.out_of_scope, f.false_p,
       f.residual_risk_level, p.business_criticality, p.internet_accessible
FROM findings f
JOIN tests t ON t.id = f.test_id
JOIN engagements e ON e.id = t.engagement_id
JOIN products p ON p.id = e.product_id
WHERE e.id = $1
  AND f.active AND NOT f.is_mitigated AND NOT f.risk_accepted
  AND NOT f.out_of_scope AND NOT f.false_p
ORDER BY f.id`

// EligibleFindings returns the eligible findings of the engagement with their product context
func (s *Store) EligibleFindings(ctx context.Context, engagementID int64) ([]types.Finding, error) {
	if err := s.engagementExists(ctx, s.pool, engagementID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, eligibleFindingsQuery, engagementID)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	var findings []types.Finding
	for rows.Next() {
		var f types.Finding
		var severity string
		var criticality *string
		if err := rows.Scan(
			&f.ID, &f.TestID, &f.Title, &severity, &f.CVSSScore, &f.CVSSVector,
			&f.Active, &f.Mitigated, &f.RiskAccepted, &f.OutOfScope, &f.FalsePositive,
			&f.ResidualRiskLevel, &criticality, &f.Product.InternetAccessible,
		); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		f.Severity = types.Severity(severity)
		if criticality != nil {
			f.Product.BusinessCriticality = types.BusinessCriticality(*criticality)
		}
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read findings: %w", err)
	}

	return findings, nil
}

func (s *Store) engagementExists(ctx context.Context, q Querier, id int64) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM engagements WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up engagement %d: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("engagement %d: %w", id, types.ErrNotFound)
	}
	return nil
}

// DefaultPolicy returns the default policy with the lowest ID, or nil when none is marked default
func (s *Store) DefaultPolicy(ctx context.Context) (*types.PolicyConfig, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, name, business_criticality_weight, network_reachability_weight, cve_weight, tolerance, is_default
FROM residual_risk_settings
WHERE is_default
ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query residual risk settings: %w", err)
	}

	policies, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.PolicyConfig, error) {
		var p types.PolicyConfig
		err := row.Scan(&p.ID, &p.Name, &p.BusinessCriticalityWeight, &p.NetworkReachabilityWeight, &p.CVEWeight, &p.ToleranceThreshold, &p.IsDefault)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read residual risk settings: %w", err)
	}

	if len(policies) == 0 {
		return nil, nil
	}
	if len(policies) > 1 {
		s.logger.WithFields(logrus.Fields{
			"component":  "postgres_store",
			"candidates": len(policies),
			"policy_id":  policies[0].ID,
		}).Warn("Multiple default policies configured, using lowest ID")
	}

	return &policies[0], nil
}

// SaveResidualRiskLevels writes all scores in one transaction
func (s *Store) SaveResidualRiskLevels(ctx context.Context, scores []types.ScoredFinding) error {
	return withTransaction(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, sc := range scores {
			batch.Queue(`UPDATE findings SET residual_risk_level = $2 WHERE id = $1`, sc.FindingID, sc.Score)
		}

		results := tx.SendBatch(ctx, batch)
		for _, sc := range scores {
			tag, err := results.Exec()
			if err != nil {
				results.Close()
				return fmt.Errorf("failed to update finding %d: %w", sc.FindingID, err)
			}
			if tag.RowsAffected() == 0 {
				results.Close()
				return fmt.Errorf("finding %d: %w", sc.FindingID, types.ErrNotFound)
			}
		}
		return results.Close()
	})
}

// CreateValidation stores the verdict and its per-finding classification
func (s *Store) CreateValidation(ctx context.Context, result *types.ValidationResult) error {
	return withTransaction(ctx, s.pool, func(tx pgx.Tx) error {
		return insertValidation(ctx, tx, result)
	})
}

func insertValidation(ctx context.Context, tx pgx.Tx, result *types.ValidationResult) error {
	_, err := tx.Exec(ctx, `
INSERT INTO engagement_validations (id, engagement_id, valid, mode, policy_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		result.ID, result.EngagementID, result.Valid, result.Mode, result.PolicyID, result.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert validation: %w", err)
	}

	rows := make([][]any, 0, len(result.TolerableFindings)+len(result.UntolerableFindings))
	rows = appendClassified(rows, result, result.TolerableFindings, true)
	rows = appendClassified(rows, result, result.UntolerableFindings, false)
	if len(rows) == 0 {
		return nil
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"engagement_validation_findings"},
		[]string{"validation_id", "finding_id", "tolerable", "score"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to insert validation findings: %w", err)
	}
	return nil
}

func appendClassified(rows [][]any, result *types.ValidationResult, ids []int64, tolerable bool) [][]any {
	for _, id := range ids {
		var score *float64
		if s, ok := result.Scores[id]; ok {
			score = &s
		}
		rows = append(rows, []any{result.ID, id, tolerable, score})
	}
	return rows
}

// LatestValidations returns the most recent verdict of every engagement
func (s *Store) LatestValidations(ctx context.Context) ([]types.ValidationResult, error) {
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT ON (engagement_id) id, engagement_id, valid, mode, policy_id, created_at
FROM engagement_validations
ORDER BY engagement_id, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query validations: %w", err)
	}

	results, err := pgx.CollectRows(rows, scanValidation)
	if err != nil {
		return nil, fmt.Errorf("failed to read validations: %w", err)
	}
	if err := s.loadValidationFindings(ctx, results); err != nil {
		return nil, err
	}
	return results, nil
}

// Validations returns every stored verdict of an engagement, oldest first
func (s *Store) Validations(ctx context.Context, engagementID int64) ([]types.ValidationResult, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, engagement_id, valid, mode, policy_id, created_at
FROM engagement_validations
WHERE engagement_id = $1
ORDER BY created_at, id`, engagementID)
	if err != nil {
		return nil, fmt.Errorf("failed to query validations: %w", err)
	}

	results, err := pgx.CollectRows(rows, scanValidation)
	if err != nil {
		return nil, fmt.Errorf("failed to read validations: %w", err)
	}
	if err := s.loadValidationFindings(ctx, results); err != nil {
		return nil, err
	}
	return results, nil
}

func scanValidation(row pgx.CollectableRow) (types.ValidationResult, error) {
	var v types.ValidationResult
	err := row.Scan(&v.ID, &v.EngagementID, &v.Valid, &v.Mode, &v.PolicyID, &v.CreatedAt)
	v.TolerableFindings = []int64{}
	v.UntolerableFindings = []int64{}
	return v, err
}

func (s *Store) loadValidationFindings(ctx context.Context, results []types.ValidationResult) error {
	for i := range results {
		v := &results[i]
		rows, err := s.pool.Query(ctx, `
SELECT finding_id, tolerable, score
FROM engagement_validation_findings
WHERE validation_id = $1
ORDER BY finding_id`, v.ID)
		if err != nil {
			return fmt.Errorf("failed to query validation findings: %w", err)
		}

		for rows.Next() {
			var findingID int64
			var tolerable bool
			var score *float64
			if err := rows.Scan(&findingID, &tolerable, &score); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan validation finding: %w", err)
			}
			if tolerable {
				v.TolerableFindings = append(v.TolerableFindings, findingID)
			} else {
				v.UntolerableFindings = append(v.UntolerableFindings, findingID)
			}
			if score != nil {
				if v.Scores == nil {
					v.Scores = make(map[int64]float64)
				}
				v.Scores[findingID] = *score
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to read validation findings: %w", err)
		}
	}
	return nil
}

const engagementColumns = `id, product_id, name, target_start, target_end, active, status, commit_hash,
       tracker_provider, tracker_project, tracker_issue`

func (s *Store) GetEngagement(ctx context.Context, id int64) (*types.Engagement, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+engagementColumns+` FROM engagements WHERE id = $1`, id)

	var e types.Engagement
	var provider, project *string
	var issue *int
	err := row.Scan(&e.ID, &e.ProductID, &e.Name, &e.TargetStart, &e.TargetEnd, &e.Active, &e.Status, &e.CommitHash,
		&provider, &project, &issue)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("engagement %d: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load engagement %d: %w", id, err)
	}

	if provider != nil && project != nil && issue != nil {
		e.TrackerLink = &types.TrackerLink{Provider: *provider, Project: *project, Issue: *issue}
	}
	return &e, nil
}

// CreateEngagement applies engagement defaults and inserts it, setting its ID
func (s *Store) CreateEngagement(ctx context.Context, engagement *types.Engagement) error {
	engagement.ApplyDefaults()
	provider, project, issue := trackerColumns(engagement.TrackerLink)

	err := s.pool.QueryRow(ctx, `
INSERT INTO engagements (product_id, name, target_start, target_end, active, status, commit_hash,
                         tracker_provider, tracker_project, tracker_issue)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id`,
		engagement.ProductID, engagement.Name, engagement.TargetStart, engagement.TargetEnd, engagement.Active,
		engagement.Status, engagement.CommitHash, provider, project, issue,
	).Scan(&engagement.ID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return fmt.Errorf("engagement references unknown product %d: %w", engagement.ProductID, types.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to insert engagement: %w", err)
	}
	return nil
}

func (s *Store) SaveEngagement(ctx context.Context, engagement *types.Engagement) error {
	provider, project, issue := trackerColumns(engagement.TrackerLink)

	tag, err := s.pool.Exec(ctx, `
UPDATE engagements
SET product_id = $2, name = $3, target_start = $4, target_end = $5, active = $6, status = $7,
    commit_hash = $8, tracker_provider = $9, tracker_project = $10, tracker_issue = $11
WHERE id = $1`,
		engagement.ID, engagement.ProductID, engagement.Name, engagement.TargetStart, engagement.TargetEnd,
		engagement.Active, engagement.Status, engagement.CommitHash, provider, project, issue,
	)
	if err != nil {
		return fmt.Errorf("failed to update engagement %d: %w", engagement.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("engagement %d: %w", engagement.ID, types.ErrNotFound)
	}
	return nil
}

func trackerColumns(link *types.TrackerLink) (provider, project *string, issue *int) {
	if link == nil {
		return nil, nil, nil
	}
	return &link.Provider, &link.Project, &link.Issue
}

// CreateTest inserts the test and its findings in one transaction, setting the test ID
func (s *Store) CreateTest(ctx context.Context, test *types.Test, findings []types.Finding) error {
	return withTransaction(ctx, s.pool, func(tx pgx.Tx) error {
		if err := s.engagementExists(ctx, tx, test.EngagementID); err != nil {
			return err
		}

		err := tx.QueryRow(ctx, `
INSERT INTO tests (engagement_id, title, scan_type) VALUES ($1, $2, $3) RETURNING id`,
			test.EngagementID, test.Title, test.ScanType,
		).Scan(&test.ID)
		if err != nil {
			return fmt.Errorf("failed to insert test: %w", err)
		}

		for i := range findings {
			f := &findings[i]
			f.TestID = test.ID

			err := tx.QueryRow(ctx, `
INSERT INTO findings (test_id, title, severity, cvss_score, cvss_vector, active, is_mitigated,
                      risk_accepted, out_of_scope, false_p)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id`,
				f.TestID, f.Title, string(f.Severity), f.CVSSScore, f.CVSSVector, f.Active, f.Mitigated,
				f.RiskAccepted, f.OutOfScope, f.FalsePositive,
			).Scan(&f.ID)
			if err != nil {
				return fmt.Errorf("failed to insert finding %q: %w", f.Title, err)
			}
		}
		return nil
	})
}

// Seed loads a fixture with its original IDs in one transaction and advances the ID sequences past them
func (s *Store) Seed(ctx context.Context, fixture local.Fixture) error {
	// Loading through the in-memory store checks references and resolves CVSS vectors
	staged := local.NewStore(s.logger)
	if err := staged.Load(fixture); err != nil {
		return fmt.Errorf("invalid fixture: %w", err)
	}
	fixture = staged.Snapshot()

	err := withTransaction(ctx, s.pool, func(tx pgx.Tx) error {
		for _, p := range fixture.Products {
			var criticality *string
			if p.BusinessCriticality != types.CriticalityUnset {
				c := string(p.BusinessCriticality)
				criticality = &c
			}
			if _, err := tx.Exec(ctx, `
INSERT INTO products (id, name, business_criticality, internet_accessible) VALUES ($1, $2, $3, $4)`,
				p.ID, p.Name, criticality, p.InternetAccessible); err != nil {
				return fmt.Errorf("failed to insert product %d: %w", p.ID, err)
			}
		}

		for _, e := range fixture.Engagements {
			if e.Status == "" {
				e.Status = types.StatusNotStarted
			}
			provider, project, issue := trackerColumns(e.TrackerLink)
			if _, err := tx.Exec(ctx, `
INSERT INTO engagements (id, product_id, name, target_start, target_end, active, status, commit_hash,
                         tracker_provider, tracker_project, tracker_issue)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				e.ID, e.ProductID, e.Name, e.TargetStart, e.TargetEnd, e.Active, e.Status, e.CommitHash,
				provider, project, issue); err != nil {
				return fmt.Errorf("failed to insert engagement %d: %w", e.ID, err)
			}
		}

		for _, t := range fixture.Tests {
			if _, err := tx.Exec(ctx, `INSERT INTO tests (id, engagement_id, title, scan_type) VALUES ($1, $2, $3, $4)`,
				t.ID, t.EngagementID, t.Title, t.ScanType); err != nil {
				return fmt.Errorf("failed to insert test %d: %w", t.ID, err)
			}
		}

		for _, f := range fixture.Findings {
			if _, err := tx.Exec(ctx, `
INSERT INTO findings (id, test_id, title, severity, cvss_score, cvss_vector, active, is_mitigated,
                      risk_accepted, out_of_scope, false_p, residual_risk_level)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
				f.ID, f.TestID, f.Title, string(f.Severity), f.CVSSScore, f.CVSSVector, f.Active, f.Mitigated,
				f.RiskAccepted, f.OutOfScope, f.FalsePositive, f.ResidualRiskLevel); err != nil {
				return fmt.Errorf("failed to insert finding %d: %w", f.ID, err)
			}
		}

		for _, p := range fixture.Policies {
			if _, err := tx.Exec(ctx, `
INSERT INTO residual_risk_settings (id, name, business_criticality_weight, network_reachability_weight,
                                    cve_weight, tolerance, is_default)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				p.ID, p.Name, p.BusinessCriticalityWeight, p.NetworkReachabilityWeight, p.CVEWeight,
				p.ToleranceThreshold, p.IsDefault); err != nil {
				return fmt.Errorf("failed to insert policy %d: %w", p.ID, err)
			}
		}

		for i := range fixture.Validations {
			v := fixture.Validations[i]
			if v.ID == uuid.Nil {
				v.ID = uuid.New()
			}
			if v.CreatedAt.IsZero() {
				v.CreatedAt = time.Now().UTC()
			}
			if err := insertValidation(ctx, tx, &v); err != nil {
				return fmt.Errorf("engagement %d: %w", v.EngagementID, err)
			}
		}

		for _, table := range []string{"products", "engagements", "tests", "findings", "residual_risk_settings"} {
			if _, err := tx.Exec(ctx, fmt.Sprintf(
				`SELECT setval(pg_get_serial_sequence('%[1]s', 'id'), COALESCE((SELECT MAX(id) FROM %[1]s), 0) + 1, false)`,
				table)); err != nil {
				return fmt.Errorf("failed to advance %s sequence: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"component":   "postgres_store",
		"products":    len(fixture.Products),
		"engagements": len(fixture.Engagements),
		"findings":    len(fixture.Findings),
		"policies":    len(fixture.Policies),
		"validations": len(fixture.Validations),
	}).Info("Seeded database from fixture")
	return nil
}
