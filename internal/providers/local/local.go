// ABOUTME: Local file-based store for development and testing purposes.
// ABOUTME: Loads products, engagements, findings and policies from a YAML or JSON fixture file.

package local

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/jfeddern/RiskGate/internal/cvss"
	"github.com/jfeddern/RiskGate/internal/types"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Fixture is the on-disk layout of a local dataset. JSON files are read as YAML.
type Fixture struct {
	Products    []types.Product          `yaml:"products"`
	Engagements []types.Engagement       `yaml:"engagements"`
	Tests       []types.Test             `yaml:"tests"`
	Findings    []types.Finding          `yaml:"findings"`
	Policies    []types.PolicyConfig     `yaml:"policies"`
	Validations []types.ValidationResult `yaml:"validations,omitempty"`
}

// Store keeps a dataset in memory and implements every store interface the engine uses
type Store struct {
	mutex       sync.RWMutex
	products    map[int64]types.Product
	engagements map[int64]*types.Engagement
	tests       map[int64]*types.Test
	findings    map[int64]*types.Finding
	policies    []types.PolicyConfig
	validations []types.ValidationResult
	nextID      int64
	logger      *logrus.Logger
}

// NewStore creates an empty store
func NewStore(logger *logrus.Logger) *Store {
	return &Store{
		products:    make(map[int64]types.Product),
		engagements: make(map[int64]*types.Engagement),
		tests:       make(map[int64]*types.Test),
		findings:    make(map[int64]*types.Finding),
		logger:      logger,
	}
}

// LoadFile reads a fixture file into a new store
func LoadFile(path string, logger *logrus.Logger) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file '%s': %w", path, err)
	}

	var fixture Fixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("failed to parse fixture file '%s': %w", path, err)
	}

	store := NewStore(logger)
	if err := store.Load(fixture); err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"operation":   "load_fixture",
		"file":        path,
		"engagements": len(fixture.Engagements),
		"findings":    len(fixture.Findings),
		"policies":    len(fixture.Policies),
	}).Info("Loaded local fixture")
	return store, nil
}

// Load adds the fixture's records to the store
func (s *Store) Load(fixture Fixture) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, p := range fixture.Products {
		s.products[p.ID] = p
		s.bumpID(p.ID)
	}
	for i := range fixture.Engagements {
		e := fixture.Engagements[i]
		if _, ok := s.products[e.ProductID]; !ok {
			return fmt.Errorf("engagement %d references unknown product %d", e.ID, e.ProductID)
		}
		e.ApplyDefaults()
		s.engagements[e.ID] = &e
		s.bumpID(e.ID)
	}
	for i := range fixture.Tests {
		t := fixture.Tests[i]
		if _, ok := s.engagements[t.EngagementID]; !ok {
			return fmt.Errorf("test %d references unknown engagement %d", t.ID, t.EngagementID)
		}
		s.tests[t.ID] = &t
		s.bumpID(t.ID)
	}
	for i := range fixture.Findings {
		f := fixture.Findings[i]
		if _, ok := s.tests[f.TestID]; !ok {
			return fmt.Errorf("finding %d references unknown test %d", f.ID, f.TestID)
		}
		if err := cvss.Resolve(&f); err != nil {
			s.logger.WithError(err).WithField("finding_id", f.ID).Warn("Ignoring unparsable CVSS vector")
		}
		s.findings[f.ID] = &f
		s.bumpID(f.ID)
	}
	for _, p := range fixture.Policies {
		s.policies = append(s.policies, p)
		s.bumpID(p.ID)
	}
	for _, v := range fixture.Validations {
		if _, ok := s.engagements[v.EngagementID]; !ok {
			return fmt.Errorf("validation %s references unknown engagement %d", v.ID, v.EngagementID)
		}
		s.validations = append(s.validations, v)
	}
	return nil
}

func (s *Store) bumpID(id int64) {
	if id > s.nextID {
		s.nextID = id
	}
}

func (s *Store) newID() int64 {
	s.nextID++
	return s.nextID
}

// EligibleFindings returns the eligible findings of the engagement with their product context
func (s *Store) EligibleFindings(ctx context.Context, engagementID int64) ([]types.Finding, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	engagement, ok := s.engagements[engagementID]
	if !ok {
		return nil, fmt.Errorf("engagement %d: %w", engagementID, types.ErrNotFound)
	}
	product := s.products[engagement.ProductID]

	var findings []types.Finding
	for _, f := range s.findings {
		test, ok := s.tests[f.TestID]
		if !ok || test.EngagementID != engagementID || !f.Eligible() {
			continue
		}
		finding := *f
		finding.Product = product.Context()
		findings = append(findings, finding)
	}

	sort.Slice(findings, func(i, j int) bool { return findings[i].ID < findings[j].ID })
	return findings, nil
}

// DefaultPolicy returns the default policy with the lowest ID, or nil when none is marked default
func (s *Store) DefaultPolicy(ctx context.Context) (*types.PolicyConfig, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var defaults []types.PolicyConfig
	for _, p := range s.policies {
		if p.IsDefault {
			defaults = append(defaults, p)
		}
	}
	if len(defaults) == 0 {
		return nil, nil
	}

	sort.Slice(defaults, func(i, j int) bool { return defaults[i].ID < defaults[j].ID })
	if len(defaults) > 1 {
		s.logger.WithFields(logrus.Fields{
			"component":  "local_store",
			"candidates": len(defaults),
			"policy_id":  defaults[0].ID,
		}).Warn("Multiple default policies configured, using lowest ID")
	}

	policy := defaults[0]
	return &policy, nil
}

// SaveResidualRiskLevels writes all scores or none
func (s *Store) SaveResidualRiskLevels(ctx context.Context, scores []types.ScoredFinding) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, sc := range scores {
		if _, ok := s.findings[sc.FindingID]; !ok {
			return fmt.Errorf("finding %d: %w", sc.FindingID, types.ErrNotFound)
		}
	}
	for _, sc := range scores {
		score := sc.Score
		s.findings[sc.FindingID].ResidualRiskLevel = &score
	}
	return nil
}

func (s *Store) CreateValidation(ctx context.Context, result *types.ValidationResult) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.validations = append(s.validations, *result)
	return nil
}

// Validations returns the stored verdicts of an engagement, oldest first
func (s *Store) Validations(engagementID int64) []types.ValidationResult {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var results []types.ValidationResult
	for _, v := range s.validations {
		if v.EngagementID == engagementID {
			results = append(results, v)
		}
	}
	return results
}

// LatestValidations returns the most recent verdict of every engagement, ordered by engagement ID
func (s *Store) LatestValidations(ctx context.Context) ([]types.ValidationResult, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	latest := make(map[int64]types.ValidationResult)
	for _, v := range s.validations {
		if current, ok := latest[v.EngagementID]; !ok || !v.CreatedAt.Before(current.CreatedAt) {
			latest[v.EngagementID] = v
		}
	}

	results := make([]types.ValidationResult, 0, len(latest))
	for _, v := range latest {
		results = append(results, v)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].EngagementID < results[j].EngagementID })
	return results, nil
}

// Finding returns a copy of a stored finding
func (s *Store) Finding(id int64) (types.Finding, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	f, ok := s.findings[id]
	if !ok {
		return types.Finding{}, false
	}
	return *f, true
}

func (s *Store) GetEngagement(ctx context.Context, id int64) (*types.Engagement, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	e, ok := s.engagements[id]
	if !ok {
		return nil, fmt.Errorf("engagement %d: %w", id, types.ErrNotFound)
	}
	engagement := *e
	return &engagement, nil
}

func (s *Store) CreateEngagement(ctx context.Context, engagement *types.Engagement) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.products[engagement.ProductID]; !ok {
		return fmt.Errorf("engagement references unknown product %d: %w", engagement.ProductID, types.ErrNotFound)
	}
	engagement.ApplyDefaults()
	if engagement.ID == 0 {
		engagement.ID = s.newID()
	}
	stored := *engagement
	s.engagements[stored.ID] = &stored
	return nil
}

func (s *Store) SaveEngagement(ctx context.Context, engagement *types.Engagement) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.engagements[engagement.ID]; !ok {
		return fmt.Errorf("engagement %d: %w", engagement.ID, types.ErrNotFound)
	}
	stored := *engagement
	s.engagements[stored.ID] = &stored
	return nil
}

// CreateTest stores the test and its findings, assigning IDs
func (s *Store) CreateTest(ctx context.Context, test *types.Test, findings []types.Finding) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.engagements[test.EngagementID]; !ok {
		return fmt.Errorf("engagement %d: %w", test.EngagementID, types.ErrNotFound)
	}

	test.ID = s.newID()
	stored := *test
	s.tests[stored.ID] = &stored

	for i := range findings {
		f := findings[i]
		f.ID = s.newID()
		f.TestID = test.ID
		s.findings[f.ID] = &f
	}
	return nil
}

// Snapshot returns the current dataset in fixture form
func (s *Store) Snapshot() Fixture {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	fixture := Fixture{
		Policies:    append([]types.PolicyConfig(nil), s.policies...),
		Validations: append([]types.ValidationResult(nil), s.validations...),
	}
	for _, p := range s.products {
		fixture.Products = append(fixture.Products, p)
	}
	for _, e := range s.engagements {
		fixture.Engagements = append(fixture.Engagements, *e)
	}
	for _, t := range s.tests {
		fixture.Tests = append(fixture.Tests, *t)
	}
	for _, f := range s.findings {
		fixture.Findings = append(fixture.Findings, *f)
	}

	sort.Slice(fixture.Products, func(i, j int) bool { return fixture.Products[i].ID < fixture.Products[j].ID })
	sort.Slice(fixture.Engagements, func(i, j int) bool { return fixture.Engagements[i].ID < fixture.Engagements[j].ID })
	sort.Slice(fixture.Tests, func(i, j int) bool { return fixture.Tests[i].ID < fixture.Tests[j].ID })
	sort.Slice(fixture.Findings, func(i, j int) bool { return fixture.Findings[i].ID < fixture.Findings[j].ID })
	return fixture
}

// WriteFile persists the dataset so CLI changes survive between runs
func (s *Store) WriteFile(path string) error {
	data, err := yaml.Marshal(s.Snapshot())
	if err != nil {
		return fmt.Errorf("failed to encode fixture: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write fixture file '%s': %w", path, err)
	}
	return nil
}
