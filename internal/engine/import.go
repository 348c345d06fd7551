// ABOUTME: Scan import: pulls findings from an external scanner into a new engagement test.
// ABOUTME: CVSS vectors are resolved to scores before the findings are stored.

package engine

import (
	"context"
	"fmt"

	"github.com/jfeddern/RiskGate/internal/cvss"
	"github.com/jfeddern/RiskGate/internal/types"
	"github.com/sirupsen/logrus"
)

// FindingImporter fetches findings from an external scanner
type FindingImporter interface {
	Name() string
	ImportFindings(ctx context.Context, ref string) ([]types.Finding, error)
}

// TestStore stores an imported test together with its findings
type TestStore interface {
	CreateTest(ctx context.Context, test *types.Test, findings []types.Finding) error
}

// ImportFindings runs the importer for ref and stores the result as a new test of the engagement
func (e *Engine) ImportFindings(ctx context.Context, store TestStore, engagementID int64, importer FindingImporter, ref string) (*types.Test, error) {
	logger := e.logger.WithFields(logrus.Fields{
		"operation":     "import_findings",
		"engagement_id": engagementID,
		"importer":      importer.Name(),
		"ref":           ref,
	})

	findings, err := importer.ImportFindings(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to import findings from %s: %w", importer.Name(), err)
	}

	for i := range findings {
		if err := cvss.Resolve(&findings[i]); err != nil {
			logger.WithError(err).WithField("finding", findings[i].Title).Warn("Ignoring unparsable CVSS vector")
		}
	}

	test := &types.Test{
		EngagementID: engagementID,
		Title:        ref,
		ScanType:     importer.Name(),
	}
	if err := store.CreateTest(ctx, test, findings); err != nil {
		return nil, fmt.Errorf("failed to store imported test: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"test_id":       test.ID,
		"finding_count": len(findings),
	}).Info("Imported findings")
	return test, nil
}
