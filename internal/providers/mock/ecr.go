// ABOUTME: Mock ECR scan importer for local testing and development.
// ABOUTME: Provides realistic image scan findings without requiring AWS credentials.

package mock

import (
	"context"
	"strings"

	"github.com/jfeddern/RiskGate/internal/providers/aws"
	"github.com/jfeddern/RiskGate/internal/types"
	"github.com/sirupsen/logrus"
)

// MockECRImporter implements engine.FindingImporter with canned scan profiles
type MockECRImporter struct {
	logger *logrus.Logger
}

// NewMockECRImporter creates a new mock ECR importer
func NewMockECRImporter(logger *logrus.Logger) *MockECRImporter {
	return &MockECRImporter{
		logger: logger,
	}
}

// Name returns the name of this importer
func (m *MockECRImporter) Name() string {
	return "mock-ecr"
}

// ImportFindings returns mock findings chosen by the image's repository name
func (m *MockECRImporter) ImportFindings(ctx context.Context, imageURI string) ([]types.Finding, error) {
	m.logger.WithField("image_uri", imageURI).Debug("Importing mock scan findings")

	repo, _, err := aws.ParseImageURI(imageURI)
	if err != nil {
		return nil, err
	}

	// Different vulnerability profiles based on repository name
	switch {
	case strings.Contains(repo, "nginx") || strings.Contains(repo, "web"):
		return webServerFindings(), nil
	case strings.Contains(repo, "postgres") || strings.Contains(repo, "database"):
		return databaseFindings(), nil
	case strings.Contains(repo, "python") || strings.Contains(repo, "api"):
		return pythonAPIFindings(), nil
	default:
		return genericAppFindings(), nil
	}
}

func scanFinding(title string, severity types.Severity, vector string, score float64) types.Finding {
	f := types.Finding{
		Title:      title,
		Severity:   severity,
		CVSSVector: vector,
		Active:     true,
	}
	if score > 0 {
		f.CVSSScore = &score
	}
	return f
}

func webServerFindings() []types.Finding {
	return []types.Finding{
		scanFinding("CVE-2024-7592 - nginx HTTP/2 buffer overflow", types.SeverityCritical, "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H", 9.8),
		scanFinding("CVE-2024-6387 - openssh-server remote code execution", types.SeverityHigh, "CVSS:3.1/AV:N/AC:H/PR:N/UI:N/S:U/C:H/I:H/A:H", 0),
		scanFinding("CVE-2024-2961 - libc6 buffer overflow", types.SeverityMedium, "", 5.5),
	}
}

func databaseFindings() []types.Finding {
	return []types.Finding{
		scanFinding("CVE-2024-0985 - postgresql privilege escalation", types.SeverityHigh, "CVSS:3.1/AV:N/AC:L/PR:L/UI:R/S:U/C:H/I:H/A:H", 8.0),
		scanFinding("CVE-2023-5869 - postgresql integer overflow", types.SeverityHigh, "", 0),
		scanFinding("CVE-2024-0727 - openssl denial of service", types.SeverityMedium, "CVSS:3.1/AV:L/AC:L/PR:N/UI:R/S:U/C:N/I:N/A:H", 0),
	}
}

func pythonAPIFindings() []types.Finding {
	return []types.Finding{
		scanFinding("CVE-2024-6345 - setuptools code injection", types.SeverityHigh, "CVSS:3.1/AV:N/AC:H/PR:N/UI:R/S:U/C:H/I:H/A:H", 7.5),
		scanFinding("CVE-2024-35195 - requests certificate verification bypass", types.SeverityMedium, "", 5.6),
		scanFinding("CVE-2024-4444 - urllib3 header leak", types.SeverityLow, "", 1.7),
		scanFinding("CVE-2024-0000 - untriaged package issue", types.Severity("UNDEFINED"), "", 0),
	}
}

func genericAppFindings() []types.Finding {
	return []types.Finding{
		scanFinding("CVE-2024-0727 - openssl denial of service", types.SeverityMedium, "", 5.5),
		scanFinding("CVE-2024-2398 - curl heap buffer overflow", types.SeverityLow, "", 3.4),
	}
}
