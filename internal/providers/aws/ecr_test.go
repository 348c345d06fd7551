// ABOUTME: Tests for the AWS ECR scan importer.
// ABOUTME: Tests image URI parsing, pagination and severity/CVSS conversion with a fake ECR client.

package aws

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/jfeddern/RiskGate/internal/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockECRClient serves canned scan finding pages keyed by NextToken
type MockECRClient struct {
	pages        map[string]*ecr.DescribeImageScanFindingsOutput
	shouldError  bool
	errorMessage string
	inputs       []*ecr.DescribeImageScanFindingsInput
}

func (m *MockECRClient) DescribeImageScanFindings(ctx context.Context, params *ecr.DescribeImageScanFindingsInput, optFns ...func(*ecr.Options)) (*ecr.DescribeImageScanFindingsOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.shouldError {
		return nil, errors.New(m.errorMessage)
	}
	return m.pages[aws.ToString(params.NextToken)], nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

const testImage = "123456789012.dkr.ecr.us-east-1.amazonaws.com/team/web-app:v1.2.3"

func TestECRImporterName(t *testing.T) {
	importer := NewECRImporterWithClient(&MockECRClient{}, "123456789012", "us-east-1", testLogger())

	if importer.Name() != "aws-ecr" {
		t.Errorf("Expected name 'aws-ecr', got '%s'", importer.Name())
	}
}

func TestParseImageURI(t *testing.T) {
	tests := []struct {
		name         string
		imageURI     string
		expectedRepo string
		expectedTag  string
		expectError  bool
	}{
		{
			name:         "valid ECR URI",
			imageURI:     "123456789012.dkr.ecr.us-east-1.amazonaws.com/my-app:v1.0.0",
			expectedRepo: "my-app",
			expectedTag:  "v1.0.0",
		},
		{
			name:         "valid ECR URI with nested repository",
			imageURI:     "123456789012.dkr.ecr.us-east-1.amazonaws.com/team/my-app:latest",
			expectedRepo: "team/my-app",
			expectedTag:  "latest",
		},
		{
			name:        "no tag",
			imageURI:    "123456789012.dkr.ecr.us-east-1.amazonaws.com/my-app",
			expectError: true,
		},
		{
			name:        "no repository",
			imageURI:    "123456789012.dkr.ecr.us-east-1.amazonaws.com/",
			expectError: true,
		},
		{
			name:        "empty tag",
			imageURI:    "123456789012.dkr.ecr.us-east-1.amazonaws.com/my-app:",
			expectError: true,
		},
		{
			name:        "no registry",
			imageURI:    "my-app:latest",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, tag, err := ParseImageURI(tt.imageURI)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedRepo, repo)
			assert.Equal(t, tt.expectedTag, tag)
		})
	}
}

func TestImportFindings(t *testing.T) {
	client := &MockECRClient{
		pages: map[string]*ecr.DescribeImageScanFindingsOutput{
			"": {
				ImageScanStatus: &ecrtypes.ImageScanStatus{Status: ecrtypes.ScanStatusComplete},
				ImageScanFindings: &ecrtypes.ImageScanFindings{
					Findings: []ecrtypes.ImageScanFinding{
						{
							Name:     aws.String("CVE-2024-6387"),
							Severity: ecrtypes.FindingSeverityHigh,
							Attributes: []ecrtypes.Attribute{
								{Key: aws.String("CVSS2_VECTOR"), Value: aws.String("AV:N/AC:L/Au:N/C:P/I:P/A:P")},
								{Key: aws.String("CVSS2_SCORE"), Value: aws.String("7.5")},
							},
						},
						{
							Name:     aws.String("CVE-2024-0001"),
							Severity: ecrtypes.FindingSeverityUndefined,
						},
					},
				},
				NextToken: aws.String("page-2"),
			},
			"page-2": {
				ImageScanFindings: &ecrtypes.ImageScanFindings{
					EnhancedFindings: []ecrtypes.EnhancedImageScanFinding{
						{
							Title:    aws.String("CVE-2024-7592 - nginx"),
							Severity: aws.String("CRITICAL"),
							Status:   aws.String("ACTIVE"),
							Score:    9.8,
							ScoreDetails: &ecrtypes.ScoreDetails{
								Cvss: &ecrtypes.CvssScoreDetails{
									ScoringVector: aws.String("CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H"),
								},
							},
						},
						{
							Severity: aws.String("MEDIUM"),
							Status:   aws.String("ACTIVE"),
							PackageVulnerabilityDetails: &ecrtypes.PackageVulnerabilityDetails{
								VulnerabilityId: aws.String("CVE-2024-2961"),
								Cvss: []ecrtypes.CvssScore{
									{ScoringVector: aws.String("CVSS:3.1/AV:L/AC:L/PR:L/UI:N/S:U/C:N/I:N/A:H")},
								},
							},
						},
						{
							Title:    aws.String("CVE-2023-9999"),
							Severity: aws.String("HIGH"),
							Status:   aws.String("CLOSED"),
						},
					},
				},
			},
		},
	}

	importer := NewECRImporterWithClient(client, "123456789012", "us-east-1", testLogger())
	findings, err := importer.ImportFindings(context.Background(), testImage)
	require.NoError(t, err)
	require.Len(t, findings, 4, "closed enhanced findings are skipped")

	require.Len(t, client.inputs, 2)
	assert.Equal(t, "team/web-app", aws.ToString(client.inputs[0].RepositoryName))
	assert.Equal(t, "v1.2.3", aws.ToString(client.inputs[0].ImageId.ImageTag))
	assert.Equal(t, "123456789012", aws.ToString(client.inputs[0].RegistryId))

	basic := findings[0]
	assert.Equal(t, "CVE-2024-6387", basic.Title)
	assert.Equal(t, types.SeverityHigh, basic.Severity)
	assert.Equal(t, "AV:N/AC:L/Au:N/C:P/I:P/A:P", basic.CVSSVector)
	require.NotNil(t, basic.CVSSScore)
	assert.Equal(t, 7.5, *basic.CVSSScore)
	assert.True(t, basic.Active)

	undefined := findings[1]
	assert.Equal(t, types.Severity("UNDEFINED"), undefined.Severity)
	assert.Nil(t, undefined.CVSSScore)

	enhanced := findings[2]
	assert.Equal(t, types.SeverityCritical, enhanced.Severity)
	assert.Equal(t, "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H", enhanced.CVSSVector)
	require.NotNil(t, enhanced.CVSSScore)
	assert.Equal(t, 9.8, *enhanced.CVSSScore)

	packageOnly := findings[3]
	assert.Equal(t, "CVE-2024-2961", packageOnly.Title)
	assert.Equal(t, types.SeverityMedium, packageOnly.Severity)
	assert.Equal(t, "CVSS:3.1/AV:L/AC:L/PR:L/UI:N/S:U/C:N/I:N/A:H", packageOnly.CVSSVector)
	assert.Nil(t, packageOnly.CVSSScore, "score is left for vector resolution")
}

func TestImportFindingsErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid image URI", func(t *testing.T) {
		importer := NewECRImporterWithClient(&MockECRClient{}, "", "us-east-1", testLogger())
		_, err := importer.ImportFindings(ctx, "invalid-uri")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse image URI")
	})

	t.Run("API error", func(t *testing.T) {
		client := &MockECRClient{shouldError: true, errorMessage: "RepositoryNotFoundException"}
		importer := NewECRImporterWithClient(client, "", "us-east-1", testLogger())

		_, err := importer.ImportFindings(ctx, testImage)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "RepositoryNotFoundException")
		assert.Nil(t, client.inputs[0].RegistryId, "empty account ID uses the caller's registry")
	})

	t.Run("failed scan", func(t *testing.T) {
		client := &MockECRClient{pages: map[string]*ecr.DescribeImageScanFindingsOutput{
			"": {ImageScanStatus: &ecrtypes.ImageScanStatus{
				Status:      ecrtypes.ScanStatusFailed,
				Description: aws.String("UnsupportedImageError"),
			}},
		}}
		importer := NewECRImporterWithClient(client, "", "us-east-1", testLogger())

		_, err := importer.ImportFindings(ctx, testImage)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "UnsupportedImageError")
	})

	t.Run("no findings", func(t *testing.T) {
		client := &MockECRClient{pages: map[string]*ecr.DescribeImageScanFindingsOutput{"": {}}}
		importer := NewECRImporterWithClient(client, "", "us-east-1", testLogger())

		findings, err := importer.ImportFindings(ctx, testImage)
		require.NoError(t, err)
		assert.Empty(t, findings)
	})
}

func TestMapSeverity(t *testing.T) {
	tests := map[string]types.Severity{
		"CRITICAL":      types.SeverityCritical,
		"high":          types.SeverityHigh,
		"Medium":        types.SeverityMedium,
		"LOW":           types.SeverityLow,
		"INFORMATIONAL": types.SeverityInformational,
		"UNTRIAGED":     types.Severity("UNTRIAGED"),
	}

	for input, expected := range tests {
		if got := mapSeverity(input); got != expected {
			t.Errorf("mapSeverity(%q) = %q, want %q", input, got, expected)
		}
	}
}

func TestNewECRImporterWithAssumeRole(t *testing.T) {
	t.Setenv("AWS_IAM_ASSUME_ROLE_ARN", "arn:aws:iam::123456789012:role/TestRole")
	if os.Getenv("AWS_IAM_ASSUME_ROLE_ARN") == "" {
		t.Fatal("environment not set")
	}

	importer, err := NewECRImporter(context.Background(), "123456789012", "us-east-1", testLogger())

	// In test environment, this may fail due to no AWS credentials
	if err != nil {
		t.Logf("NewECRImporter failed as expected in test environment: %v", err)
		return
	}

	assert.Equal(t, "123456789012", importer.accountID)
	assert.Equal(t, "us-east-1", importer.region)
}
