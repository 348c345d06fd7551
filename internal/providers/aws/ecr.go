// ABOUTME: AWS ECR scan importer that turns image scan results into engagement findings.
// ABOUTME: Handles authentication, pagination and severity/CVSS mapping for Amazon ECR.

package aws

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/jfeddern/RiskGate/internal/types"
	"github.com/sirupsen/logrus"
)

// ECRImporter implements engine.FindingImporter for Amazon ECR image scans
type ECRImporter struct {
	client    ecr.DescribeImageScanFindingsAPIClient
	accountID string
	region    string
	logger    *logrus.Logger
}

// NewECRImporter creates a new ECR importer
func NewECRImporter(ctx context.Context, accountID, region string, logger *logrus.Logger) (*ECRImporter, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Handle role assumption for cross-account access
	if assumeRoleARN := os.Getenv("AWS_IAM_ASSUME_ROLE_ARN"); assumeRoleARN != "" {
		logger.WithField("role_arn", assumeRoleARN).Info("Assuming role from AWS_IAM_ASSUME_ROLE_ARN environment variable")

		stsClient := sts.NewFromConfig(cfg.Copy())
		cfg.Credentials = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(stsClient, assumeRoleARN))
	} else {
		stsClient := sts.NewFromConfig(cfg.Copy())

		identity, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		if err != nil {
			logger.WithError(err).Warn("Could not get caller identity, proceeding with default credentials")
		} else {
			currentAccountID := aws.ToString(identity.Account)
			logger.WithFields(logrus.Fields{
				"current_account": currentAccountID,
				"target_account":  accountID,
			}).Info("AWS identity information")

			if currentAccountID != accountID {
				roleARN := fmt.Sprintf("arn:aws:iam::%s:role/RiskGateScanImportRole", accountID)
				logger.WithField("role_arn", roleARN).Info("Assuming cross-account role")
				cfg.Credentials = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(stsClient, roleARN))
			}
		}
	}

	return NewECRImporterWithClient(ecr.NewFromConfig(cfg), accountID, region, logger), nil
}

// NewECRImporterWithClient creates an importer around an existing ECR client
func NewECRImporterWithClient(client ecr.DescribeImageScanFindingsAPIClient, accountID, region string, logger *logrus.Logger) *ECRImporter {
	return &ECRImporter{
		client:    client,
		accountID: accountID,
		region:    region,
		logger:    logger,
	}
}

// Name is recorded as the scan type of imported tests
func (e *ECRImporter) Name() string {
	return "aws-ecr"
}

// ParseImageURI extracts repository name and tag from a full ECR image URI
// Expected format: account.dkr.ecr.region.amazonaws.com/repository:tag
func ParseImageURI(imageURI string) (repository, tag string, err error) {
	parts := strings.Split(imageURI, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("invalid image URI format: %s", imageURI)
	}

	// The repository is everything after the registry host
	repoWithTag := strings.Join(parts[1:], "/")

	repoParts := strings.Split(repoWithTag, ":")
	if len(repoParts) != 2 || repoParts[0] == "" || repoParts[1] == "" {
		return "", "", fmt.Errorf("invalid image URI format, missing tag: %s", imageURI)
	}

	return repoParts[0], repoParts[1], nil
}

// ImportFindings reads every scan finding of the image and converts it to a finding
func (e *ECRImporter) ImportFindings(ctx context.Context, imageURI string) ([]types.Finding, error) {
	repo, tag, err := ParseImageURI(imageURI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse image URI: %w", err)
	}

	logger := e.logger.WithFields(logrus.Fields{
		"operation":  "import_ecr_findings",
		"repository": repo,
		"tag":        tag,
	})

	input := &ecr.DescribeImageScanFindingsInput{
		RepositoryName: aws.String(repo),
		RegistryId:     registryID(e.accountID),
		ImageId:        &ecrtypes.ImageIdentifier{ImageTag: aws.String(tag)},
	}

	var findings []types.Finding
	basicCount, enhancedCount := 0, 0

	paginator := ecr.NewDescribeImageScanFindingsPaginator(e.client, input)
	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			logger.WithError(err).Error("Failed to describe image scan findings")
			return nil, fmt.Errorf("failed to describe image scan findings for %s: %w", imageURI, err)
		}

		if output.ImageScanStatus != nil && output.ImageScanStatus.Status == ecrtypes.ScanStatusFailed {
			return nil, fmt.Errorf("image scan for %s failed: %s", imageURI, aws.ToString(output.ImageScanStatus.Description))
		}
		if output.ImageScanFindings == nil {
			continue
		}

		for _, f := range output.ImageScanFindings.Findings {
			findings = append(findings, convertBasicFinding(f))
			basicCount++
		}
		for _, f := range output.ImageScanFindings.EnhancedFindings {
			// Closed and suppressed Inspector findings are no longer open risk
			if status := aws.ToString(f.Status); status == "CLOSED" || status == "SUPPRESSED" {
				continue
			}
			findings = append(findings, convertEnhancedFinding(f))
			enhancedCount++
		}
	}

	logger.WithFields(logrus.Fields{
		"basic_findings_count":    basicCount,
		"enhanced_findings_count": enhancedCount,
	}).Info("Retrieved image scan findings")

	return findings, nil
}

func registryID(accountID string) *string {
	if accountID == "" {
		return nil
	}
	return aws.String(accountID)
}

func convertBasicFinding(f ecrtypes.ImageScanFinding) types.Finding {
	finding := types.Finding{
		Title:    aws.ToString(f.Name),
		Severity: mapSeverity(string(f.Severity)),
		Active:   true,
	}

	// Basic scanning reports CVSS v2 data as attributes
	for _, attr := range f.Attributes {
		switch aws.ToString(attr.Key) {
		case "CVSS2_VECTOR":
			finding.CVSSVector = aws.ToString(attr.Value)
		case "CVSS2_SCORE":
			if score, err := strconv.ParseFloat(aws.ToString(attr.Value), 64); err == nil && score > 0 {
				finding.CVSSScore = &score
			}
		}
	}
	return finding
}

func convertEnhancedFinding(f ecrtypes.EnhancedImageScanFinding) types.Finding {
	finding := types.Finding{
		Title:    aws.ToString(f.Title),
		Severity: mapSeverity(aws.ToString(f.Severity)),
		Active:   true,
	}

	if details := f.PackageVulnerabilityDetails; details != nil {
		if id := aws.ToString(details.VulnerabilityId); id != "" && finding.Title == "" {
			finding.Title = id
		}
		if len(details.Cvss) > 0 {
			finding.CVSSVector = aws.ToString(details.Cvss[0].ScoringVector)
		}
	}

	if f.ScoreDetails != nil && f.ScoreDetails.Cvss != nil {
		if vector := aws.ToString(f.ScoreDetails.Cvss.ScoringVector); vector != "" {
			finding.CVSSVector = vector
		}
	}

	if f.Score > 0 {
		score := f.Score
		finding.CVSSScore = &score
	}
	return finding
}

var ecrSeverities = map[string]types.Severity{
	"CRITICAL":      types.SeverityCritical,
	"HIGH":          types.SeverityHigh,
	"MEDIUM":        types.SeverityMedium,
	"LOW":           types.SeverityLow,
	"INFORMATIONAL": types.SeverityInformational,
}

// mapSeverity keeps unknown values such as UNDEFINED as-is so they score as unrecognized
func mapSeverity(severity string) types.Severity {
	if mapped, ok := ecrSeverities[strings.ToUpper(severity)]; ok {
		return mapped
	}
	return types.Severity(severity)
}
