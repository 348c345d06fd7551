// ABOUTME: Configuration parsing for RiskGate: command line flags, environment overrides and validation.
// ABOUTME: Environment variables take precedence over flags, as in the container deployment.

package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jfeddern/RiskGate/internal/cache"
	"github.com/jfeddern/RiskGate/internal/engine"
	"github.com/jfeddern/RiskGate/internal/providers"
	"github.com/jfeddern/RiskGate/internal/providers/kafka"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func defaultConfig() *engine.Config {
	return &engine.Config{
		Mode:           providers.ModePostgres,
		Port:           9090,
		PolicySource:   providers.PolicySourceStore,
		PolicyCacheTTL: cache.DefaultTTL,
		KafkaTopic:     kafka.DefaultTopic,
	}
}

func bindFlags(cmd *cobra.Command, config *engine.Config) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&config.Mode, "mode", config.Mode, "Data store: postgres or local")
	flags.IntVar(&config.Port, "port", config.Port, "Port to serve the API and metrics on")
	flags.StringVar(&config.DatabaseURL, "database-url", "", "PostgreSQL connection URL (required for postgres mode)")
	flags.StringVar(&config.FixtureFile, "fixture-file", "", "Path to YAML or JSON dataset (required for local mode)")
	flags.StringVar(&config.PolicySource, "policy-source", config.PolicySource, "Where the default policy lives: store or kubernetes")
	flags.StringVar(&config.PolicyNamespace, "policy-namespace", "", "Namespace of the policy ConfigMaps (required for kubernetes policy source)")
	flags.DurationVar(&config.PolicyCacheTTL, "policy-cache-ttl", config.PolicyCacheTTL, "How long the default policy is cached")
	flags.StringVar(&config.GitLabBaseURL, "gitlab-base-url", "", "GitLab API URL for self-hosted instances")
	flags.StringSliceVar(&config.KafkaBrokers, "kafka-brokers", nil, "Kafka brokers for validation events (disabled when empty)")
	flags.StringVar(&config.KafkaTopic, "kafka-topic", config.KafkaTopic, "Kafka topic for validation events")
	flags.StringVar(&config.ECRAccountID, "ecr-account-id", "", "AWS account ID for ECR scan imports")
	flags.StringVar(&config.ECRRegion, "ecr-region", "", "AWS region for ECR scan imports")
	flags.BoolVar(&config.MockMode, "mock", false, "Use the built-in demo dataset (no external services)")
}

// applyEnv overrides the configuration with environment variables that are set.
// Tokens are only read from the environment.
func applyEnv(config *engine.Config, getenv func(string) string, logger *logrus.Logger) {
	if v := getenv("MODE"); v != "" {
		config.Mode = v
	}
	if v := getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Port = port
		} else {
			logger.WithField("value", v).Warn("Invalid PORT environment variable")
		}
	}
	if v := getenv("DATABASE_URL"); v != "" {
		config.DatabaseURL = v
	}
	if v := getenv("FIXTURE_FILE"); v != "" {
		config.FixtureFile = v
	}
	if v := getenv("POLICY_SOURCE"); v != "" {
		config.PolicySource = v
	}
	if v := getenv("POLICY_NAMESPACE"); v != "" {
		config.PolicyNamespace = v
	}
	if v := getenv("POLICY_CACHE_TTL"); v != "" {
		if ttl, err := time.ParseDuration(v); err == nil {
			config.PolicyCacheTTL = ttl
		} else {
			logger.WithField("value", v).Warn("Invalid POLICY_CACHE_TTL environment variable")
		}
	}
	config.GitHubToken = getenv("GITHUB_TOKEN")
	config.GitLabToken = getenv("GITLAB_TOKEN")
	if v := getenv("GITLAB_BASE_URL"); v != "" {
		config.GitLabBaseURL = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		config.KafkaBrokers = splitList(v)
	}
	if v := getenv("KAFKA_TOPIC"); v != "" {
		config.KafkaTopic = v
	}
	if v := getenv("AWS_ECR_ACCOUNT_ID"); v != "" {
		config.ECRAccountID = v
	}
	if v := getenv("AWS_ECR_REGION"); v != "" {
		config.ECRRegion = v
	}
	if v := getenv("MOCK_MODE"); v == "true" || v == "1" {
		config.MockMode = true
	}
}

func splitList(v string) []string {
	var items []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

func validateConfig(config *engine.Config) error {
	err := configValidator.Struct(config)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	problems := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		if fe.Param() != "" {
			problems = append(problems, fmt.Sprintf("%s (%s=%s)", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			problems = append(problems, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(problems, ", "))
}

// newLogger sets up structured JSON logging; LOG_LEVEL=debug enables debug output
func newLogger(out io.Writer, level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	if level != "" {
		if parsed, err := logrus.ParseLevel(level); err == nil {
			logger.SetLevel(parsed)
		}
	}
	return logger
}
