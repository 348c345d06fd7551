// ABOUTME: Factory for creating stores, policy resolvers, trackers, publishers and scanners.
// ABOUTME: Centralizes provider instantiation and wires them into a configured engine.

package providers

import (
	"context"
	"fmt"

	"github.com/jfeddern/RiskGate/internal/cache"
	"github.com/jfeddern/RiskGate/internal/engine"
	"github.com/jfeddern/RiskGate/internal/providers/aws"
	"github.com/jfeddern/RiskGate/internal/providers/kafka"
	"github.com/jfeddern/RiskGate/internal/providers/kubernetes"
	"github.com/jfeddern/RiskGate/internal/providers/local"
	"github.com/jfeddern/RiskGate/internal/providers/mock"
	"github.com/jfeddern/RiskGate/internal/providers/postgres"
	"github.com/jfeddern/RiskGate/internal/providers/tracker"
	"github.com/sirupsen/logrus"
)

// Modes and policy sources
const (
	ModePostgres = "postgres"
	ModeLocal    = "local"

	PolicySourceStore      = "store"
	PolicySourceKubernetes = "kubernetes"
)

// CreateBackend opens the data store selected by the configuration
func CreateBackend(ctx context.Context, config *engine.Config, logger *logrus.Logger) (*Backend, error) {
	// Check for mock mode first
	if config.MockMode {
		return &Backend{Store: mock.NewStore(logger)}, nil
	}

	switch config.Mode {
	case ModePostgres:
		pool, err := postgres.NewPool(ctx, config.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Store: postgres.NewStore(pool, logger),
			close: pool.Close,
		}, nil
	case ModeLocal:
		store, err := local.LoadFile(config.FixtureFile, logger)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Store:   store,
			persist: func() error { return store.WriteFile(config.FixtureFile) },
		}, nil
	default:
		return nil, fmt.Errorf("unsupported mode: %s", config.Mode)
	}
}

// CreatePolicyResolver returns the cached default policy lookup for the configured policy source
func CreatePolicyResolver(config *engine.Config, store engine.PolicyResolver, logger *logrus.Logger) (*cache.PolicyCache, error) {
	switch config.PolicySource {
	case "", PolicySourceStore:
		return cache.NewPolicyCache(store, config.PolicyCacheTTL, logger), nil
	case PolicySourceKubernetes:
		source, err := kubernetes.NewPolicySource(config.PolicyNamespace, logger)
		if err != nil {
			return nil, err
		}
		return cache.NewPolicyCache(source, config.PolicyCacheTTL, logger), nil
	default:
		return nil, fmt.Errorf("unsupported policy source: %s", config.PolicySource)
	}
}

// CreateTracker returns a dispatcher for every tracker with a token, or nil when none is configured
func CreateTracker(config *engine.Config, logger *logrus.Logger) (engine.TrackerNotifier, error) {
	dispatcher := tracker.NewDispatcher(logger)

	if config.GitHubToken != "" {
		dispatcher.Register(tracker.ProviderGitHub, tracker.NewGitHubCloser(config.GitHubToken))
	}
	if config.GitLabToken != "" {
		closer, err := tracker.NewGitLabCloser(config.GitLabToken, config.GitLabBaseURL)
		if err != nil {
			return nil, err
		}
		dispatcher.Register(tracker.ProviderGitLab, closer)
	}

	if len(dispatcher.Providers()) == 0 {
		logger.Debug("No issue tracker tokens configured, epics will not be closed")
		return nil, nil
	}

	logger.WithField("providers", dispatcher.Providers()).Info("Issue tracker integration enabled")
	return dispatcher, nil
}

// CreateResultWriter wraps the store with a Kafka publisher when brokers are configured.
// The returned close function is never nil.
func CreateResultWriter(config *engine.Config, store engine.ResultWriter, logger *logrus.Logger) (engine.ResultWriter, func()) {
	if len(config.KafkaBrokers) == 0 {
		return store, func() {}
	}

	publisher := kafka.NewPublisher(config.KafkaBrokers, config.KafkaTopic, logger)
	logger.WithFields(logrus.Fields{
		"brokers": config.KafkaBrokers,
		"topic":   config.KafkaTopic,
	}).Info("Publishing validation events to Kafka")

	return kafka.NewPublishingResultWriter(store, publisher, logger), func() {
		if err := publisher.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close Kafka publisher")
		}
	}
}

// CreateImporter creates the scanner used to import findings into engagements
func CreateImporter(ctx context.Context, config *engine.Config, logger *logrus.Logger) (engine.FindingImporter, error) {
	// Check for mock mode first
	if config.MockMode {
		logger.Info("Using mock ECR importer for testing")
		return mock.NewMockECRImporter(logger), nil
	}

	if config.ECRAccountID != "" && config.ECRRegion != "" {
		return aws.NewECRImporter(ctx, config.ECRAccountID, config.ECRRegion, logger)
	}

	return nil, fmt.Errorf("no finding importer configured")
}

// Runtime is a fully wired engine together with the resources it holds
type Runtime struct {
	Engine   *engine.Engine
	Backend  *Backend
	Policies *cache.PolicyCache

	closeWriter func()
}

// Close releases the publisher and the store
func (r *Runtime) Close() {
	r.closeWriter()
	r.Backend.Close()
}

// CreateRuntime builds the engine from configuration. The recorder may be nil.
func CreateRuntime(ctx context.Context, config *engine.Config, recorder engine.Recorder, logger *logrus.Logger) (*Runtime, error) {
	backend, err := CreateBackend(ctx, config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	policies, err := CreatePolicyResolver(config, backend.Store, logger)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to create policy resolver: %w", err)
	}

	notifier, err := CreateTracker(config, logger)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to create tracker: %w", err)
	}

	results, closeWriter := CreateResultWriter(config, backend.Store, logger)

	opts := []engine.Option{engine.WithEngagementStore(backend.Store)}
	if recorder != nil {
		opts = append(opts, engine.WithRecorder(recorder))
	}
	if notifier != nil {
		opts = append(opts, engine.WithTracker(notifier))
	}

	return &Runtime{
		Engine:      engine.NewEngine(backend.Store, policies, results, logger, opts...),
		Backend:     backend,
		Policies:    policies,
		closeWriter: closeWriter,
	}, nil
}
