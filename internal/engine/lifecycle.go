// ABOUTME: Engagement lifecycle operations: create, close and reopen.
// ABOUTME: Closing an engagement also asks the issue tracker to close its linked epic.

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jfeddern/RiskGate/internal/types"
	"github.com/sirupsen/logrus"
)

// ErrLifecycleUnavailable is returned when the engine was built without an engagement store
var ErrLifecycleUnavailable = errors.New("engagement store not configured")

// trackerTimeout bounds the best-effort tracker notification on close
const trackerTimeout = 15 * time.Second

// EngagementStore reads and writes engagements
type EngagementStore interface {
	GetEngagement(ctx context.Context, id int64) (*types.Engagement, error)
	CreateEngagement(ctx context.Context, engagement *types.Engagement) error
	SaveEngagement(ctx context.Context, engagement *types.Engagement) error
}

// TrackerNotifier closes the external epic linked to an engagement
type TrackerNotifier interface {
	CloseEpic(ctx context.Context, link types.TrackerLink) error
}

// CreateEngagement applies engagement defaults and stores it
func (e *Engine) CreateEngagement(ctx context.Context, engagement *types.Engagement) error {
	if e.engagements == nil {
		return ErrLifecycleUnavailable
	}

	engagement.ApplyDefaults()
	if engagement.Status == "" {
		engagement.Status = types.StatusNotStarted
	}

	if err := e.engagements.CreateEngagement(ctx, engagement); err != nil {
		return fmt.Errorf("failed to create engagement: %w", err)
	}

	e.logger.WithFields(logrus.Fields{
		"operation":     "create_engagement",
		"engagement_id": engagement.ID,
		"name":          engagement.Name,
	}).Info("Engagement created")
	return nil
}

// CloseEngagement marks the engagement completed and closes its tracker epic, if any.
// A tracker failure is logged and does not undo the close.
func (e *Engine) CloseEngagement(ctx context.Context, id int64) (*types.Engagement, error) {
	logger := e.logger.WithFields(logrus.Fields{
		"operation":     "close_engagement",
		"engagement_id": id,
	})

	engagement, err := e.setEngagementState(ctx, id, false, types.StatusCompleted)
	if err != nil {
		return nil, err
	}

	if engagement.TrackerLink != nil && e.tracker != nil {
		trackerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), trackerTimeout)
		defer cancel()

		if err := e.tracker.CloseEpic(trackerCtx, *engagement.TrackerLink); err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"provider": engagement.TrackerLink.Provider,
				"project":  engagement.TrackerLink.Project,
				"issue":    engagement.TrackerLink.Issue,
			}).Warn("Failed to close tracker epic")
		}
	}

	logger.Info("Engagement closed")
	return engagement, nil
}

// ReopenEngagement marks the engagement active and in progress again
func (e *Engine) ReopenEngagement(ctx context.Context, id int64) (*types.Engagement, error) {
	engagement, err := e.setEngagementState(ctx, id, true, types.StatusInProgress)
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"operation":     "reopen_engagement",
		"engagement_id": id,
	}).Info("Engagement reopened")
	return engagement, nil
}

func (e *Engine) setEngagementState(ctx context.Context, id int64, active bool, status string) (*types.Engagement, error) {
	if e.engagements == nil {
		return nil, ErrLifecycleUnavailable
	}

	engagement, err := e.engagements.GetEngagement(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load engagement %d: %w", id, err)
	}

	engagement.Active = active
	engagement.Status = status

	if err := e.engagements.SaveEngagement(ctx, engagement); err != nil {
		return nil, fmt.Errorf("failed to save engagement %d: %w", id, err)
	}
	return engagement, nil
}
