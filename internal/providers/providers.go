// ABOUTME: Provider interfaces for the backing stores and scanners RiskGate runs against.
// ABOUTME: Defines the contract every engagement data store has to satisfy.

package providers

import (
	"github.com/jfeddern/RiskGate/internal/engine"
)

// Store is a complete engagement data store: findings, policies, verdicts, engagements and imported tests
type Store interface {
	engine.FindingSource
	engine.PolicyResolver
	engine.ResultWriter
	engine.EngagementStore
	engine.TestStore
	engine.ValidationHistory
}

// Backend is a store together with its persistence and shutdown hooks
type Backend struct {
	Store   Store
	persist func() error
	close   func()
}

// Persist flushes pending changes. Only file-backed stores have anything to flush.
func (b *Backend) Persist() error {
	if b.persist == nil {
		return nil
	}
	return b.persist()
}

// Close releases the store's resources
func (b *Backend) Close() {
	if b.close != nil {
		b.close()
	}
}
