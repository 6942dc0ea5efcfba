package util

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ShutdownResource is one component that needs an orderly stop
type ShutdownResource struct {
	Name     string
	Shutdown func(context.Context) error

	// Priority orders shutdown; lower numbers stop first
	Priority int
}

// GracefulShutdown stops registered resources in priority order. Intake
// surfaces register with low priorities so queued work can still drain
// through the resources stopping after them.
type GracefulShutdown struct {
	resources []ShutdownResource
	mu        sync.Mutex
	logger    *logrus.Logger
	timeout   time.Duration
}

// NewGracefulShutdown creates a shutdown manager
func NewGracefulShutdown(logger *logrus.Logger, timeout time.Duration) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GracefulShutdown{
		logger:  logger,
		timeout: timeout,
	}
}

// Register adds a resource, keeping the list sorted by priority
func (gs *GracefulShutdown) Register(resource ShutdownResource) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	inserted := false
	for i, existing := range gs.resources {
		if resource.Priority < existing.Priority {
			gs.resources = append(gs.resources[:i], append([]ShutdownResource{resource}, gs.resources[i:]...)...)
			inserted = true
			break
		}
	}
	if !inserted {
		gs.resources = append(gs.resources, resource)
	}

	gs.logger.WithFields(logrus.Fields{
		"resource": resource.Name,
		"priority": resource.Priority,
	}).Debug("Registered resource for graceful shutdown")
}

// Shutdown stops every registered resource sequentially in priority order.
// One resource failing does not prevent the rest from stopping.
func (gs *GracefulShutdown) Shutdown(ctx context.Context) error {
	gs.mu.Lock()
	resources := make([]ShutdownResource, len(gs.resources))
	copy(resources, gs.resources)
	gs.mu.Unlock()

	gs.logger.WithField("resource_count", len(resources)).Info("Starting graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, gs.timeout)
	defer cancel()

	var firstErr error
	for _, resource := range resources {
		gs.logger.WithField("resource", resource.Name).Debug("Shutting down resource")

		if err := gs.shutdownOne(shutdownCtx, resource); err != nil {
			gs.logger.WithError(err).WithField("resource", resource.Name).Error("Resource shutdown failed")
			if firstErr == nil {
				firstErr = err
			}
		}

		if shutdownCtx.Err() != nil {
			gs.logger.Warn("Shutdown timeout reached, abandoning remaining resources")
			return shutdownCtx.Err()
		}
	}

	gs.logger.Info("Graceful shutdown complete")
	return firstErr
}

func (gs *GracefulShutdown) shutdownOne(ctx context.Context, resource ShutdownResource) (err error) {
	defer func() {
		if r := recover(); r != nil {
			gs.logger.WithFields(logrus.Fields{
				"resource": resource.Name,
				"panic":    r,
			}).Error("Panic during resource shutdown")
		}
	}()

	return resource.Shutdown(ctx)
}
