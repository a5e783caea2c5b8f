package cluster

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dd0wney/cluso-monitor/pkg/configstore"
	"github.com/dd0wney/cluso-monitor/pkg/logging"
	"github.com/dd0wney/cluso-monitor/pkg/metrics"
)

// Subscriber is the part of the transport the manager drives
type Subscriber interface {
	Subscribe(uuid string) error
}

// SubscriptionManager keeps the transport subscribed to every instance in
// the registry. The subscribed set only grows: an instance that leaves the
// registry keeps its subscription.
//
// Concurrent Safety:
// 1. Start/Stop use sync.Once to ensure single initialization/cleanup
// 2. refreshMu serialises Refresh so a UUID is never subscribed twice
// 3. The refresh loop respects stopCh and the Start context
type SubscriptionManager struct {
	config     SubscriptionConfig
	store      configstore.Configurator
	subscriber Subscriber
	logger     logging.Logger
	metrics    *metrics.Registry

	refreshMu  sync.Mutex
	mu         sync.RWMutex
	subscribed map[string]struct{}

	stopCh    chan struct{}
	done      chan struct{}
	running   bool
	runningMu sync.Mutex
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewSubscriptionManager creates a manager. A nil registry uses the default
// metrics registry.
func NewSubscriptionManager(config SubscriptionConfig, store configstore.Configurator, subscriber Subscriber, logger logging.Logger, reg *metrics.Registry) *SubscriptionManager {
	if reg == nil {
		reg = metrics.DefaultRegistry()
	}
	return &SubscriptionManager{
		config:     config,
		store:      store,
		subscriber: subscriber,
		logger:     logger.With(logging.Component("subscriptions")),
		metrics:    reg,
		subscribed: make(map[string]struct{}),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Refresh subscribes to every registry UUID not yet in the set. It returns
// an error when the registry cannot be read; subscribe failures are logged
// and, in strict mode, also returned.
func (sm *SubscriptionManager) Refresh(ctx context.Context) error {
	sm.refreshMu.Lock()
	defer sm.refreshMu.Unlock()

	reg, err := ReadRegistry(ctx, sm.store)
	if err != nil {
		return err
	}

	var errs []error
	added := 0
	for _, uuid := range reg.UUIDs() {
		if sm.Has(uuid) {
			continue
		}

		if err := sm.subscriber.Subscribe(uuid); err != nil {
			sm.metrics.SubscribeErrorsTotal.Inc()
			sm.logger.Warn("subscribe failed",
				logging.Instance(uuid),
				logging.Bool("strict", sm.config.Strict),
				logging.Error(err))
			if sm.config.Strict {
				errs = append(errs, fmt.Errorf("subscribe %s: %w", uuid, err))
				continue
			}
		}

		sm.mu.Lock()
		sm.subscribed[uuid] = struct{}{}
		sm.mu.Unlock()
		added++
	}

	if added > 0 {
		sm.metrics.SubscriptionsTotal.Set(float64(sm.Count()))
		sm.logger.Info("subscriptions refreshed", logging.Count(added), logging.Int("total", sm.Count()))
	}
	return errors.Join(errs...)
}

// Has reports whether uuid is in the subscribed set
func (sm *SubscriptionManager) Has(uuid string) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	_, ok := sm.subscribed[uuid]
	return ok
}

// Count returns the size of the subscribed set
func (sm *SubscriptionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.subscribed)
}

// Subscribed returns the subscribed UUIDs, sorted
func (sm *SubscriptionManager) Subscribed() []string {
	sm.mu.RLock()
	out := make([]string, 0, len(sm.subscribed))
	for uuid := range sm.subscribed {
		out = append(out, uuid)
	}
	sm.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Start runs one refresh and then refreshes on every interval until Stop or
// ctx is done. A failed first refresh is logged; the loop retries it.
func (sm *SubscriptionManager) Start(ctx context.Context) error {
	startErr := ErrAlreadyRunning
	sm.startOnce.Do(func() {
		startErr = nil
		if err := sm.config.Validate(); err != nil {
			startErr = err
			close(sm.done)
			return
		}

		sm.runningMu.Lock()
		sm.running = true
		sm.runningMu.Unlock()

		if err := sm.Refresh(ctx); err != nil {
			sm.logger.Warn("initial subscription refresh failed", logging.Error(err))
		}

		go sm.refreshLoop(ctx)
		sm.logger.Info("subscription manager started", logging.Duration("interval", sm.config.Interval))
	})
	return startErr
}

// Stop ends the refresh loop and waits for it to exit
func (sm *SubscriptionManager) Stop() error {
	stopErr := ErrNotRunning
	sm.stopOnce.Do(func() {
		sm.runningMu.Lock()
		running := sm.running
		sm.running = false
		sm.runningMu.Unlock()

		if !running {
			return
		}
		stopErr = nil
		close(sm.stopCh)
		<-sm.done
		sm.logger.Info("subscription manager stopped")
	})
	return stopErr
}

func (sm *SubscriptionManager) refreshLoop(ctx context.Context) {
	defer close(sm.done)

	ticker := time.NewTicker(sm.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-sm.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sm.Refresh(ctx); err != nil {
				sm.logger.Warn("subscription refresh failed", logging.Error(err))
			}
		}
	}
}
