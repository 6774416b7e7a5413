// Package resourcemgmt tracks fire-and-forget goroutines, the unawaited
// hook work the transaction layer hands a detached context. A hook that
// never finishes shows up here long before it shows up as an exhausted
// process.
package resourcemgmt

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	goroutineCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "txngate_goroutines_count",
		Help: "Current number of goroutines in the process",
	})

	goroutineLeakDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "txngate_goroutine_leaks_detected_total",
		Help: "Total number of potential goroutine leak detections",
	})

	trackedGoroutines = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "txngate_tracked_goroutines",
		Help: "Number of tracked goroutines by type",
	}, []string{"type"})

	longRunningGoroutines = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "txngate_long_running_goroutines",
		Help: "Number of goroutines running longer than threshold",
	}, []string{"type"})
)

// TrackedGoroutine represents one registered unit of background work.
type TrackedGoroutine struct {
	ID        string
	Type      string // "committed_hook", "registry_sweep", ...
	StartTime time.Time
	Done      chan struct{}
}

// GoroutineTracker tracks goroutines to detect and prevent leaks.
type GoroutineTracker struct {
	mu                sync.RWMutex
	trackedGoroutines map[string]*TrackedGoroutine
	logger            *zap.Logger
	baselineCount     int
	checkInterval     time.Duration
	leakThreshold     int
	longRunningLimit  time.Duration
}

// Config holds configuration for goroutine tracker
type Config struct {
	CheckInterval    time.Duration // How often to check for leaks
	LeakThreshold    int           // Goroutines above baseline to alert
	LongRunningLimit time.Duration // Duration to flag long-running goroutines
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		CheckInterval:    30 * time.Second,
		LeakThreshold:    100,
		LongRunningLimit: time.Minute,
	}
}

// NewGoroutineTracker creates a new goroutine tracker
func NewGoroutineTracker(logger *zap.Logger, cfg *Config) *GoroutineTracker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	baselineCount := runtime.NumGoroutine()

	logger.Info("goroutine tracker initialized",
		zap.Int("baseline_goroutines", baselineCount),
		zap.Duration("check_interval", cfg.CheckInterval),
		zap.Int("leak_threshold", cfg.LeakThreshold),
		zap.Duration("long_running_limit", cfg.LongRunningLimit),
	)

	return &GoroutineTracker{
		trackedGoroutines: make(map[string]*TrackedGoroutine),
		logger:            logger,
		baselineCount:     baselineCount,
		checkInterval:     cfg.CheckInterval,
		leakThreshold:     cfg.LeakThreshold,
		longRunningLimit:  cfg.LongRunningLimit,
	}
}

// Track registers a goroutine. Pair with Untrack, typically via defer.
func (gt *GoroutineTracker) Track(id, goroutineType string) *TrackedGoroutine {
	tg := &TrackedGoroutine{
		ID:        id,
		Type:      goroutineType,
		StartTime: time.Now(),
		Done:      make(chan struct{}),
	}

	gt.mu.Lock()
	gt.trackedGoroutines[id] = tg
	gt.mu.Unlock()

	trackedGoroutines.WithLabelValues(goroutineType).Inc()
	return tg
}

// Untrack removes a goroutine from tracking.
func (gt *GoroutineTracker) Untrack(id string) {
	gt.mu.Lock()
	defer gt.mu.Unlock()

	if tg, ok := gt.trackedGoroutines[id]; ok {
		close(tg.Done)
		trackedGoroutines.WithLabelValues(tg.Type).Dec()
		delete(gt.trackedGoroutines, id)

		gt.logger.Debug("goroutine untracked",
			zap.String("id", id),
			zap.String("type", tg.Type),
			zap.Duration("lifetime", time.Since(tg.StartTime)),
		)
	}
}

// GoWithContext starts a tracked goroutine with the provided context. The
// caller decides what context is appropriate; unawaited hooks get a
// detached one.
func (gt *GoroutineTracker) GoWithContext(ctx context.Context, goroutineType string, fn func(ctx context.Context)) {
	id := generateID()
	gt.Track(id, goroutineType)

	go func() {
		defer gt.Untrack(id)
		fn(ctx)
	}()
}

// StartMonitoring begins periodic goroutine leak detection. Runs until the
// context is cancelled.
func (gt *GoroutineTracker) StartMonitoring(ctx context.Context) {
	gt.logger.Info("starting goroutine leak monitoring")

	ticker := time.NewTicker(gt.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			gt.logger.Info("stopping goroutine leak monitoring")
			return
		case <-ticker.C:
			gt.checkForLeaks()
		}
	}
}

func (gt *GoroutineTracker) checkForLeaks() {
	currentCount := runtime.NumGoroutine()
	goroutineCount.Set(float64(currentCount))

	increase := currentCount - gt.baselineCount
	if increase > gt.leakThreshold {
		gt.logger.Warn("potential goroutine leak detected",
			zap.Int("current_count", currentCount),
			zap.Int("baseline_count", gt.baselineCount),
			zap.Int("increase", increase),
			zap.Int("threshold", gt.leakThreshold),
		)
		goroutineLeakDetected.Inc()
	}

	gt.checkLongRunning()
}

func (gt *GoroutineTracker) checkLongRunning() {
	gt.mu.RLock()
	defer gt.mu.RUnlock()

	longRunningByType := make(map[string]int)
	for id, tg := range gt.trackedGoroutines {
		age := time.Since(tg.StartTime)
		if age > gt.longRunningLimit {
			longRunningByType[tg.Type]++
			gt.logger.Warn("long-running goroutine detected",
				zap.String("id", id),
				zap.String("type", tg.Type),
				zap.Duration("age", age),
				zap.Duration("limit", gt.longRunningLimit),
			)
		}
	}

	for goroutineType, count := range longRunningByType {
		longRunningGoroutines.WithLabelValues(goroutineType).Set(float64(count))
	}
}

// Stats summarizes current tracking state.
type Stats struct {
	TotalGoroutines    int
	BaselineGoroutines int
	Increase           int
	TrackedCount       int
	ByType             map[string]int
}

// GetStats returns current goroutine statistics
func (gt *GoroutineTracker) GetStats() Stats {
	gt.mu.RLock()
	defer gt.mu.RUnlock()

	currentCount := runtime.NumGoroutine()
	countByType := make(map[string]int)
	for _, tg := range gt.trackedGoroutines {
		countByType[tg.Type]++
	}

	return Stats{
		TotalGoroutines:    currentCount,
		BaselineGoroutines: gt.baselineCount,
		Increase:           currentCount - gt.baselineCount,
		TrackedCount:       len(gt.trackedGoroutines),
		ByType:             countByType,
	}
}

var idCounter struct {
	mu sync.Mutex
	n  uint64
}

func generateID() string {
	idCounter.mu.Lock()
	idCounter.n++
	n := idCounter.n
	idCounter.mu.Unlock()
	return fmt.Sprintf("gr-%d", n)
}
