package dronesync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bloodlink-backend/config"
	"bloodlink-backend/internal/drone"
	"bloodlink-backend/internal/logger"
	"bloodlink-backend/internal/model"
	"bloodlink-backend/internal/store"
)

// ErrAlreadyRunning is returned by Start on a running loop.
var ErrAlreadyRunning = errors.New("drone sync loop already running")

// TelemetrySource reads live telemetry from a drone.
type TelemetrySource interface {
	FetchFlightInfo(ctx context.Context, d *model.Drone) (*drone.FlightInfo, error)
}

// DroneStatus is the derived connectivity of one drone.
type DroneStatus struct {
	DroneID    int64      `json:"droneId"`
	Name       string     `json:"name"`
	IsOnline   bool       `json:"isOnline"`
	LastSyncAt *time.Time `json:"lastSyncAt"`
	Endpoint   *string    `json:"endpoint"`
}

// TickResult summarises one sync round.
type TickResult struct {
	Skipped bool
	Synced  []int64
	Failed  map[int64]error
}

// Option customises a Loop.
type Option func(*Loop)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// Loop polls every drone with an endpoint and persists its telemetry.
type Loop struct {
	store  store.Store
	source TelemetrySource
	cfg    config.DroneSyncConfig
	log    *zap.Logger
	now    func() time.Time

	ticking atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewLoop creates a stopped Loop.
func NewLoop(s store.Store, source TelemetrySource, cfg config.DroneSyncConfig, log *zap.Logger, opts ...Option) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.OnlineThreshold <= 0 {
		cfg.OnlineThreshold = 15 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 16
	}
	l := &Loop{
		store:  s,
		source: source,
		cfg:    cfg,
		log:    logger.OrNop(log).Named("drone_sync"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start runs the loop in the background until Stop is called or ctx ends.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.stopped = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		l.Run(runCtx)
	}(l.stopped)
	return nil
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, stopped := l.cancel, l.stopped
	l.cancel, l.stopped = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

// Run ticks at a fixed rate until ctx is cancelled. A tick that comes due
// while the previous one is still running is skipped.
func (l *Loop) Run(ctx context.Context) {
	l.log.Info("drone sync loop started",
		zap.Duration("interval", l.cfg.Interval),
		zap.Int("max_concurrency", l.cfg.MaxConcurrency),
	)

	var inflight sync.WaitGroup
	defer inflight.Wait()

	tick := func() {
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			l.Tick(ctx)
		}()
	}

	tick()
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.log.Info("drone sync loop shutting down")
			return
		case <-ticker.C:
			tick()
		}
	}
}

// Tick fetches and stores telemetry for every syncable drone concurrently.
// One drone failing never affects the others.
func (l *Loop) Tick(ctx context.Context) TickResult {
	if !l.ticking.CompareAndSwap(false, true) {
		l.log.Warn("previous sync tick still running, skipping")
		return TickResult{Skipped: true}
	}
	defer l.ticking.Store(false)

	result := TickResult{Failed: map[int64]error{}}

	drones, err := l.store.ListSyncableDrones(ctx)
	if err != nil {
		l.log.Error("failed to list drones", zap.Error(err))
		return result
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(l.cfg.MaxConcurrency)

	for i := range drones {
		d := &drones[i]
		g.Go(func() error {
			err := l.syncDrone(ctx, d)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed[d.ID] = err
			} else {
				result.Synced = append(result.Synced, d.ID)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(result.Failed) > 0 {
		l.log.Warn("sync tick finished with failures",
			zap.Int("synced", len(result.Synced)),
			zap.Int("failed", len(result.Failed)),
		)
	} else {
		l.log.Debug("sync tick finished", zap.Int("synced", len(result.Synced)))
	}
	return result
}

func (l *Loop) syncDrone(ctx context.Context, d *model.Drone) error {
	info, err := l.source.FetchFlightInfo(ctx, d)
	if err != nil {
		l.log.Debug("telemetry fetch failed", zap.Int64("drone_id", d.ID), zap.Error(err))
		return err
	}
	if err := l.store.UpdateTelemetry(ctx, d.ID, info.Telemetry(), l.now()); err != nil {
		l.log.Error("failed to store telemetry", zap.Int64("drone_id", d.ID), zap.Error(err))
		return err
	}
	return nil
}

// ForceSync refreshes one drone immediately. It reports true when the
// snapshot was updated; the error says why it was not.
func (l *Loop) ForceSync(ctx context.Context, droneID int64) (bool, error) {
	d, err := l.store.GetDrone(ctx, droneID)
	if err != nil {
		return false, err
	}
	if err := l.syncDrone(ctx, d); err != nil {
		return false, err
	}
	return true, nil
}

// DronesStatus reports the derived online state of every drone.
func (l *Loop) DronesStatus(ctx context.Context) ([]DroneStatus, error) {
	drones, err := l.store.ListDrones(ctx)
	if err != nil {
		return nil, err
	}

	now := l.now()
	statuses := make([]DroneStatus, 0, len(drones))
	for _, d := range drones {
		statuses = append(statuses, DroneStatus{
			DroneID:    d.ID,
			Name:       d.Name,
			IsOnline:   IsOnline(d.LastSyncAt, now, l.cfg.OnlineThreshold),
			LastSyncAt: d.LastSyncAt,
			Endpoint:   d.Endpoint,
		})
	}
	return statuses, nil
}

// IsOnline reports whether a drone last synced at lastSyncAt is still
// considered connected at now. A drone that never synced is offline.
func IsOnline(lastSyncAt *time.Time, now time.Time, threshold time.Duration) bool {
	if lastSyncAt == nil {
		return false
	}
	return now.Sub(*lastSyncAt) < threshold
}
