package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"edge-agent/internal/channel"
	"edge-agent/internal/platform/metrics"
	"edge-agent/internal/supervisor"
)

const (
	// DefaultInterval is the pause between reconciliation cycles.
	DefaultInterval = 30 * time.Second
	// MinInterval is the floor applied to any configured interval.
	MinInterval = 5 * time.Second
)

// ErrEngineStopped is returned by Sync once the loop has exited.
var ErrEngineStopped = errors.New("reconciliation loop stopped")

// DesiredStateSource fetches the desired channel state.
type DesiredStateSource interface {
	FetchChannels(ctx context.Context) (*channel.Snapshot, error)
}

// SourceResolver turns an indirect source locator into a direct one.
type SourceResolver interface {
	Resolve(ctx context.Context, locator string) (string, error)
}

// WorkerSupervisor is the process supervisor as driven by the engine.
type WorkerSupervisor interface {
	Start(spec supervisor.LaunchSpec) (bool, error)
	Stop(channelID string) error
	IsAlive(channelID string) bool
	Registered(channelID string) bool
	Running() []string
}

// Policy decides which channels need a local worker.
type Policy struct {
	// ProxyYouTube lets non-bypass channels with a YouTube source be
	// transcoded locally after resolving the source.
	ProxyYouTube bool
}

// NeedsWorker reports whether spec, when enabled, is served by a local worker.
// Bypass kinds never are; other kinds are unless their source is a YouTube
// page and proxy mode is off.
func (p Policy) NeedsWorker(spec channel.Spec) bool {
	if spec.Kind.IsBypass() {
		return false
	}
	return p.ProxyYouTube || !channel.IsYouTube(spec.SourceLocator)
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Interval time.Duration
	Policy   Policy
	Worker   supervisor.WorkerConfig
}

type syncRequest struct {
	reply chan CycleResult
}

// Engine converges running workers to the desired state on a fixed interval.
// All cycles run on the goroutine executing Run, one at a time; Sync asks that
// goroutine for an extra cycle.
type Engine struct {
	source   DesiredStateSource
	resolver SourceResolver
	sup      WorkerSupervisor
	repo     Repository
	cfg      EngineConfig
	log      *slog.Logger
	metrics  *metrics.Metrics

	requests chan syncRequest
	stopped  chan struct{}
}

// NewEngine wires an Engine. log and m may be nil.
func NewEngine(source DesiredStateSource, resolver SourceResolver, sup WorkerSupervisor, repo Repository, cfg EngineConfig, log *slog.Logger, m *metrics.Metrics) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Interval < MinInterval {
		cfg.Interval = MinInterval
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		source:   source,
		resolver: resolver,
		sup:      sup,
		repo:     repo,
		cfg:      cfg,
		log:      log,
		metrics:  m,
		requests: make(chan syncRequest),
		stopped:  make(chan struct{}),
	}
}

// Interval returns the effective cycle interval.
func (e *Engine) Interval() time.Duration {
	return e.cfg.Interval
}

// Run executes a cycle immediately and then one per interval until ctx is
// done. The next cycle is scheduled only after the previous one completes.
// Run must be called at most once.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.stopped)
	e.log.Info("reconciliation loop started", slog.Duration("interval", e.cfg.Interval))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("reconciliation loop stopped")
			return nil
		case <-timer.C:
			e.runCycle(ctx)
			timer.Reset(e.cfg.Interval)
		case req := <-e.requests:
			req.reply <- e.runCycle(ctx)
		}
	}
}

// Sync requests an immediate cycle from the running loop and waits for its
// result. It returns ErrEngineStopped once Run has exited.
func (e *Engine) Sync(ctx context.Context) (CycleResult, error) {
	req := syncRequest{reply: make(chan CycleResult, 1)}
	select {
	case e.requests <- req:
	case <-e.stopped:
		return CycleResult{}, ErrEngineStopped
	case <-ctx.Done():
		return CycleResult{}, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res, nil
	case <-ctx.Done():
		return CycleResult{}, ctx.Err()
	}
}

// runCycle fetches and applies the desired state, then sweeps for crashed
// workers. The sweep runs even when the fetch fails.
func (e *Engine) runCycle(ctx context.Context) CycleResult {
	res := CycleResult{ID: uuid.NewString(), ChannelErrors: make(map[string]string)}
	log := e.log.With(slog.String("cycle_id", res.ID))
	now := time.Now().UTC()

	desired, err := e.source.FetchChannels(ctx)
	if err != nil {
		res.FetchErr = err
		e.repo.RecordFailure(err, now)
		log.Warn("desired state fetch failed; keeping previous state", slog.String("error", err.Error()))
	} else {
		e.apply(ctx, log, desired, &res)
		e.repo.ApplySnapshot(desired, now)
	}

	e.sweep(ctx, log, &res)

	e.repo.SetChannelErrors(res.ChannelErrors)
	e.metrics.ObserveCycle(res.FetchErr, e.repo.Status().LastSyncAt)
	e.metrics.SetRunningWorkers(len(e.sup.Running()))

	log.Debug("cycle complete",
		slog.Int("started", len(res.Started)),
		slog.Int("stopped", len(res.Stopped)),
		slog.Int("restarted", len(res.Restarted)),
		slog.Int("channel_errors", len(res.ChannelErrors)),
	)
	return res
}

// apply diffs desired against the applied snapshot and drives the supervisor.
func (e *Engine) apply(ctx context.Context, log *slog.Logger, desired *channel.Snapshot, res *CycleResult) {
	prev := e.repo.Snapshot()

	if desired.Len() == 0 && prev.Len() > 0 {
		log.Warn("control plane returned no channels; stopping all workers", slog.Int("previous", prev.Len()))
	}

	for _, id := range prev.IDs() {
		if spec, ok := desired.Get(id); !ok || !spec.Enabled {
			e.stop(log, id, res)
		}
	}

	for _, spec := range desired.Specs() {
		if !spec.Enabled {
			e.stop(log, spec.ID, res)
			continue
		}
		if old, ok := prev.Get(spec.ID); ok && (old.SourceLocator != spec.SourceLocator || old.Kind != spec.Kind) {
			log.Info("channel changed; replacing worker",
				slog.String("channel_id", spec.ID),
				slog.String("old_kind", string(old.Kind)),
				slog.String("kind", string(spec.Kind)),
			)
			e.stop(log, spec.ID, res)
		}
		if !e.cfg.Policy.NeedsWorker(spec) {
			continue
		}
		_ = e.start(ctx, log, spec, res)
	}
}

// sweep restarts workers that should be running but are not, so crashes are
// recovered even when the fetch failed. Channels that already failed to start
// this cycle are left for the next one.
func (e *Engine) sweep(ctx context.Context, log *slog.Logger, res *CycleResult) {
	for _, spec := range e.repo.Snapshot().Specs() {
		if !spec.Enabled || !e.cfg.Policy.NeedsWorker(spec) {
			continue
		}
		if _, failed := res.ChannelErrors[spec.ID]; failed {
			continue
		}
		if e.sup.IsAlive(spec.ID) {
			continue
		}
		_ = e.start(ctx, log, spec, res)
	}
}

// start launches a worker for spec unless one is alive. A registered worker
// that has exited is replaced and counted as a restart.
func (e *Engine) start(ctx context.Context, log *slog.Logger, spec channel.Spec, res *CycleResult) error {
	if e.sup.IsAlive(spec.ID) {
		return nil
	}
	crashed := e.sup.Registered(spec.ID)

	input := spec.SourceLocator
	if channel.IsYouTube(input) {
		resolved, err := e.resolver.Resolve(ctx, input)
		if err != nil {
			res.ChannelErrors[spec.ID] = err.Error()
			log.Warn("source resolution failed", slog.String("channel_id", spec.ID), slog.String("error", err.Error()))
			return err
		}
		input = resolved
	}

	started, err := e.sup.Start(supervisor.BuildLaunchSpec(e.cfg.Worker, spec.ID, input))
	if err != nil {
		res.ChannelErrors[spec.ID] = err.Error()
		log.Error("worker launch failed", slog.String("channel_id", spec.ID), slog.String("error", err.Error()))
		return err
	}
	if !started {
		return nil
	}
	res.Started = append(res.Started, spec.ID)
	if crashed {
		res.Restarted = append(res.Restarted, spec.ID)
		e.metrics.IncWorkerRestarts()
		log.Warn("worker exited; restarted", slog.String("channel_id", spec.ID))
	}
	return nil
}

func (e *Engine) stop(log *slog.Logger, channelID string, res *CycleResult) {
	if !e.sup.Registered(channelID) {
		return
	}
	err := e.sup.Stop(channelID)
	res.Stopped = append(res.Stopped, channelID)
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, supervisor.ErrTerminationTimedOut) {
			level = slog.LevelWarn
		}
		log.Log(context.Background(), level, "worker stop escalated", slog.String("channel_id", channelID), slog.String("error", err.Error()))
	}
}
