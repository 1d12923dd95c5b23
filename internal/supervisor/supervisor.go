package supervisor

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"edge-agent/internal/platform/metrics"
)

// DefaultGracePeriod is how long Stop waits for a graceful exit before killing.
const DefaultGracePeriod = 5 * time.Second

// drainJoinTimeout bounds how long Stop waits for the output reader to finish
// after the stream has been closed.
const drainJoinTimeout = time.Second

// exitRaceWait is how long Stop waits for a worker that rejected the stop
// request to be reaped before escalating.
const exitRaceWait = 100 * time.Millisecond

var (
	// ErrLaunchFailed is returned when a worker process cannot be spawned.
	ErrLaunchFailed = errors.New("worker launch failed")

	// ErrTerminationTimedOut is returned by Stop when a worker ignored the
	// graceful stop request and had to be killed.
	ErrTerminationTimedOut = errors.New("worker termination timed out")
)

// Worker is the supervisor's record of one spawned process.
type Worker struct {
	ChannelID string
	RunID     string
	Pid       int
	StartedAt time.Time
	Spec      LaunchSpec

	proc    Process
	drained chan struct{}
}

func (w *Worker) alive() bool {
	select {
	case <-w.proc.Done():
		return false
	default:
		return true
	}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithGracePeriod overrides DefaultGracePeriod.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.grace = d
		}
	}
}

// Supervisor owns the mapping from channel id to worker process. At most one
// worker is registered per channel id.
//
// Start, Stop and StopAll are serialized with each other. IsAlive, Registered
// and Running only take the state lock and never wait on a process.
type Supervisor struct {
	opMu sync.Mutex

	mu      sync.RWMutex
	workers map[string]*Worker

	spawner Spawner
	grace   time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics
}

// New returns a Supervisor spawning workers with spawner. m may be nil.
func New(spawner Spawner, log *slog.Logger, m *metrics.Metrics, opts ...Option) *Supervisor {
	if spawner == nil {
		spawner = ExecSpawner{}
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Supervisor{
		workers: make(map[string]*Worker),
		spawner: spawner,
		grace:   DefaultGracePeriod,
		log:     log,
		metrics: m,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start spawns a worker for spec.ChannelID unless a live one already exists,
// in which case it returns (false, nil). An exited worker still registered
// under the id is released first. Start does not wait for the worker to
// become healthy. Spawn failures wrap ErrLaunchFailed and leave no registration.
func (s *Supervisor) Start(spec LaunchSpec) (bool, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	existing := s.workers[spec.ChannelID]
	s.mu.RUnlock()

	if existing != nil {
		if existing.alive() {
			return false, nil
		}
		s.unregister(existing)
		s.release(existing)
	}

	proc, err := s.spawner.Spawn(spec)
	if err != nil {
		s.metrics.IncLaunchFailures()
		return false, fmt.Errorf("%w: channel %s: %w", ErrLaunchFailed, spec.ChannelID, err)
	}

	w := &Worker{
		ChannelID: spec.ChannelID,
		RunID:     uuid.NewString(),
		Pid:       proc.Pid(),
		StartedAt: time.Now().UTC(),
		Spec:      spec,
		proc:      proc,
		drained:   make(chan struct{}),
	}

	s.mu.Lock()
	s.workers[spec.ChannelID] = w
	s.mu.Unlock()

	go s.drain(w)

	s.metrics.IncWorkerStarts()
	s.log.Info("worker started",
		slog.String("channel_id", w.ChannelID),
		slog.String("run_id", w.RunID),
		slog.Int("pid", w.Pid),
		slog.String("input", spec.Input),
		slog.String("publish", spec.PublishURL),
	)
	return true, nil
}

// Stop terminates the worker registered for channelID, if any: a graceful
// request first, then a kill once the grace period elapses. The registration
// is always removed. A forced kill is reported as ErrTerminationTimedOut.
func (s *Supervisor) Stop(channelID string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.stopLocked(channelID)
}

// StopAll stops every registered worker.
func (s *Supervisor) StopAll() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	ids := make([]string, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		if err := s.stopLocked(id); err != nil {
			s.log.Warn("worker stop escalated", slog.String("channel_id", id), slog.String("error", err.Error()))
		}
	}
}

// IsAlive reports whether channelID has a registered worker that has not
// exited. It never blocks on the process.
func (s *Supervisor) IsAlive(channelID string) bool {
	s.mu.RLock()
	w := s.workers[channelID]
	s.mu.RUnlock()
	return w != nil && w.alive()
}

// Registered reports whether channelID has a registration, live or exited.
func (s *Supervisor) Registered(channelID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.workers[channelID]
	return ok
}

// Running returns the sorted ids of channels with a live worker.
func (s *Supervisor) Running() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.workers))
	for id, w := range s.workers {
		if w.alive() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Caller must hold s.opMu.
func (s *Supervisor) stopLocked(channelID string) error {
	s.mu.RLock()
	w := s.workers[channelID]
	s.mu.RUnlock()
	if w == nil {
		return nil
	}
	defer func() {
		s.unregister(w)
		s.release(w)
		s.metrics.IncWorkerStops()
	}()

	if !w.alive() {
		s.log.Info("worker already exited",
			slog.String("channel_id", channelID),
			slog.String("run_id", w.RunID),
			slog.Any("exit", w.proc.ExitErr()),
		)
		return nil
	}

	if err := w.proc.Terminate(); err != nil {
		// The worker may have exited after the alive check.
		if errors.Is(err, os.ErrProcessDone) || waitDone(w.proc, exitRaceWait) {
			s.log.Info("worker exited before stop", slog.String("channel_id", channelID), slog.String("run_id", w.RunID))
			return nil
		}
		s.log.Debug("graceful stop request failed", slog.String("channel_id", channelID), slog.String("error", err.Error()))
	} else if waitDone(w.proc, s.grace) {
		s.log.Info("worker stopped", slog.String("channel_id", channelID), slog.String("run_id", w.RunID))
		return nil
	}

	if err := w.proc.Kill(); err != nil {
		s.log.Warn("worker kill failed", slog.String("channel_id", channelID), slog.String("error", err.Error()))
	}
	if !waitDone(w.proc, s.grace) {
		s.log.Error("worker did not exit after kill",
			slog.String("channel_id", channelID),
			slog.String("run_id", w.RunID),
			slog.Int("pid", w.Pid),
		)
	} else {
		s.log.Warn("worker killed after grace period",
			slog.String("channel_id", channelID),
			slog.String("run_id", w.RunID),
			slog.Duration("grace", s.grace),
		)
	}
	return fmt.Errorf("%w: channel %s after %s", ErrTerminationTimedOut, channelID, s.grace)
}

func (s *Supervisor) unregister(w *Worker) {
	s.mu.Lock()
	if s.workers[w.ChannelID] == w {
		delete(s.workers, w.ChannelID)
	}
	s.mu.Unlock()
}

// release abandons the worker's output stream and joins its reader.
func (s *Supervisor) release(w *Worker) {
	_ = w.proc.Output().Close()
	select {
	case <-w.drained:
	case <-time.After(drainJoinTimeout):
		s.log.Warn("worker output reader did not finish", slog.String("channel_id", w.ChannelID), slog.String("run_id", w.RunID))
	}
}

// drain consumes the worker's diagnostic stream until it closes so the worker
// never blocks on a full pipe. Lines are logged at debug level.
func (s *Supervisor) drain(w *Worker) {
	defer close(w.drained)
	out := w.proc.Output()

	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	scanner.Split(scanLogLines)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		s.log.Debug("worker output",
			slog.String("channel_id", w.ChannelID),
			slog.String("run_id", w.RunID),
			slog.String("line", string(line)),
		)
	}
	if errors.Is(scanner.Err(), bufio.ErrTooLong) {
		_, _ = io.Copy(io.Discard, out)
	}
}

// scanLogLines splits on either '\n' or '\r'; ffmpeg rewrites its progress
// line with carriage returns.
func scanLogLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func waitDone(p Process, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.Done():
		return true
	case <-t.C:
		return false
	}
}
