package orchestrator

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"edge-agent/internal/channel"
	"edge-agent/internal/resolver"
	"edge-agent/internal/supervisor"
)

type fakeSource struct {
	mu   sync.Mutex
	snap *channel.Snapshot
	err  error
}

func (f *fakeSource) set(snap *channel.Snapshot, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap, f.err = snap, err
}

func (f *fakeSource) FetchChannels(context.Context) (*channel.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, f.err
}

type fakeResolver struct {
	calls int
	err   error
}

func (f *fakeResolver) Resolve(_ context.Context, locator string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "https://direct/" + locator[len(locator)-1:], nil
}

type fakeWorker struct {
	spec  supervisor.LaunchSpec
	alive bool
}

type fakeSupervisor struct {
	mu        sync.Mutex
	workers   map[string]*fakeWorker
	starts    map[string]int
	stops     map[string]int
	launchErr error
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{
		workers: make(map[string]*fakeWorker),
		starts:  make(map[string]int),
		stops:   make(map[string]int),
	}
}

func (f *fakeSupervisor) Start(spec supervisor.LaunchSpec) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.workers[spec.ChannelID]; ok && w.alive {
		return false, nil
	}
	if f.launchErr != nil {
		return false, f.launchErr
	}
	f.workers[spec.ChannelID] = &fakeWorker{spec: spec, alive: true}
	f.starts[spec.ChannelID]++
	return true, nil
}

func (f *fakeSupervisor) Stop(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.workers[id]; ok {
		f.stops[id]++
		delete(f.workers, id)
	}
	return nil
}

func (f *fakeSupervisor) IsAlive(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workers[id]
	return ok && w.alive
}

func (f *fakeSupervisor) Registered(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.workers[id]
	return ok
}

func (f *fakeSupervisor) Running() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0)
	for id, w := range f.workers {
		if w.alive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (f *fakeSupervisor) crash(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workers[id].alive = false
}

type engineFixture struct {
	source *fakeSource
	res    *fakeResolver
	sup    *fakeSupervisor
	repo   *InMemoryRepository
	engine *Engine
}

func newEngineFixture(t *testing.T, policy Policy) *engineFixture {
	t.Helper()
	f := &engineFixture{
		source: &fakeSource{},
		res:    &fakeResolver{},
		sup:    newFakeSupervisor(),
		repo:   NewInMemoryRepository(),
	}
	cfg := EngineConfig{
		Policy: policy,
		Worker: supervisor.WorkerConfig{PublishBase: "rtmp://media:1935", EdgeID: "edge-1"},
	}
	f.engine = NewEngine(f.source, resolver.NewCache(f.res, nil), f.sup, f.repo, cfg, nil, nil)
	return f
}

func hls(id, src string, enabled bool) channel.Spec {
	return channel.Spec{ID: id, Name: id, Kind: channel.KindHLS, SourceLocator: src, Enabled: enabled}
}

func TestEngine_scenario_hls_and_youtube(t *testing.T) {
	f := newEngineFixture(t, Policy{ProxyYouTube: true})

	f.source.set(channel.NewSnapshot(
		hls("A", "http://src/a.m3u8", true),
		channel.Spec{ID: "B", Kind: channel.KindYouTube, SourceLocator: "https://youtu.be/b", Enabled: true},
	), nil)
	f.engine.runCycle(context.Background())

	if got := f.sup.Running(); !reflect.DeepEqual(got, []string{"A"}) {
		t.Fatalf("after first cycle expected only A running, got %v", got)
	}

	f.source.set(channel.NewSnapshot(
		hls("A", "http://src/a.m3u8", false),
		channel.Spec{ID: "B", Kind: channel.KindYouTube, SourceLocator: "https://youtu.be/b", Enabled: true},
	), nil)
	f.engine.runCycle(context.Background())

	if got := f.sup.Running(); len(got) != 0 {
		t.Errorf("after disabling A expected no workers, got %v", got)
	}
	if f.res.calls != 0 {
		t.Errorf("bypass kinds must not be resolved, got %d calls", f.res.calls)
	}
}

func TestEngine_live_workers_match_desired(t *testing.T) {
	f := newEngineFixture(t, Policy{})
	f.source.set(channel.NewSnapshot(
		hls("a", "http://s/a", true),
		hls("b", "http://s/b", false),
		hls("c", "https://www.youtube.com/watch?v=c", true),
		channel.Spec{ID: "d", Kind: channel.KindYouTubeLinear, Enabled: true},
		hls("e", "http://s/e", true),
	), nil)

	f.engine.runCycle(context.Background())

	if got := f.sup.Running(); !reflect.DeepEqual(got, []string{"a", "e"}) {
		t.Errorf("expected workers for a and e, got %v", got)
	}
	if f.repo.Snapshot().Len() != 5 {
		t.Errorf("snapshot should hold every fetched channel, got %d", f.repo.Snapshot().Len())
	}
}

func TestEngine_source_change_restarts_once(t *testing.T) {
	tests := []struct {
		name string
		next channel.Spec
	}{
		{name: "source", next: hls("a", "http://s/a2", true)},
		{name: "kind", next: channel.Spec{ID: "a", Kind: "rtmp", SourceLocator: "http://s/a", Enabled: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t, Policy{})
			f.source.set(channel.NewSnapshot(hls("a", "http://s/a", true)), nil)
			f.engine.runCycle(context.Background())

			f.source.set(channel.NewSnapshot(tt.next), nil)
			res := f.engine.runCycle(context.Background())

			if f.sup.stops["a"] != 1 || f.sup.starts["a"] != 2 {
				t.Errorf("expected one stop and one new start, got stops=%d starts=%d", f.sup.stops["a"], f.sup.starts["a"])
			}
			if !reflect.DeepEqual(res.Stopped, []string{"a"}) || !reflect.DeepEqual(res.Started, []string{"a"}) {
				t.Errorf("cycle result: stopped=%v started=%v", res.Stopped, res.Started)
			}
			if got := f.sup.workers["a"].spec.Input; got != tt.next.SourceLocator {
				t.Errorf("new worker input: got %q", got)
			}
		})
	}
}

func TestEngine_unchanged_channel_not_restarted(t *testing.T) {
	f := newEngineFixture(t, Policy{})
	f.source.set(channel.NewSnapshot(hls("a", "http://s/a", true)), nil)
	f.engine.runCycle(context.Background())
	f.engine.runCycle(context.Background())

	if f.sup.starts["a"] != 1 || f.sup.stops["a"] != 0 {
		t.Errorf("unchanged channel restarted: starts=%d stops=%d", f.sup.starts["a"], f.sup.stops["a"])
	}
}

func TestEngine_removed_channel_stopped(t *testing.T) {
	f := newEngineFixture(t, Policy{})
	f.source.set(channel.NewSnapshot(hls("a", "http://s/a", true), hls("b", "http://s/b", true)), nil)
	f.engine.runCycle(context.Background())

	f.source.set(channel.NewSnapshot(hls("b", "http://s/b", true)), nil)
	f.engine.runCycle(context.Background())
	f.engine.runCycle(context.Background())

	if got := f.sup.Running(); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("expected only b, got %v", got)
	}
	if f.sup.starts["a"] != 1 {
		t.Errorf("removed channel must not be restarted, starts=%d", f.sup.starts["a"])
	}
}

func TestEngine_fetch_failure_keeps_state(t *testing.T) {
	f := newEngineFixture(t, Policy{})
	f.source.set(channel.NewSnapshot(hls("a", "http://s/a", true)), nil)
	f.engine.runCycle(context.Background())
	before := f.repo.Snapshot()
	syncedAt := f.repo.Status().LastSyncAt

	f.source.set(nil, errors.New("control plane down"))
	res := f.engine.runCycle(context.Background())

	if res.FetchErr == nil {
		t.Fatal("expected fetch error in cycle result")
	}
	if f.repo.Snapshot() != before {
		t.Error("snapshot must be unchanged after a failed fetch")
	}
	if got := f.sup.Running(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("workers must be untouched, got %v", got)
	}
	st := f.repo.Status()
	if st.LastError != "control plane down" {
		t.Errorf("last error: got %q", st.LastError)
	}
	if !st.LastSyncAt.Equal(syncedAt) {
		t.Error("last sync time must not move on failure")
	}

	f.source.set(channel.NewSnapshot(hls("a", "http://s/a", true)), nil)
	f.engine.runCycle(context.Background())
	if f.repo.Status().LastError != "" {
		t.Error("successful sync should clear the error")
	}
}

func TestEngine_sweep_restarts_crashed_worker(t *testing.T) {
	f := newEngineFixture(t, Policy{})
	f.source.set(channel.NewSnapshot(hls("a", "http://s/a", true)), nil)
	f.engine.runCycle(context.Background())

	f.sup.crash("a")
	res := f.engine.runCycle(context.Background())

	if !f.sup.IsAlive("a") {
		t.Fatal("crashed worker should be restarted")
	}
	if f.sup.starts["a"] != 2 {
		t.Errorf("expected a second start, got %d", f.sup.starts["a"])
	}
	if !reflect.DeepEqual(res.Restarted, []string{"a"}) {
		t.Errorf("restarted: got %v", res.Restarted)
	}
}

func TestEngine_sweep_runs_when_fetch_fails(t *testing.T) {
	f := newEngineFixture(t, Policy{})
	f.source.set(channel.NewSnapshot(hls("a", "http://s/a", true)), nil)
	f.engine.runCycle(context.Background())

	f.sup.crash("a")
	f.source.set(nil, errors.New("timeout"))
	f.engine.runCycle(context.Background())

	if !f.sup.IsAlive("a") {
		t.Error("crash recovery must not depend on control plane availability")
	}
}

func TestEngine_empty_payload_tears_down(t *testing.T) {
	f := newEngineFixture(t, Policy{})
	f.source.set(channel.NewSnapshot(hls("a", "http://s/a", true), hls("b", "http://s/b", true)), nil)
	f.engine.runCycle(context.Background())

	f.source.set(channel.NewSnapshot(), nil)
	f.engine.runCycle(context.Background())

	if got := f.sup.Running(); len(got) != 0 {
		t.Errorf("empty successful payload should stop every worker, got %v", got)
	}
	if f.repo.Snapshot().Len() != 0 {
		t.Error("snapshot should be replaced by the empty state")
	}
}

func TestEngine_proxy_resolution(t *testing.T) {
	f := newEngineFixture(t, Policy{ProxyYouTube: true})
	f.source.set(channel.NewSnapshot(hls("p", "https://youtu.be/p", true)), nil)

	f.engine.runCycle(context.Background())
	if got := f.sup.workers["p"].spec.Input; got != "https://direct/p" {
		t.Fatalf("worker should use resolved input, got %q", got)
	}

	f.sup.crash("p")
	f.engine.runCycle(context.Background())
	if f.res.calls != 1 {
		t.Errorf("restart should reuse cached resolution, resolver calls=%d", f.res.calls)
	}
}

func TestEngine_resolution_failure_is_local(t *testing.T) {
	f := newEngineFixture(t, Policy{ProxyYouTube: true})
	f.res.err = errors.New("exit status 1")
	f.source.set(channel.NewSnapshot(
		hls("p", "https://youtu.be/p", true),
		hls("a", "http://s/a", true),
	), nil)

	res := f.engine.runCycle(context.Background())

	if _, ok := res.ChannelErrors["p"]; !ok {
		t.Fatalf("expected channel error for p, got %v", res.ChannelErrors)
	}
	if f.res.calls != 1 {
		t.Errorf("failed channel should not be retried by the sweep in the same cycle, calls=%d", f.res.calls)
	}
	if got := f.sup.Running(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("other channels should still start, got %v", got)
	}
	if f.repo.Snapshot().Len() != 2 || f.repo.Status().LastError != "" {
		t.Error("resolution failure must not block applying the snapshot")
	}
	if _, ok := f.repo.Status().ChannelErrors["p"]; !ok {
		t.Error("channel error should be visible in status")
	}

	f.res.err = nil
	f.engine.runCycle(context.Background())
	if !f.sup.IsAlive("p") {
		t.Error("channel should start once resolution succeeds")
	}
	if len(f.repo.Status().ChannelErrors) != 0 {
		t.Errorf("channel errors should clear, got %v", f.repo.Status().ChannelErrors)
	}
}

func TestEngine_launch_failure_retried_next_cycle(t *testing.T) {
	f := newEngineFixture(t, Policy{})
	f.sup.launchErr = supervisor.ErrLaunchFailed
	f.source.set(channel.NewSnapshot(hls("a", "http://s/a", true)), nil)

	res := f.engine.runCycle(context.Background())
	if _, ok := res.ChannelErrors["a"]; !ok || f.sup.Registered("a") {
		t.Fatalf("launch failure: errors=%v registered=%v", res.ChannelErrors, f.sup.Registered("a"))
	}

	f.sup.launchErr = nil
	f.engine.runCycle(context.Background())
	if !f.sup.IsAlive("a") {
		t.Error("channel should start on the next cycle")
	}
}

func TestEngine_interval_floor(t *testing.T) {
	e := NewEngine(&fakeSource{}, nil, newFakeSupervisor(), NewInMemoryRepository(), EngineConfig{Interval: time.Second}, nil, nil)
	if e.Interval() != MinInterval {
		t.Errorf("expected floor %v, got %v", MinInterval, e.Interval())
	}
	e = NewEngine(&fakeSource{}, nil, newFakeSupervisor(), NewInMemoryRepository(), EngineConfig{}, nil, nil)
	if e.Interval() != DefaultInterval {
		t.Errorf("expected default %v, got %v", DefaultInterval, e.Interval())
	}
}

func TestEngine_Run_and_Sync(t *testing.T) {
	f := newEngineFixture(t, Policy{})
	f.source.set(channel.NewSnapshot(hls("a", "http://s/a", true)), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = f.engine.Run(ctx)
		close(done)
	}()

	syncCtx, syncCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer syncCancel()

	f.source.set(channel.NewSnapshot(hls("a", "http://s/a", true), hls("b", "http://s/b", true)), nil)
	res, err := f.engine.Sync(syncCtx)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.ID == "" {
		t.Error("cycle id should be set")
	}
	if got := f.sup.Running(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("expected a and b after manual sync, got %v", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestEngine_Sync_without_loop(t *testing.T) {
	f := newEngineFixture(t, Policy{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.engine.Sync(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
}

func TestEngine_Sync_after_Run_returns(t *testing.T) {
	f := newEngineFixture(t, Policy{})
	f.source.set(channel.NewSnapshot(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.engine.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	syncCtx, syncCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer syncCancel()
	start := time.Now()
	_, err := f.engine.Sync(syncCtx)
	if !errors.Is(err, ErrEngineStopped) {
		t.Fatalf("expected ErrEngineStopped, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Sync waited %v after the loop stopped", elapsed)
	}
}

func TestPolicy_NeedsWorker(t *testing.T) {
	yt := hls("y", "https://youtu.be/y", true)
	if (Policy{}).NeedsWorker(yt) {
		t.Error("youtube source without proxy is pass-through")
	}
	if !(Policy{ProxyYouTube: true}).NeedsWorker(yt) {
		t.Error("youtube source with proxy needs a worker")
	}
	bypass := channel.Spec{ID: "b", Kind: channel.KindYouTube, SourceLocator: "https://youtu.be/b"}
	if (Policy{ProxyYouTube: true}).NeedsWorker(bypass) {
		t.Error("bypass kinds never need a worker")
	}
}
