package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"edge-agent/internal/channel"
)

const (
	statusOK            = "ok"
	statusMisconfigured = "misconfigured"

	// Live HLS channels use a far-future start so players keep offset 0.
	hlsScheduleStart    = "2099-01-01T00:00:00Z"
	bypassScheduleStart = "2024-01-01T00:00:00Z"

	bypassItemDuration = 3600
	hlsItemDuration    = 86400
)

// RunningLister reports channels with a live worker.
type RunningLister interface {
	Running() []string
}

// CacheSizer reports the number of cached source resolutions.
type CacheSizer interface {
	Len() int
}

// ServiceConfig describes how this edge is addressed.
type ServiceConfig struct {
	EdgeID     string
	PublicHost string
	HLSPort    string
	Central    string
	Configured bool
	Policy     Policy
}

// Service builds read-only views of the applied state.
type Service struct {
	repo    Repository
	workers RunningLister
	cache   CacheSizer
	cfg     ServiceConfig
}

// NewService returns a Service. cache may be nil.
func NewService(repo Repository, workers RunningLister, cache CacheSizer, cfg ServiceConfig) *Service {
	if cfg.HLSPort == "" {
		cfg.HLSPort = "8080"
	}
	return &Service{repo: repo, workers: workers, cache: cache, cfg: cfg}
}

// EdgeID returns the agent identity.
func (s *Service) EdgeID() string {
	return s.cfg.EdgeID
}

// Health reports configuration state, the last sync outcome and live workers.
func (s *Service) Health() HealthReport {
	st := s.repo.Status()
	report := HealthReport{
		Status:          statusOK,
		EdgeID:          s.cfg.EdgeID,
		Central:         s.cfg.Central,
		LastSyncTS:      unixSeconds(st.LastSyncAt),
		LastAttemptTS:   unixSeconds(st.LastAttemptAt),
		LastError:       optionalString(st.LastError),
		ChannelErrors:   st.ChannelErrors,
		RunningChannels: s.workers.Running(),
	}
	if !s.cfg.Configured {
		report.Status = statusMisconfigured
	}
	if s.cache != nil {
		report.CachedSources = s.cache.Len()
	}
	return report
}

// SyncReport describes the state after a manual cycle.
func (s *Service) SyncReport(res CycleResult) SyncReport {
	st := s.repo.Status()
	channels := s.repo.Snapshot().Specs()
	if channels == nil {
		channels = []channel.Spec{}
	}
	return SyncReport{
		OK:              st.LastError == "",
		CycleID:         res.ID,
		LastError:       optionalString(st.LastError),
		ChannelErrors:   st.ChannelErrors,
		RunningChannels: s.workers.Running(),
		Channels:        channels,
	}
}

// AppItems renders every enabled channel for the player app. requestHost is
// the host the client used to reach the agent.
func (s *Service) AppItems(requestHost string) []AppItem {
	out := make([]AppItem, 0)
	for _, spec := range s.repo.Snapshot().Specs() {
		if !spec.Enabled {
			continue
		}
		if item, ok := s.appItem(spec, requestHost); ok {
			out = append(out, item)
		}
	}
	return out
}

// PlaylistDocument returns the machine-readable playlist.
func (s *Service) PlaylistDocument(requestHost string) PlaylistDocument {
	return PlaylistDocument{EdgeID: s.cfg.EdgeID, Items: s.AppItems(requestHost)}
}

// M3UPlaylist returns the plain-text playlist of enabled channels: edge HLS
// URLs for transcoded channels, pass-through locators for the rest.
func (s *Service) M3UPlaylist(requestHost string) string {
	specs := s.repo.Snapshot().Specs()
	entries := make([]PlaylistEntry, 0, len(specs))
	for _, spec := range specs {
		if !spec.Enabled {
			continue
		}
		entries = append(entries, PlaylistEntry{Name: spec.Name, URL: s.accessURL(spec, requestHost)})
	}
	return BuildM3UPlaylist(entries)
}

// HLSURL returns the edge-served playlist URL of channelID.
func (s *Service) HLSURL(channelID, requestHost string) string {
	host := s.cfg.PublicHost
	if host == "" {
		host = requestHost
	}
	if host == "" {
		host = "127.0.0.1"
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	base := strings.TrimRight(fmt.Sprintf("http://%s:%s", host, s.cfg.HLSPort), "/")
	return fmt.Sprintf("%s/hls/%s/%s/index.m3u8", base, s.cfg.EdgeID, channelID)
}

func (s *Service) accessURL(spec channel.Spec, requestHost string) string {
	if s.cfg.Policy.NeedsWorker(spec) {
		return s.HLSURL(spec.ID, requestHost)
	}
	return spec.BypassLocator()
}

func (s *Service) appItem(spec channel.Spec, requestHost string) (AppItem, bool) {
	item := AppItem{
		ChannelID:     spec.ID,
		Name:          spec.Name,
		ScheduleStart: spec.ScheduleStart,
		Loop:          true,
	}
	if item.ScheduleStart == "" {
		item.ScheduleStart = bypassScheduleStart
		if spec.Kind == channel.KindHLS {
			item.ScheduleStart = hlsScheduleStart
		}
	}

	switch {
	case spec.Kind == channel.KindYouTubeLinear:
		item.Kind = string(channel.KindYouTubeLinear)
		for _, it := range spec.Items {
			if it.Locator == "" || it.Duration == 0 {
				continue
			}
			item.Items = append(item.Items, Video{Type: "video", URL: it.Locator, Duration: it.Duration})
		}
		if len(item.Items) == 0 {
			u := spec.BypassLocator()
			if u == "" {
				return AppItem{}, false
			}
			item.Items = []Video{{Type: "video", URL: u, Duration: bypassItemDuration}}
		}
	case !s.cfg.Policy.NeedsWorker(spec):
		u := spec.BypassLocator()
		if u == "" {
			return AppItem{}, false
		}
		item.Kind = string(channel.KindYouTube)
		item.Items = []Video{{Type: "video", URL: u, Duration: bypassItemDuration}}
	default:
		item.Kind = string(channel.KindHLS)
		item.Items = []Video{{Type: "video", URL: s.HLSURL(spec.ID, requestHost), Duration: hlsItemDuration}}
	}
	return item, true
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
