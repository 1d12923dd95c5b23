package orchestrator

import (
	"time"

	"edge-agent/internal/channel"
)

// SyncStatus is the outcome of the most recent reconciliation attempts.
type SyncStatus struct {
	// LastSyncAt is when a desired state was last applied; zero if never.
	LastSyncAt time.Time
	// LastAttemptAt is when the last cycle ran, successful or not.
	LastAttemptAt time.Time
	// LastError is the last fetch failure; cleared by the next successful sync.
	LastError string
	// ChannelErrors holds per-channel resolution or launch failures from the
	// last cycle, keyed by channel id.
	ChannelErrors map[string]string
}

// CycleResult summarizes one reconciliation cycle.
type CycleResult struct {
	ID            string
	FetchErr      error
	Started       []string
	Stopped       []string
	Restarted     []string
	ChannelErrors map[string]string
}

// Video is one playable entry of an app item.
type Video struct {
	Type     string `json:"type"`
	URL      string `json:"url"`
	Duration int    `json:"duration"`
}

// AppItem is one channel rendered for the player app.
type AppItem struct {
	ChannelID     string  `json:"channel_id"`
	Name          string  `json:"name"`
	Kind          string  `json:"kind"`
	ScheduleStart string  `json:"schedule_start"`
	Items         []Video `json:"items"`
	Loop          bool    `json:"loop"`
}

// PlaylistDocument is the body of /playlist.json.
type PlaylistDocument struct {
	EdgeID string    `json:"edge_id"`
	Items  []AppItem `json:"items"`
}

// HealthReport is the body of /health.
type HealthReport struct {
	Status          string            `json:"status"`
	EdgeID          string            `json:"edge_id"`
	Central         string            `json:"central"`
	LastSyncTS      float64           `json:"last_sync_ts"`
	LastAttemptTS   float64           `json:"last_attempt_ts"`
	LastError       *string           `json:"last_error"`
	ChannelErrors   map[string]string `json:"channel_errors,omitempty"`
	RunningChannels []string          `json:"running_channels"`
	CachedSources   int               `json:"cached_sources"`
}

// SyncReport is the body of /sync.
type SyncReport struct {
	OK              bool              `json:"ok"`
	CycleID         string            `json:"cycle_id"`
	LastError       *string           `json:"last_error"`
	ChannelErrors   map[string]string `json:"channel_errors,omitempty"`
	RunningChannels []string          `json:"running_channels"`
	Channels        []channel.Spec    `json:"channels"`
}

// PlaylistEntry is one line pair of an M3U playlist.
type PlaylistEntry struct {
	Name string
	URL  string
}
