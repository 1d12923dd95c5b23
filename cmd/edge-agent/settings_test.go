package main

import (
	"testing"
	"time"
)

func TestLoadSettings_defaults(t *testing.T) {
	for _, k := range []string{"EDGE_ID", "CENTRAL_BASE_URL", "SYNC_INTERVAL", "PROXY_YOUTUBE", "PORT", "STOP_GRACE"} {
		t.Setenv(k, "")
	}

	s := loadSettings()
	if s.EdgeID != "edge-001" || s.Port != "8000" || s.HLSPort != "8080" {
		t.Errorf("unexpected identity defaults: %+v", s)
	}
	if s.SyncInterval != 30*time.Second || s.StopGrace != 5*time.Second {
		t.Errorf("unexpected durations: interval=%v grace=%v", s.SyncInterval, s.StopGrace)
	}
	if !s.ProxyYouTube {
		t.Error("proxy mode is on by default")
	}
}

func TestLoadSettings_overrides(t *testing.T) {
	t.Setenv("CENTRAL_BASE_URL", "https://central.example/")
	t.Setenv("RTMP_PUBLISH_BASE", "rtmp://media:1935/")
	t.Setenv("SYNC_INTERVAL", "2")
	t.Setenv("PROXY_YOUTUBE", "0")
	t.Setenv("STOP_GRACE", "250ms")

	s := loadSettings()
	if s.CentralBaseURL != "https://central.example" || s.RTMPPublishBase != "rtmp://media:1935" {
		t.Errorf("trailing slashes should be trimmed: %q %q", s.CentralBaseURL, s.RTMPPublishBase)
	}
	if s.SyncInterval != 2*time.Second {
		t.Errorf("interval: got %v", s.SyncInterval)
	}
	if s.ProxyYouTube {
		t.Error("PROXY_YOUTUBE=0 should disable proxy mode")
	}
	if s.StopGrace != 250*time.Millisecond {
		t.Errorf("grace: got %v", s.StopGrace)
	}
}
