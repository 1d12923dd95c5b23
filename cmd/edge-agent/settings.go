package main

import (
	"strings"
	"time"

	"edge-agent/internal/platform/config"
)

// settings is the agent configuration read from the environment.
type settings struct {
	EdgeID          string
	APIKey          string
	CentralBaseURL  string
	SyncInterval    time.Duration
	RTMPPublishBase string
	YTDLPFormat     string
	YTDLPBin        string
	FFmpegBin       string
	PublicHost      string
	HLSPort         string
	ProxyYouTube    bool
	LogDir          string
	Port            string
	LogLevel        string
	LogFormat       string
	FetchTimeout    time.Duration
	ResolveTimeout  time.Duration
	StopGrace       time.Duration
	SyncRateLimit   float64
}

func loadSettings() settings {
	return settings{
		EdgeID:          config.GetEnv("EDGE_ID", "edge-001"),
		APIKey:          config.GetEnv("API_KEY", ""),
		CentralBaseURL:  strings.TrimRight(config.GetEnv("CENTRAL_BASE_URL", ""), "/"),
		SyncInterval:    config.GetEnvDuration("SYNC_INTERVAL", 30*time.Second),
		RTMPPublishBase: strings.TrimRight(config.GetEnv("RTMP_PUBLISH_BASE", "rtmp://mediamtx:1935"), "/"),
		YTDLPFormat:     config.GetEnv("YTDLP_FORMAT", "best"),
		YTDLPBin:        config.GetEnv("YTDLP_BIN", "yt-dlp"),
		FFmpegBin:       config.GetEnv("FFMPEG_BIN", "ffmpeg"),
		PublicHost:      config.GetEnv("EDGE_PUBLIC_HOST", ""),
		HLSPort:         config.GetEnv("HLS_PORT", "8080"),
		ProxyYouTube:    config.GetEnvBool("PROXY_YOUTUBE", true),
		LogDir:          config.GetEnv("LOG_DIR", "/data/logs"),
		Port:            config.GetEnv("PORT", "8000"),
		LogLevel:        config.GetEnv("LOG_LEVEL", "info"),
		LogFormat:       config.GetEnv("LOG_FORMAT", "json"),
		FetchTimeout:    config.GetEnvDuration("FETCH_TIMEOUT", 10*time.Second),
		ResolveTimeout:  config.GetEnvDuration("RESOLVE_TIMEOUT", 30*time.Second),
		StopGrace:       config.GetEnvDuration("STOP_GRACE", 5*time.Second),
		SyncRateLimit:   config.GetEnvFloat("SYNC_RATE_LIMIT", 1),
	}
}
