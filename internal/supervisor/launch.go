package supervisor

import (
	"strings"
)

// LaunchSpec is everything needed to spawn one worker process.
type LaunchSpec struct {
	ChannelID  string
	Binary     string
	Args       []string
	Input      string
	PublishURL string
}

// WorkerConfig holds the fixed parts of every worker launch.
type WorkerConfig struct {
	Binary      string
	PublishBase string
	EdgeID      string
}

// requestHeaders are sent to the source so origins that gate on browser
// headers still serve the stream.
const requestHeaders = "User-Agent: Mozilla/5.0\r\n" +
	"Referer: https://google.com\r\n" +
	"Origin: https://google.com\r\n" +
	"Accept: */*\r\n"

// PublishURL returns the publish target for channelID, namespaced by edge so
// the media server exposes /hls/{edge}/{channel}/index.m3u8.
func (c WorkerConfig) PublishURL(channelID string) string {
	return strings.TrimRight(c.PublishBase, "/") + "/" + c.EdgeID + "/" + channelID
}

// BuildLaunchSpec returns the ffmpeg invocation that pulls input and publishes
// an H.264/AAC FLV stream for channelID.
func BuildLaunchSpec(cfg WorkerConfig, channelID, input string) LaunchSpec {
	binary := cfg.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	publish := cfg.PublishURL(channelID)

	args := []string{
		"-hide_banner",
		"-loglevel", "info",

		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "10",

		"-headers", requestHeaders,

		"-i", input,

		"-map", "0:v:0",
		"-map", "0:a:0?",

		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-profile:v", "baseline",
		"-preset", "veryfast",
		"-g", "60",
		"-keyint_min", "60",
		"-sc_threshold", "0",
		"-bf", "0",

		"-c:a", "aac",
		"-ar", "44100",
		"-ac", "2",

		"-f", "flv",
		publish,
	}

	return LaunchSpec{
		ChannelID:  channelID,
		Binary:     binary,
		Args:       args,
		Input:      input,
		PublishURL: publish,
	}
}
