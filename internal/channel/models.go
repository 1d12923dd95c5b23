package channel

import "strings"

// Kind determines how a channel is played back and whether it needs a local worker.
type Kind string

const (
	KindHLS           Kind = "hls"
	KindYouTube       Kind = "youtube"
	KindYouTubeLinear Kind = "youtube_linear"
)

// IsBypass reports whether playback locators of this kind are handed to
// clients directly instead of being transcoded by a local worker.
func (k Kind) IsBypass() bool {
	return k == KindYouTube || k == KindYouTubeLinear
}

// Item is one entry of a youtube_linear rotation.
type Item struct {
	Locator  string `json:"url"`
	Duration int    `json:"duration"`
}

// Spec is the desired configuration for one logical channel.
type Spec struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Kind          Kind   `json:"kind"`
	SourceLocator string `json:"source_url"`
	PlaybackURL   string `json:"playback_url,omitempty"`
	Enabled       bool   `json:"enabled"`
	Items         []Item `json:"items,omitempty"`
	ScheduleStart string `json:"schedule_start,omitempty"`
}

// BypassLocator returns the locator handed to clients for pass-through playback:
// the source, then the playback URL, then the first item.
func (s Spec) BypassLocator() string {
	if u := strings.TrimSpace(s.SourceLocator); u != "" {
		return u
	}
	if u := strings.TrimSpace(s.PlaybackURL); u != "" {
		return u
	}
	if len(s.Items) > 0 {
		return strings.TrimSpace(s.Items[0].Locator)
	}
	return ""
}

// Snapshot is one complete desired state keyed by channel id.
// A Snapshot is never mutated after construction; replace it instead.
type Snapshot struct {
	channels map[string]Spec
	order    []string
}

// NewSnapshot builds a Snapshot from specs in order. A repeated id replaces the
// earlier spec but keeps the earlier position.
func NewSnapshot(specs ...Spec) *Snapshot {
	s := &Snapshot{channels: make(map[string]Spec, len(specs))}
	for _, spec := range specs {
		if _, exists := s.channels[spec.ID]; !exists {
			s.order = append(s.order, spec.ID)
		}
		s.channels[spec.ID] = spec
	}
	return s
}

// Get returns the spec for id.
func (s *Snapshot) Get(id string) (Spec, bool) {
	if s == nil {
		return Spec{}, false
	}
	spec, ok := s.channels[id]
	return spec, ok
}

// Len returns the number of channels.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// IDs returns the channel ids in payload order.
func (s *Snapshot) IDs() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Specs returns the channel specs in payload order.
func (s *Snapshot) Specs() []Spec {
	if s == nil {
		return nil
	}
	out := make([]Spec, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.channels[id])
	}
	return out
}

var youtubeHostSnippets = []string{
	"youtube.com",
	"youtu.be",
	"youtube-nocookie.com",
}

// IsYouTube reports whether locator points at a YouTube host.
func IsYouTube(locator string) bool {
	if locator == "" {
		return false
	}
	u := strings.ToLower(locator)
	for _, h := range youtubeHostSnippets {
		if strings.Contains(u, h) {
			return true
		}
	}
	return false
}
