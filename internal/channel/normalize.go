package channel

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// payload is the control-plane response body: providers, each with a list of
// loosely-typed channel descriptors.
type payload struct {
	Providers []struct {
		Channels []map[string]any `json:"channels"`
	} `json:"providers"`
}

// ParsePayload decodes a control-plane response into a Snapshot. Descriptors
// that cannot be normalized are skipped; a repeated id replaces the earlier one.
func ParsePayload(r io.Reader) (*Snapshot, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var p payload
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode channels payload: %w", err)
	}

	specs := make([]Spec, 0)
	for _, prov := range p.Providers {
		for _, desc := range prov.Channels {
			if spec, ok := NormalizeDescriptor(desc); ok {
				specs = append(specs, spec)
			}
		}
	}
	return NewSnapshot(specs...), nil
}

// NormalizeDescriptor converts one raw channel descriptor into a Spec.
// ok is false when the descriptor has no id, or has no source and is not a
// youtube_linear channel.
func NormalizeDescriptor(desc map[string]any) (spec Spec, ok bool) {
	id := firstString(desc, "channel_id", "channel_number", "id")
	if id == "" {
		return Spec{}, false
	}

	rawKind := strings.ToLower(stringValue(desc["kind"]))
	items := parseItems(desc["items"])

	source := firstString(desc, "playback_url", "source_url")
	if source == "" && Kind(rawKind) == KindYouTubeLinear && len(items) > 0 {
		source = items[0].Locator
	}
	if source == "" && Kind(rawKind) != KindYouTubeLinear {
		return Spec{}, false
	}

	kind := Kind(rawKind)
	if kind == "" {
		kind = KindHLS
		if IsYouTube(source) {
			kind = KindYouTube
		}
	}

	name := stringValue(desc["name"])
	if name == "" {
		name = id
	}

	playback := stringValue(desc["playback_url"])
	if playback == "" {
		playback = source
	}

	raw, present := desc["is_active"]
	return Spec{
		ID:            id,
		Name:          name,
		Kind:          kind,
		SourceLocator: source,
		PlaybackURL:   playback,
		Enabled:       !present || truthy(raw),
		Items:         items,
		ScheduleStart: scheduleStart(desc),
	}, true
}

func scheduleStart(desc map[string]any) string {
	if s := firstString(desc, "schedule_start", "scheduleStart"); s != "" {
		return s
	}
	if sched, ok := desc["schedule"].(map[string]any); ok {
		return stringValue(sched["start"])
	}
	return ""
}

func parseItems(v any) []Item {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	items := make([]Item, 0, len(list))
	for _, raw := range list {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		items = append(items, Item{
			Locator:  stringValue(m["url"]),
			Duration: intValue(m["duration"]),
		})
	}
	return items
}

func firstString(desc map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringValue(desc[k]); s != "" {
			return s
		}
	}
	return ""
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func intValue(v any) int {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n)
		}
		if f, err := t.Float64(); err == nil {
			return int(f)
		}
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f)
		}
	case float64:
		return int(t)
	case int:
		return t
	}
	return 0
}

// truthy interprets an is_active value. Numbers and digit strings are active
// when non-zero; null and empty strings are inactive.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case float64:
		return t != 0
	case int:
		return t != 0
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		if s == "" {
			return false
		}
		if n, err := strconv.Atoi(s); err == nil {
			return n != 0
		}
		switch s {
		case "false", "no", "off":
			return false
		}
		return true
	}
	return true
}
