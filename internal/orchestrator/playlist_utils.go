package orchestrator

import (
	"fmt"
	"strings"
)

// BuildM3UPlaylist renders entries as an extended M3U channel list. Each entry
// gets an #EXTINF line with unknown duration followed by its URL. Entries
// without a URL are left out.
func BuildM3UPlaylist(entries []PlaylistEntry) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	for _, e := range entries {
		if e.URL == "" {
			continue
		}
		b.WriteString(fmt.Sprintf("#EXTINF:-1,%s\n", playlistTitle(e.Name)))
		b.WriteString(e.URL)
		b.WriteString("\n")
	}

	return b.String()
}

// playlistTitle keeps a channel name on a single line.
func playlistTitle(name string) string {
	name = strings.NewReplacer("\r", " ", "\n", " ").Replace(name)
	return strings.TrimSpace(name)
}
