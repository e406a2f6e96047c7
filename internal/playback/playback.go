// Package playback builds the URLs handed to an external video player.
package playback

import (
	"fmt"
	"net/url"
	"strings"
)

const defaultPort = "80"

// StreamURL returns the HLS URL for a live stream. serverURL is the
// load-balanced address reported by the panel and wins over host when set.
func StreamURL(serverURL, host, username, password, streamID string) string {
	base := serverURL
	if base == "" {
		base = host
	}
	return fmt.Sprintf("http://%s/live/%s/%s/%s.m3u8",
		hostWithPort(base),
		url.PathEscape(username),
		url.PathEscape(password),
		url.PathEscape(streamID),
	)
}

// IntentURI wraps a stream URL in an Android VIEW intent.
func IntentURI(streamURL string) string {
	return "intent:" + streamURL + "#Intent;action=android.intent.action.VIEW;type=video/*;end"
}

func hostWithPort(raw string) string {
	h := strings.TrimSpace(raw)
	if i := strings.Index(h, "://"); i >= 0 {
		h = h[i+3:]
	}
	if i := strings.IndexByte(h, '/'); i >= 0 {
		h = h[:i]
	}
	if !strings.Contains(h, ":") {
		h += ":" + defaultPort
	}
	return h
}
