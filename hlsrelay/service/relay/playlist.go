package relay

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"
)

// PlaylistContentType is the canonical media type rewritten playlists are
// served with, regardless of what the upstream labeled them.
const PlaylistContentType = "application/vnd.apple.mpegurl"

const playlistMagic = "#EXTM3U"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Tags whose URI="..." attribute points at a fetchable resource (keys, init
// segments, alternate renditions). Those fetches must route through the
// relay too or the player hits the upstream without the session headers.
var uriAttrTags = []string{
	"#EXT-X-KEY",
	"#EXT-X-MAP",
	"#EXT-X-MEDIA",
	"#EXT-X-I-FRAME-STREAM-INF",
}

var uriAttrRe = regexp.MustCompile(`URI="([^"]*)"`)

// isPlaylist reports whether a response looks like an HLS playlist. Either
// signal suffices: a mpegurl content type, or a body that starts with the
// #EXTM3U magic after an optional BOM and leading whitespace.
func isPlaylist(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "mpegurl") {
		return true
	}
	head := bytes.TrimPrefix(body, utf8BOM)
	head = bytes.TrimLeft(head, " \t\r\n")
	return bytes.HasPrefix(head, []byte(playlistMagic))
}

// rewritePlaylist rewrites every URI in the playlist to a proxy URL bound to
// the same session, resolving relative references against the playlist's own
// URL. Line order and count are preserved; output uses \n endings.
func (r *Relay) rewritePlaylist(body []byte, base *url.URL, sess *Session) []byte {
	lines := strings.Split(string(body), "\n")
	for i, line := range lines {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			lines[i] = line
		case strings.HasPrefix(trimmed, "#"):
			lines[i] = r.rewriteTagURI(line, base, sess)
		default:
			lines[i] = r.resolveProxyRef(trimmed, base, sess)
		}
	}
	return []byte(strings.Join(lines, "\n"))
}

// rewriteTagURI rewrites the URI="..." attribute on tags known to carry one.
// Other tag lines pass through untouched.
func (r *Relay) rewriteTagURI(line string, base *url.URL, sess *Session) string {
	trimmed := strings.TrimSpace(line)
	tagged := false
	for _, tag := range uriAttrTags {
		if strings.HasPrefix(trimmed, tag+":") {
			tagged = true
			break
		}
	}
	if !tagged {
		return line
	}
	return uriAttrRe.ReplaceAllStringFunc(line, func(match string) string {
		ref := match[len(`URI="`) : len(match)-1]
		return `URI="` + r.resolveProxyRef(ref, base, sess) + `"`
	})
}

// resolveProxyRef resolves ref against base and returns a proxy URL for the
// absolute result. References that fail to parse or resolve to a non-http(s)
// scheme (data: keys, for one) come back unchanged.
func (r *Relay) resolveProxyRef(ref string, base *url.URL, sess *Session) string {
	if ref == "" {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	abs := base.ResolveReference(u)
	if !ValidTarget(abs.String()) {
		return ref
	}
	return r.proxyTargetURL(sess.ID, abs.String())
}
