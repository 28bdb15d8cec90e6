package relay

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPlaylist(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		contentType string
		body        string
		want        bool
	}{
		{"canonical_type", "application/vnd.apple.mpegurl", "anything", true},
		{"x_mpegurl", "audio/x-mpegurl; charset=utf-8", "anything", true},
		{"type_case", "Application/VND.Apple.MPEGURL", "anything", true},
		{"magic_body", "application/octet-stream", "#EXTM3U\n#EXTINF:6,\nseg.ts", true},
		{"magic_after_bom", "text/plain", "\xef\xbb\xbf#EXTM3U\n", true},
		{"magic_after_whitespace", "text/plain", "\n  #EXTM3U\n", true},
		{"segment_bytes", "video/mp2t", "\x47\x40\x11\x10", false},
		{"html", "text/html", "<html><body>#EXTM3U</body></html>", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isPlaylist(tt.contentType, []byte(tt.body)))
		})
	}
}

func newRewriteFixture(t *testing.T) (*Relay, *Session, *url.URL) {
	t.Helper()

	r := New(Config{})
	r.port = 4455
	sess := r.store.Create("https://cdn.example.com/live/stream.m3u8", nil)
	base, err := url.Parse("https://cdn.example.com/live/stream.m3u8")
	require.NoError(t, err)
	return r, sess, base
}

func TestRewritePlaylist_MediaPlaylist(t *testing.T) {
	t.Parallel()

	r, sess, base := newRewriteFixture(t)

	body := "#EXTM3U\n" +
		"#EXT-X-VERSION:3\n" +
		"#EXT-X-TARGETDURATION:6\n" +
		"\n" +
		"#EXTINF:6.000,\n" +
		"seg0.ts\n" +
		"#EXTINF:6.000,\n" +
		"https://other.example.com/seg1.ts\n" +
		"#EXT-X-ENDLIST\n"

	out := string(r.rewritePlaylist([]byte(body), base, sess))
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 10, "line count must be preserved")

	assert.Equal(t, "#EXTM3U", lines[0])
	assert.Equal(t, "#EXT-X-VERSION:3", lines[1])
	assert.Equal(t, "", lines[3])
	assert.Equal(t, "#EXT-X-ENDLIST", lines[8])

	assert.Equal(t, r.proxyTargetURL(sess.ID, "https://cdn.example.com/live/seg0.ts"), lines[5])
	assert.Equal(t, r.proxyTargetURL(sess.ID, "https://other.example.com/seg1.ts"), lines[7])

	// The url parameter of a rewritten line decodes back to the resolved
	// upstream URL.
	rewritten, err := url.Parse(lines[5])
	require.NoError(t, err)
	target, ok := DecodeTarget(rewritten.Query().Get("url"))
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/live/seg0.ts", target)
	assert.Equal(t, r.Secret(), rewritten.Query().Get("token"))
	assert.Equal(t, "/proxy/"+sess.ID, rewritten.Path)
}

func TestRewritePlaylist_MasterPlaylist(t *testing.T) {
	t.Parallel()

	r, sess, base := newRewriteFixture(t)

	// CRLF input normalizes to LF output.
	body := "#EXTM3U\r\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=1280x720\r\n" +
		"chunks/hd.m3u8\r\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=300000\r\n" +
		"../low/index.m3u8\r\n"

	out := string(r.rewritePlaylist([]byte(body), base, sess))
	assert.NotContains(t, out, "\r")

	lines := strings.Split(out, "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, r.proxyTargetURL(sess.ID, "https://cdn.example.com/live/chunks/hd.m3u8"), lines[2])
	assert.Equal(t, r.proxyTargetURL(sess.ID, "https://cdn.example.com/low/index.m3u8"), lines[4])
}

func TestRewritePlaylist_TagURIs(t *testing.T) {
	t.Parallel()

	r, sess, base := newRewriteFixture(t)

	body := "#EXTM3U\n" +
		`#EXT-X-KEY:METHOD=AES-128,URI="keys/k1.bin",IV=0x9c7655` + "\n" +
		`#EXT-X-MAP:URI="init.mp4",BYTERANGE="720@0"` + "\n" +
		`#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",URI="https://other.example.com/audio.m3u8"` + "\n" +
		`#EXT-X-I-FRAME-STREAM-INF:BANDWIDTH=100000,URI="iframe.m3u8"` + "\n" +
		"#EXTINF:6.0,\n" +
		"seg0.ts\n"

	out := string(r.rewritePlaylist([]byte(body), base, sess))
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 8)

	keyURL := r.proxyTargetURL(sess.ID, "https://cdn.example.com/live/keys/k1.bin")
	assert.Equal(t, `#EXT-X-KEY:METHOD=AES-128,URI="`+keyURL+`",IV=0x9c7655`, lines[1])

	mapURL := r.proxyTargetURL(sess.ID, "https://cdn.example.com/live/init.mp4")
	assert.Equal(t, `#EXT-X-MAP:URI="`+mapURL+`",BYTERANGE="720@0"`, lines[2])

	assert.Contains(t, lines[3], `URI="`+r.proxyTargetURL(sess.ID, "https://other.example.com/audio.m3u8")+`"`)
	assert.Contains(t, lines[4], `URI="`+r.proxyTargetURL(sess.ID, "https://cdn.example.com/live/iframe.m3u8")+`"`)
}

func TestRewritePlaylist_Passthrough(t *testing.T) {
	t.Parallel()

	r, sess, base := newRewriteFixture(t)

	tests := []struct {
		name string
		line string
	}{
		{"data_key", `#EXT-X-KEY:METHOD=AES-128,URI="data:text/plain;base64,AAAA"`},
		{"untracked_tag", `#EXT-X-SESSION-DATA:DATA-ID="com.example.title",URI="meta.json"`},
		{"unparseable_uri", "http://[bad/seg.ts"},
		{"comment", "# just a comment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := string(r.rewritePlaylist([]byte("#EXTM3U\n"+tt.line+"\n"), base, sess))
			assert.Equal(t, "#EXTM3U\n"+tt.line+"\n", out)
		})
	}
}
