package dlnamodule

import (
	"encoding/xml"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castserve/castserve/internal/media"
	"github.com/castserve/castserve/internal/modules/playbackmodule"
)

func didlTestItem() *media.Item {
	return &media.Item{ID: "item-1", Name: "Big Buck Bunny", Kind: media.KindVideo}
}

func didlTestDecision() *playbackmodule.StreamDecision {
	return &playbackmodule.StreamDecision{
		ItemID:         "item-1",
		Kind:           media.KindVideo,
		IsDirectStream: true,
		Container:      "mp4",
		RunTimeTicks:   (9*60 + 56) * media.TicksPerSecond,
		Source: &media.SourceDescriptor{
			ID:        "src-1",
			Protocol:  media.ProtocolFile,
			Container: "mp4",
			Size:      276_134_947,
			Bitrate:   3_700_000,
		},
	}
}

func TestBuildItemMetadataVideo(t *testing.T) {
	out, err := BuildItemMetadata(didlTestItem(), didlTestDecision(),
		"http://server/videos/item-1/stream.mp4?Params=x", "")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "<DIDL-Lite"))
	assert.Contains(t, out, `xmlns:dc="http://purl.org/dc/elements/1.1/"`)
	assert.Contains(t, out, "<dc:title>Big Buck Bunny</dc:title>")
	assert.Contains(t, out, "<upnp:class>object.item.videoItem</upnp:class>")
	assert.Contains(t, out, `protocolInfo="http-get:*:video/mp4:*"`)
	assert.Contains(t, out, `duration="0:09:56.000"`)
	assert.Contains(t, out, "http://server/videos/item-1/stream.mp4?Params=x")

	// Must stay well-formed XML.
	var doc struct{}
	assert.NoError(t, xml.Unmarshal([]byte(out), &doc))
}

func TestBuildItemMetadataAudioClass(t *testing.T) {
	item := &media.Item{ID: "song-1", Name: "Track One", Kind: media.KindAudio}
	d := &playbackmodule.StreamDecision{
		ItemID:         "song-1",
		Kind:           media.KindAudio,
		IsDirectStream: true,
		Container:      "flac",
		Source: &media.SourceDescriptor{
			ID:        "src-1",
			Protocol:  media.ProtocolFile,
			Path:      "/no/such/file.flac",
			Container: "flac",
		},
	}

	// Tag reading fails silently on a missing file; the item still
	// renders with its library name.
	out, err := BuildItemMetadata(item, d, "http://server/audio/song-1/stream.flac", "")
	require.NoError(t, err)
	assert.Contains(t, out, "<upnp:class>object.item.musicTrack</upnp:class>")
	assert.Contains(t, out, "<dc:title>Track One</dc:title>")
	assert.Contains(t, out, `protocolInfo="http-get:*:audio/flac:*"`)
}

func TestBuildItemMetadataEscapesTitle(t *testing.T) {
	item := &media.Item{ID: "item-2", Name: `Tom & Jerry <Vol. 1>`, Kind: media.KindVideo}
	d := didlTestDecision()

	out, err := BuildItemMetadata(item, d, "http://server/videos/item-2/stream.mp4", "")
	require.NoError(t, err)
	assert.Contains(t, out, "Tom &amp; Jerry &lt;Vol. 1&gt;")
}

func TestBuildItemMetadataTranscodeOmitsSize(t *testing.T) {
	d := didlTestDecision()
	d.IsDirectStream = false
	d.Container = "ts"

	out, err := BuildItemMetadata(didlTestItem(), d, "http://server/videos/item-1/stream.m3u8", "")
	require.NoError(t, err)
	// A transcoded stream has no known byte size.
	assert.NotContains(t, out, "276134947")
	assert.Contains(t, out, `protocolInfo="http-get:*:video/mpeg:*"`)
}

func TestBuildItemMetadataAlbumArt(t *testing.T) {
	art := "http://server/api/media/items/item-1/image?tag=abc123"
	out, err := BuildItemMetadata(didlTestItem(), didlTestDecision(),
		"http://server/videos/item-1/stream.mp4", art)
	require.NoError(t, err)
	assert.Contains(t, out, "<upnp:albumArtURI>"+art+"</upnp:albumArtURI>")

	// No artwork, no element.
	out, err = BuildItemMetadata(didlTestItem(), didlTestDecision(),
		"http://server/videos/item-1/stream.mp4", "")
	require.NoError(t, err)
	assert.NotContains(t, out, "albumArtURI")
}

func TestArtworkURL(t *testing.T) {
	item := &media.Item{ID: "item-1", Name: "Movie", Kind: media.KindVideo, PrimaryImageTag: "abc 123"}
	assert.Equal(t,
		"http://server/api/media/items/item-1/image?tag=abc+123",
		artworkURL("http://server", item))

	item.PrimaryImageTag = ""
	assert.Empty(t, artworkURL("http://server", item))
}

func TestMimeForContainer(t *testing.T) {
	assert.Equal(t, "video/mp4", mimeForContainer(media.KindVideo, "MP4"))
	assert.Equal(t, "video/x-matroska", mimeForContainer(media.KindVideo, "mkv"))
	assert.Equal(t, "audio/mpeg", mimeForContainer(media.KindAudio, "mp3"))
	assert.Equal(t, "audio/mp4", mimeForContainer(media.KindAudio, "m4a"))
	assert.Equal(t, "video/unknown", mimeForContainer(media.KindVideo, "unknown"))
}

func TestFormatResDuration(t *testing.T) {
	assert.Equal(t, "0:00:00.000", formatResDuration(0))
	assert.Equal(t, "0:09:56.000", formatResDuration((9*60+56)*media.TicksPerSecond))
	assert.Equal(t, "1:00:00.500", formatResDuration(3600*media.TicksPerSecond+media.TicksPerSecond/2))
}
