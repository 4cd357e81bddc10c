package dlnamodule

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"

	"github.com/dhowden/tag"

	"github.com/castserve/castserve/internal/media"
	"github.com/castserve/castserve/internal/modules/playbackmodule"
)

// DIDL-Lite object model, trimmed to what renderers read back.

type didlResource struct {
	XMLName      xml.Name `xml:"res"`
	ProtocolInfo string   `xml:"protocolInfo,attr"`
	Duration     string   `xml:"duration,attr,omitempty"`
	Size         int64    `xml:"size,attr,omitempty"`
	Bitrate      int      `xml:"bitrate,attr,omitempty"`
	URL          string   `xml:",chardata"`
}

type didlItem struct {
	XMLName    xml.Name `xml:"item"`
	ID         string   `xml:"id,attr"`
	ParentID   string   `xml:"parentID,attr"`
	Restricted int      `xml:"restricted,attr"`
	Title      string   `xml:"dc:title"`
	Creator    string   `xml:"dc:creator,omitempty"`
	Class      string   `xml:"upnp:class"`
	Artist      string   `xml:"upnp:artist,omitempty"`
	Album       string   `xml:"upnp:album,omitempty"`
	Genre       string   `xml:"upnp:genre,omitempty"`
	AlbumArtURI string   `xml:"upnp:albumArtURI,omitempty"`
	Res         []didlResource
}

type didlLite struct {
	XMLName xml.Name `xml:"DIDL-Lite"`
	DC      string   `xml:"xmlns:dc,attr"`
	UPNP    string   `xml:"xmlns:upnp,attr"`
	XMLNS   string   `xml:"xmlns,attr"`
	Items   []didlItem
}

const (
	classVideoItem = "object.item.videoItem"
	classAudioItem = "object.item.musicTrack"
)

// BuildItemMetadata renders the DIDL-Lite document announcing one decided
// stream to a renderer. Audio files contribute their embedded tags when the
// source is readable locally; artworkURL, when set, is announced as the
// item's album art.
func BuildItemMetadata(item *media.Item, decision *playbackmodule.StreamDecision, streamURL, artworkURL string) (string, error) {
	di := didlItem{
		ID:          item.ID,
		ParentID:    "0",
		Restricted:  1,
		Title:       item.Name,
		Class:       classVideoItem,
		AlbumArtURI: artworkURL,
	}

	if item.Kind == media.KindAudio {
		di.Class = classAudioItem
		if decision.Source != nil && decision.Source.Protocol == media.ProtocolFile {
			applyAudioTags(&di, decision.Source.Path)
		}
	}

	res := didlResource{
		ProtocolInfo: protocolInfo(item.Kind, decision),
		URL:          streamURL,
	}
	if decision.RunTimeTicks > 0 {
		res.Duration = formatResDuration(decision.RunTimeTicks)
	}
	if decision.Source != nil && decision.IsDirectStream {
		res.Size = decision.Source.Size
		res.Bitrate = decision.Source.Bitrate / 8
	}
	di.Res = append(di.Res, res)

	doc := didlLite{
		DC:    "http://purl.org/dc/elements/1.1/",
		UPNP:  "urn:schemas-upnp-org:metadata-1-0/upnp/",
		XMLNS: "urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/",
		Items: []didlItem{di},
	}

	out, err := xml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal DIDL metadata: %w", err)
	}
	return string(out), nil
}

// applyAudioTags enriches an audio item from its embedded tags. Failures
// are silent: a renderer works fine with the filename title.
func applyAudioTags(di *didlItem, path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return
	}
	if t := strings.TrimSpace(m.Title()); t != "" {
		di.Title = t
	}
	if a := strings.TrimSpace(m.Artist()); a != "" {
		di.Artist = a
		di.Creator = a
	}
	if al := strings.TrimSpace(m.Album()); al != "" {
		di.Album = al
	}
	if g := strings.TrimSpace(m.Genre()); g != "" {
		di.Genre = g
	}
}

// protocolInfo builds the res protocolInfo quadruple for the decided output
// format.
func protocolInfo(kind media.Kind, decision *playbackmodule.StreamDecision) string {
	return fmt.Sprintf("http-get:*:%s:*", mimeForContainer(kind, decision.Container))
}

func mimeForContainer(kind media.Kind, container string) string {
	c := strings.ToLower(container)
	if kind == media.KindAudio {
		switch c {
		case "mp3":
			return "audio/mpeg"
		case "flac":
			return "audio/flac"
		case "ogg":
			return "audio/ogg"
		case "wav":
			return "audio/wav"
		case "m4a", "aac", "mp4":
			return "audio/mp4"
		default:
			return "audio/" + c
		}
	}
	switch c {
	case "mp4", "m4v":
		return "video/mp4"
	case "mkv":
		return "video/x-matroska"
	case "webm":
		return "video/webm"
	case "avi":
		return "video/x-msvideo"
	case "ts", "m2ts":
		return "video/mpeg"
	default:
		return "video/" + c
	}
}

// formatResDuration renders ticks as the H:MM:SS.mmm form DIDL res
// attributes use.
func formatResDuration(ticks int64) string {
	totalMillis := ticks / (media.TicksPerSecond / 1000)
	hours := totalMillis / 3_600_000
	minutes := (totalMillis % 3_600_000) / 60_000
	seconds := (totalMillis % 60_000) / 1000
	millis := totalMillis % 1000
	return fmt.Sprintf("%d:%02d:%02d.%03d", hours, minutes, seconds, millis)
}
