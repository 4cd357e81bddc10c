// Package media defines the media source and stream types shared by the
// playback decision engine and the remote playback controller.
package media

import (
	"strings"
)

// TicksPerSecond is the resolution of all position and duration values.
// One tick is 100 nanoseconds, matching the wire contract used by clients.
const TicksPerSecond = int64(10_000_000)

// Kind identifies the playable media category. It is a closed set; code that
// branches on Kind should switch over all three values.
type Kind string

const (
	KindAudio Kind = "Audio"
	KindVideo Kind = "Video"
	KindPhoto Kind = "Photo"
)

// ParseKind normalizes a media kind string. Unknown values map to KindVideo,
// which is the safest default for decision purposes.
func ParseKind(s string) Kind {
	switch strings.ToLower(s) {
	case "audio":
		return KindAudio
	case "photo":
		return KindPhoto
	default:
		return KindVideo
	}
}

// Protocol describes how the bytes of a media source are reachable.
type Protocol string

const (
	ProtocolFile Protocol = "file"
	ProtocolHTTP Protocol = "http"
)

// StreamType identifies one elementary stream inside a container.
type StreamType string

const (
	StreamTypeVideo         StreamType = "video"
	StreamTypeAudio         StreamType = "audio"
	StreamTypeSubtitle      StreamType = "subtitle"
	StreamTypeEmbeddedImage StreamType = "embedded-image"
)

// TimestampMode describes how a transport stream carries timestamps.
type TimestampMode string

const (
	TimestampNone  TimestampMode = "none"
	TimestampValid TimestampMode = "valid"
)

// Stream is one elementary stream of a media source. Index values are unique
// per source and stable for the life of the source.
type Stream struct {
	Type  StreamType `json:"type"`
	Index int        `json:"index"`
	Codec string     `json:"codec"`

	// Video attributes
	Width            int     `json:"width,omitempty"`
	Height           int     `json:"height,omitempty"`
	BitDepth         int     `json:"bit_depth,omitempty"`
	Profile          string  `json:"profile,omitempty"`
	Level            float64 `json:"level,omitempty"`
	AverageFrameRate float64 `json:"average_frame_rate,omitempty"`
	RealFrameRate    float64 `json:"real_frame_rate,omitempty"`
	AspectRatio      string  `json:"aspect_ratio,omitempty"`
	IsAnamorphic     bool    `json:"is_anamorphic,omitempty"`
	PacketLength     int     `json:"packet_length,omitempty"`

	// Audio attributes
	Channels   int    `json:"channels,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	BitRate    int    `json:"bit_rate,omitempty"`
	Language   string `json:"language,omitempty"`
	IsDefault  bool   `json:"is_default,omitempty"`
	IsForced   bool   `json:"is_forced,omitempty"`
}

// SourceDescriptor describes one physical or logical representation of a
// library item. It is constructed by the library layer and read-only here.
type SourceDescriptor struct {
	ID           string        `json:"id"`
	Path         string        `json:"path"`
	Protocol     Protocol      `json:"protocol"`
	Container    string        `json:"container"`
	Size         int64         `json:"size,omitempty"`
	RunTimeTicks int64         `json:"run_time_ticks,omitempty"`
	Bitrate      int           `json:"bitrate,omitempty"`
	Timestamp    TimestampMode `json:"timestamp,omitempty"`
	Streams      []Stream      `json:"streams,omitempty"`
}

// CanSeek reports whether the source supports seeking. A source without
// duration information cannot be seeked into.
func (s *SourceDescriptor) CanSeek() bool {
	return s.RunTimeTicks > 0
}

// VideoStream returns the primary video stream, or nil for audio-only sources.
func (s *SourceDescriptor) VideoStream() *Stream {
	return s.firstOfType(StreamTypeVideo)
}

// DefaultStream returns the stream for the given type honoring the default
// flag, falling back to the first stream of that type.
func (s *SourceDescriptor) DefaultStream(t StreamType) *Stream {
	var first *Stream
	for i := range s.Streams {
		st := &s.Streams[i]
		if st.Type != t {
			continue
		}
		if st.IsDefault {
			return st
		}
		if first == nil {
			first = st
		}
	}
	return first
}

// StreamByIndex returns the stream with the given index and type, or nil.
func (s *SourceDescriptor) StreamByIndex(t StreamType, index int) *Stream {
	for i := range s.Streams {
		st := &s.Streams[i]
		if st.Type == t && st.Index == index {
			return st
		}
	}
	return nil
}

func (s *SourceDescriptor) firstOfType(t StreamType) *Stream {
	for i := range s.Streams {
		if s.Streams[i].Type == t {
			return &s.Streams[i]
		}
	}
	return nil
}

// Item is the minimal view of a library item the playback core needs.
// Folders expand into their leaf media before playback.
type Item struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	IsFolder bool   `json:"is_folder"`

	// Artwork cache tag, used only when composing device-facing metadata.
	PrimaryImageTag string `json:"primary_image_tag,omitempty"`
}
