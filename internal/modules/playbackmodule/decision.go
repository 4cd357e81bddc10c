package playbackmodule

import (
	"math"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/castserve/castserve/internal/media"
)

// BuildOptions are the caller-supplied constraints for one playback request.
// Index pointers distinguish "not requested" from index zero.
type BuildOptions struct {
	ItemID   string
	Kind     media.Kind
	Sources  []*media.SourceDescriptor
	Profile  *CapabilityProfile
	DeviceID string

	MediaSourceID      string
	StartPositionTicks int64

	MaxBitrate       int
	MaxWidth         int
	MaxHeight        int
	MaxAudioChannels int
	MaxFramerate     float64

	// Encoder overrides, applied only when the decision transcodes.
	VideoLevel   float64
	VideoProfile string
	PacketLength int

	AudioStreamIndex    *int
	SubtitleStreamIndex *int
}

// StreamDecision is the computed result of negotiating a source against a
// capability profile. Every Target* accessor derives its value from the
// decision fields; rebuilding from the same inputs yields identical values.
type StreamDecision struct {
	ItemID        string         `json:"item_id"`
	Kind          media.Kind     `json:"kind"`
	ProfileName   string         `json:"profile_name"`
	DeviceID      string         `json:"device_id"`
	MediaSourceID string         `json:"media_source_id"`
	Protocol      StreamProtocol `json:"protocol"`

	IsDirectStream bool   `json:"is_direct_stream"`
	Container      string `json:"container"`
	VideoCodec     string `json:"video_codec,omitempty"`
	AudioCodec     string `json:"audio_codec,omitempty"`

	AudioStreamIndex    int `json:"audio_stream_index"`    // -1 when unset
	SubtitleStreamIndex int `json:"subtitle_stream_index"` // -1 when unset

	VideoBitrate     int     `json:"video_bitrate,omitempty"` // 0 means unknown
	AudioBitrate     int     `json:"audio_bitrate,omitempty"`
	MaxAudioChannels int     `json:"max_audio_channels,omitempty"`
	MaxFramerate     float64 `json:"max_framerate,omitempty"`
	MaxWidth         int     `json:"max_width,omitempty"`
	MaxHeight        int     `json:"max_height,omitempty"`

	StartPositionTicks int64   `json:"start_position_ticks"`
	VideoLevel         float64 `json:"video_level,omitempty"`
	VideoProfile       string  `json:"video_profile,omitempty"`
	PacketLength       int     `json:"packet_length,omitempty"`

	// ForceTimestamp is the timestamp mode the matched transcoding rule
	// demands for its output container, empty when the rule has none.
	ForceTimestamp media.TimestampMode `json:"force_timestamp,omitempty"`

	EstimateContentLength bool  `json:"estimate_content_length,omitempty"`
	CanSeek               bool  `json:"can_seek"`
	RunTimeTicks          int64 `json:"run_time_ticks,omitempty"`

	// Source is the live descriptor the decision was built from. It may be
	// nil when a decision context is recovered from a URL and the source id
	// no longer resolves.
	Source *media.SourceDescriptor `json:"-"`
}

// StreamBuilder turns playback requests into stream decisions. Pure
// computation; safe for concurrent use.
type StreamBuilder struct {
	logger hclog.Logger

	// defaultMaxBitrate applies when neither the request nor the profile
	// supplies a ceiling.
	defaultMaxBitrate int
}

// NewStreamBuilder creates a stream builder.
func NewStreamBuilder(logger hclog.Logger, defaultMaxBitrate int) *StreamBuilder {
	return &StreamBuilder{
		logger:            logger,
		defaultMaxBitrate: defaultMaxBitrate,
	}
}

// BuildDecision selects a media source and decides direct-stream versus
// transcode against the capability profile. Deterministic: identical inputs
// always produce an identical decision.
func (b *StreamBuilder) BuildDecision(opts BuildOptions) (*StreamDecision, error) {
	src, err := selectSource(opts.Sources, opts.MediaSourceID)
	if err != nil {
		return nil, err
	}

	profile := opts.Profile
	if profile == nil {
		profile = DefaultProfile()
	}

	audioStream, err := pickStream(src, media.StreamTypeAudio, opts.AudioStreamIndex)
	if err != nil {
		return nil, err
	}
	subtitleStream, err := pickRequestedStream(src, media.StreamTypeSubtitle, opts.SubtitleStreamIndex)
	if err != nil {
		return nil, err
	}

	videoStream := src.VideoStream()

	d := &StreamDecision{
		ItemID:              opts.ItemID,
		Kind:                opts.Kind,
		ProfileName:         profile.Name,
		DeviceID:            opts.DeviceID,
		MediaSourceID:       src.ID,
		Protocol:            StreamProtocolHTTP,
		AudioStreamIndex:    streamIndexOrUnset(audioStream),
		SubtitleStreamIndex: streamIndexOrUnset(subtitleStream),
		MaxAudioChannels:    opts.MaxAudioChannels,
		MaxFramerate:        opts.MaxFramerate,
		MaxWidth:            opts.MaxWidth,
		MaxHeight:           opts.MaxHeight,
		StartPositionTicks:  opts.StartPositionTicks,
		VideoLevel:          opts.VideoLevel,
		VideoProfile:        opts.VideoProfile,
		PacketLength:        opts.PacketLength,
		CanSeek:             src.CanSeek(),
		RunTimeTicks:        src.RunTimeTicks,
		Source:              src,
	}

	ceiling := bitrateCeiling(opts.MaxBitrate, profile.MaxStreamingBitrate)

	if b.directStreamAllowed(opts.Kind, src, profile, videoStream, audioStream, ceiling) {
		d.IsDirectStream = true
		d.Container = strings.ToLower(src.Container)
		if videoStream != nil {
			d.VideoCodec = strings.ToLower(videoStream.Codec)
		}
		if audioStream != nil {
			d.AudioCodec = strings.ToLower(audioStream.Codec)
		}
		d.VideoBitrate = normalizeBitrate(sourceBitrate(src, videoStream))
		if audioStream != nil {
			d.AudioBitrate = normalizeBitrate(audioStream.BitRate)
		}
		return d, nil
	}

	rule := profile.TranscodingRuleFor(opts.Kind)
	if rule == nil {
		return nil, ErrNoEligibleSource
	}

	d.IsDirectStream = false
	d.Container = strings.ToLower(rule.Container)
	d.VideoCodec = strings.ToLower(rule.VideoCodec)
	d.AudioCodec = strings.ToLower(rule.AudioCodec)
	if rule.Protocol != "" {
		d.Protocol = rule.Protocol
	}
	d.EstimateContentLength = rule.EstimateContentLength
	d.ForceTimestamp = rule.ForceTimestamp

	if ceiling > 0 {
		d.VideoBitrate = ceiling
	} else {
		d.VideoBitrate = normalizeBitrate(sourceBitrate(src, videoStream))
		if d.VideoBitrate == 0 {
			d.VideoBitrate = b.defaultMaxBitrate
		}
	}
	if audioStream != nil {
		d.AudioBitrate = normalizeBitrate(audioStream.BitRate)
	}

	return d, nil
}

// directStreamAllowed runs the two-phase eligibility check: first the
// format match against the direct-play rules, then every applies-always
// codec constraint against actual stream attributes, then the bitrate
// ceiling. Containers and codecs can match while resolution or bitrate
// still exceed what the device handles.
func (b *StreamBuilder) directStreamAllowed(kind media.Kind, src *media.SourceDescriptor, profile *CapabilityProfile, videoStream, audioStream *media.Stream, ceiling int) bool {
	videoCodec := ""
	if videoStream != nil {
		videoCodec = videoStream.Codec
	}
	audioCodec := ""
	if audioStream != nil {
		audioCodec = audioStream.Codec
	}

	if !profile.DirectPlaySupported(kind, src.Container, videoCodec, audioCodec) {
		return false
	}

	if c := profile.ViolatedConstraint(videoStream, true); c != nil {
		b.logger.Debug("direct stream downgraded by codec constraint",
			"source", src.ID, "codec", videoCodec)
		return false
	}
	if c := profile.ViolatedConstraint(audioStream, true); c != nil {
		return false
	}

	if ceiling > 0 {
		if br := sourceBitrate(src, videoStream); br > ceiling {
			return false
		}
	}
	return true
}

// TargetWidth returns the output width: the source width when direct
// streaming, otherwise the source resolution resized proportionally into the
// requested bounds. When the source resolution is unknown the requested
// bound passes through.
func (d *StreamDecision) TargetWidth() int {
	w, _ := d.targetResolution()
	return w
}

// TargetHeight returns the output height. See TargetWidth.
func (d *StreamDecision) TargetHeight() int {
	_, h := d.targetResolution()
	return h
}

func (d *StreamDecision) targetResolution() (int, int) {
	vs := d.videoStream()
	if d.IsDirectStream {
		if vs == nil {
			return 0, 0
		}
		return vs.Width, vs.Height
	}
	if vs == nil || vs.Width <= 0 || vs.Height <= 0 {
		return d.MaxWidth, d.MaxHeight
	}
	return scaleToFit(vs.Width, vs.Height, d.MaxWidth, d.MaxHeight)
}

// TargetAudioChannels returns the output channel count: source channels when
// direct streaming, otherwise the requested maximum clamped to the source.
func (d *StreamDecision) TargetAudioChannels() int {
	as := d.audioStream()
	if d.IsDirectStream {
		if as == nil {
			return 0
		}
		return as.Channels
	}
	if as == nil || as.Channels <= 0 {
		return d.MaxAudioChannels
	}
	if d.MaxAudioChannels > 0 && d.MaxAudioChannels < as.Channels {
		return d.MaxAudioChannels
	}
	return as.Channels
}

// TargetFramerate returns the source framerate when direct streaming and the
// requested override when transcoding.
func (d *StreamDecision) TargetFramerate() float64 {
	if d.IsDirectStream {
		if vs := d.videoStream(); vs != nil {
			if vs.AverageFrameRate > 0 {
				return vs.AverageFrameRate
			}
			return vs.RealFrameRate
		}
		return 0
	}
	return d.MaxFramerate
}

// TargetVideoLevel returns the source level when direct streaming and the
// requested override when transcoding.
func (d *StreamDecision) TargetVideoLevel() float64 {
	if d.IsDirectStream {
		if vs := d.videoStream(); vs != nil {
			return vs.Level
		}
		return 0
	}
	return d.VideoLevel
}

// TargetVideoProfile returns the source profile when direct streaming and
// the requested override when transcoding.
func (d *StreamDecision) TargetVideoProfile() string {
	if d.IsDirectStream {
		if vs := d.videoStream(); vs != nil {
			return vs.Profile
		}
		return ""
	}
	return d.VideoProfile
}

// TargetPacketLength returns the source packet length when direct streaming
// and the requested override when transcoding.
func (d *StreamDecision) TargetPacketLength() int {
	if d.IsDirectStream {
		if vs := d.videoStream(); vs != nil {
			return vs.PacketLength
		}
		return 0
	}
	return d.PacketLength
}

// TargetTimestamp returns the timestamp mode of the output container:
// m2ts defaults to valid timestamps, everything else to none. A
// direct-streamed source's own mode and a transcoding rule's forced mode
// both take precedence over the container default.
func (d *StreamDecision) TargetTimestamp() media.TimestampMode {
	if d.IsDirectStream && d.Source != nil && d.Source.Timestamp != "" {
		return d.Source.Timestamp
	}
	if !d.IsDirectStream && d.ForceTimestamp != "" {
		return d.ForceTimestamp
	}
	if strings.EqualFold(d.Container, "m2ts") {
		return media.TimestampValid
	}
	return media.TimestampNone
}

// TargetVideoBitrate returns the decided video bitrate, zero when unknown.
func (d *StreamDecision) TargetVideoBitrate() int {
	return d.VideoBitrate
}

func (d *StreamDecision) videoStream() *media.Stream {
	if d.Source == nil {
		return nil
	}
	return d.Source.VideoStream()
}

func (d *StreamDecision) audioStream() *media.Stream {
	if d.Source == nil {
		return nil
	}
	if d.AudioStreamIndex >= 0 {
		if st := d.Source.StreamByIndex(media.StreamTypeAudio, d.AudioStreamIndex); st != nil {
			return st
		}
	}
	return d.Source.DefaultStream(media.StreamTypeAudio)
}

func selectSource(sources []*media.SourceDescriptor, sourceID string) (*media.SourceDescriptor, error) {
	if len(sources) == 0 {
		return nil, ErrNoEligibleSource
	}
	if sourceID == "" {
		return sources[0], nil
	}
	for _, s := range sources {
		if s.ID == sourceID {
			return s, nil
		}
	}
	return nil, ErrNoEligibleSource
}

// pickStream resolves the stream for a type: the requested index when given,
// otherwise the default stream of that type.
func pickStream(src *media.SourceDescriptor, t media.StreamType, requested *int) (*media.Stream, error) {
	if requested != nil {
		st := src.StreamByIndex(t, *requested)
		if st == nil {
			return nil, ErrInvalidStreamIndex
		}
		return st, nil
	}
	return src.DefaultStream(t), nil
}

// pickRequestedStream resolves a stream only when explicitly requested.
func pickRequestedStream(src *media.SourceDescriptor, t media.StreamType, requested *int) (*media.Stream, error) {
	if requested == nil {
		return nil, nil
	}
	st := src.StreamByIndex(t, *requested)
	if st == nil {
		return nil, ErrInvalidStreamIndex
	}
	return st, nil
}

func streamIndexOrUnset(st *media.Stream) int {
	if st == nil {
		return -1
	}
	return st.Index
}

// bitrateCeiling combines the request and profile ceilings, taking the
// tighter of the two. Zero means no ceiling.
func bitrateCeiling(requested, profileMax int) int {
	switch {
	case requested > 0 && profileMax > 0:
		if requested < profileMax {
			return requested
		}
		return profileMax
	case requested > 0:
		return requested
	default:
		return profileMax
	}
}

// sourceBitrate prefers the container-level bitrate and falls back to the
// primary video stream.
func sourceBitrate(src *media.SourceDescriptor, videoStream *media.Stream) int {
	if src.Bitrate > 0 {
		return src.Bitrate
	}
	if videoStream != nil {
		return videoStream.BitRate
	}
	return 0
}

// normalizeBitrate treats zero or negative bitrates as unknown.
func normalizeBitrate(br int) int {
	if br <= 0 {
		return 0
	}
	return br
}

// scaleToFit shrinks a resolution proportionally until it fits both bounds.
// A zero bound is unbounded; a source already inside the bounds passes
// through unchanged.
func scaleToFit(width, height, maxWidth, maxHeight int) (int, int) {
	scale := 1.0
	if maxWidth > 0 && width > maxWidth {
		scale = math.Min(scale, float64(maxWidth)/float64(width))
	}
	if maxHeight > 0 && height > maxHeight {
		scale = math.Min(scale, float64(maxHeight)/float64(height))
	}
	if scale >= 1 {
		return width, height
	}
	return int(math.Round(float64(width) * scale)), int(math.Round(float64(height) * scale))
}
