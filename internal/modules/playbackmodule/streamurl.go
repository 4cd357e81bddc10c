package playbackmodule

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/castserve/castserve/internal/media"
)

// Params layout. Positions are part of the wire contract; new fields append,
// existing positions never move.
const (
	paramProfileID = iota
	paramDeviceID
	paramMediaSourceID
	paramIsDirectStream
	paramVideoCodec
	paramAudioCodec
	paramAudioStreamIndex
	paramSubtitleStreamIndex
	paramVideoBitrate
	paramAudioBitrate
	paramMaxAudioChannels
	paramMaxFramerate
	paramMaxWidth
	paramMaxHeight
	paramStartTicks
	paramVideoLevel

	paramCount
)

// EncodeStreamURL renders a decision as a relative stream URL. The Params
// query value carries the decision fields at fixed semicolon-separated
// positions so that the same decision can be recovered on the next request.
func EncodeStreamURL(d *StreamDecision, basePath string) string {
	fields := make([]string, paramCount)
	fields[paramProfileID] = d.ProfileName
	fields[paramDeviceID] = d.DeviceID
	fields[paramMediaSourceID] = d.MediaSourceID
	fields[paramIsDirectStream] = strconv.FormatBool(d.IsDirectStream)
	fields[paramVideoCodec] = d.VideoCodec
	fields[paramAudioCodec] = d.AudioCodec
	fields[paramAudioStreamIndex] = encodeIndex(d.AudioStreamIndex)
	fields[paramSubtitleStreamIndex] = encodeIndex(d.SubtitleStreamIndex)
	fields[paramVideoBitrate] = encodeInt(d.VideoBitrate)
	fields[paramAudioBitrate] = encodeInt(d.AudioBitrate)
	fields[paramMaxAudioChannels] = encodeInt(d.MaxAudioChannels)
	fields[paramMaxFramerate] = encodeFloat(d.MaxFramerate)
	fields[paramMaxWidth] = encodeInt(d.MaxWidth)
	fields[paramMaxHeight] = encodeInt(d.MaxHeight)
	fields[paramStartTicks] = encodeInt64(d.StartPositionTicks)
	fields[paramVideoLevel] = encodeFloat(d.VideoLevel)

	segment := "videos"
	if d.Kind == media.KindAudio {
		segment = "audio"
	}

	name := "stream"
	if d.Protocol == StreamProtocolHLS {
		name = "stream.m3u8"
	} else if d.Container != "" {
		name = "stream." + d.Container
	}

	base := strings.TrimRight(basePath, "/")
	return fmt.Sprintf("%s/%s/%s/%s?Params=%s",
		base, segment, url.PathEscape(d.ItemID), name,
		url.QueryEscape(strings.Join(fields, ";")))
}

// DecodedStreamParams holds the fields recovered from a stream URL. Pointer
// fields distinguish an absent position from an explicit zero.
type DecodedStreamParams struct {
	ProfileID           string
	DeviceID            string
	MediaSourceID       string
	IsDirectStream      bool
	VideoCodec          string
	AudioCodec          string
	AudioStreamIndex    *int
	SubtitleStreamIndex *int
	VideoBitrate        *int
	AudioBitrate        *int
	MaxAudioChannels    *int
	MaxFramerate        *float64
	MaxWidth            *int
	MaxHeight           *int
	StartTicks          *int64
	VideoLevel          *float64
}

// DecodeStreamParams parses a Params query value. Short, long, or malformed
// inputs never fail: missing or unparseable positions simply come back
// unset, so old URLs keep working as the layout grows.
func DecodeStreamParams(raw string) DecodedStreamParams {
	var p DecodedStreamParams
	if raw == "" {
		return p
	}
	fields := strings.Split(raw, ";")

	p.ProfileID = fieldAt(fields, paramProfileID)
	p.DeviceID = fieldAt(fields, paramDeviceID)
	p.MediaSourceID = fieldAt(fields, paramMediaSourceID)
	p.IsDirectStream = strings.EqualFold(fieldAt(fields, paramIsDirectStream), "true")
	p.VideoCodec = fieldAt(fields, paramVideoCodec)
	p.AudioCodec = fieldAt(fields, paramAudioCodec)
	p.AudioStreamIndex = parseIntField(fieldAt(fields, paramAudioStreamIndex))
	p.SubtitleStreamIndex = parseIntField(fieldAt(fields, paramSubtitleStreamIndex))
	p.VideoBitrate = parseIntField(fieldAt(fields, paramVideoBitrate))
	p.AudioBitrate = parseIntField(fieldAt(fields, paramAudioBitrate))
	p.MaxAudioChannels = parseIntField(fieldAt(fields, paramMaxAudioChannels))
	p.MaxFramerate = parseFloatField(fieldAt(fields, paramMaxFramerate))
	p.MaxWidth = parseIntField(fieldAt(fields, paramMaxWidth))
	p.MaxHeight = parseIntField(fieldAt(fields, paramMaxHeight))
	p.StartTicks = parseInt64Field(fieldAt(fields, paramStartTicks))
	p.VideoLevel = parseFloatField(fieldAt(fields, paramVideoLevel))
	return p
}

// BuildOptions converts decoded params back into build options so a decision
// can be reconstructed against current sources.
func (p DecodedStreamParams) BuildOptions(itemID string, kind media.Kind, sources []*media.SourceDescriptor, profile *CapabilityProfile) BuildOptions {
	opts := BuildOptions{
		ItemID:              itemID,
		Kind:                kind,
		Sources:             sources,
		Profile:             profile,
		DeviceID:            p.DeviceID,
		MediaSourceID:       p.MediaSourceID,
		AudioStreamIndex:    p.AudioStreamIndex,
		SubtitleStreamIndex: p.SubtitleStreamIndex,
	}
	if p.VideoBitrate != nil {
		opts.MaxBitrate = *p.VideoBitrate
	}
	if p.MaxAudioChannels != nil {
		opts.MaxAudioChannels = *p.MaxAudioChannels
	}
	if p.MaxFramerate != nil {
		opts.MaxFramerate = *p.MaxFramerate
	}
	if p.MaxWidth != nil {
		opts.MaxWidth = *p.MaxWidth
	}
	if p.MaxHeight != nil {
		opts.MaxHeight = *p.MaxHeight
	}
	if p.StartTicks != nil {
		opts.StartPositionTicks = *p.StartTicks
	}
	if p.VideoLevel != nil {
		opts.VideoLevel = *p.VideoLevel
	}
	return opts
}

func fieldAt(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return ""
}

func encodeIndex(i int) string {
	if i < 0 {
		return ""
	}
	return strconv.Itoa(i)
}

func encodeInt(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

func encodeInt64(v int64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatInt(v, 10)
}

func encodeFloat(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseIntField(s string) *int {
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

func parseInt64Field(s string) *int64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseFloatField(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
