// Package playbackmodule implements the adaptive streaming decision engine:
// capability profiles, the stream decision builder, the stream URL codec,
// and the playback session registry.
package playbackmodule

import (
	"strings"
	"sync"

	"github.com/castserve/castserve/internal/media"
)

// StreamProtocol tags how decided output is delivered.
type StreamProtocol string

const (
	StreamProtocolHTTP StreamProtocol = "http"
	StreamProtocolHLS  StreamProtocol = "hls"
)

// DirectPlayRule declares one container/codec combination a device plays
// without transcoding. An empty list inside a rule matches any value; an
// empty rule *set* on a profile means nothing is ever direct-played.
type DirectPlayRule struct {
	Kind        media.Kind `json:"kind"`
	Containers  []string   `json:"containers,omitempty"`
	VideoCodecs []string   `json:"video_codecs,omitempty"`
	AudioCodecs []string   `json:"audio_codecs,omitempty"`
}

// Matches reports whether the rule covers the given source format. All
// comparisons are case-insensitive.
func (r *DirectPlayRule) Matches(kind media.Kind, container, videoCodec, audioCodec string) bool {
	if r.Kind != kind {
		return false
	}
	if !listMatches(r.Containers, container) {
		return false
	}
	if kind == media.KindVideo && !listMatches(r.VideoCodecs, videoCodec) {
		return false
	}
	if !listMatches(r.AudioCodecs, audioCodec) {
		return false
	}
	return true
}

// TranscodingRule declares one output format the device accepts when the
// source cannot be direct-played. Rules are priority-ordered by the profile
// author; the first rule matching the media kind wins.
type TranscodingRule struct {
	Kind                  media.Kind          `json:"kind"`
	Container             string              `json:"container"`
	VideoCodec            string              `json:"video_codec,omitempty"`
	AudioCodec            string              `json:"audio_codec,omitempty"`
	Protocol              StreamProtocol      `json:"protocol,omitempty"`
	EstimateContentLength bool                `json:"estimate_content_length,omitempty"`
	ForceTimestamp        media.TimestampMode `json:"force_timestamp,omitempty"`
}

// CodecConstraint limits what a device accepts for a given codec beyond the
// container/codec name match. Constraints with AppliesAlways set are
// evaluated even when a direct-play rule matched; others only shape
// transcoding output.
type CodecConstraint struct {
	Codecs        []string `json:"codecs"`
	MaxWidth      int      `json:"max_width,omitempty"`
	MaxHeight     int      `json:"max_height,omitempty"`
	MaxBitrate    int      `json:"max_bitrate,omitempty"`
	MaxLevel      float64  `json:"max_level,omitempty"`
	Profiles      []string `json:"profiles,omitempty"`
	AppliesAlways bool     `json:"applies_always,omitempty"`
}

// AppliesTo reports whether the constraint covers the given codec.
func (c *CodecConstraint) AppliesTo(codec string) bool {
	return listMatches(c.Codecs, codec)
}

// SatisfiedBy evaluates the constraint against actual stream attributes.
// Unknown stream values (zero) satisfy the constraint; only measured
// violations force a downgrade.
func (c *CodecConstraint) SatisfiedBy(st *media.Stream) bool {
	if st == nil {
		return true
	}
	if c.MaxWidth > 0 && st.Width > c.MaxWidth {
		return false
	}
	if c.MaxHeight > 0 && st.Height > c.MaxHeight {
		return false
	}
	if c.MaxBitrate > 0 && st.BitRate > c.MaxBitrate {
		return false
	}
	if c.MaxLevel > 0 && st.Level > c.MaxLevel {
		return false
	}
	if len(c.Profiles) > 0 && st.Profile != "" && !listMatches(c.Profiles, st.Profile) {
		return false
	}
	return true
}

// ProfileIdentification holds the substring patterns used to match a device
// to its profile. Empty fields are ignored; all populated fields must match.
type ProfileIdentification struct {
	FriendlyName string `json:"friendly_name,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	ModelName    string `json:"model_name,omitempty"`
}

// DeviceIdentification carries what a device reported about itself.
type DeviceIdentification struct {
	FriendlyName string `json:"friendly_name,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	ModelName    string `json:"model_name,omitempty"`
}

// CapabilityProfile describes the playback capabilities of one device type.
// Profiles are immutable once registered and safely shared without locking.
type CapabilityProfile struct {
	Name                string                `json:"name"`
	Manufacturer        string                `json:"manufacturer,omitempty"`
	Identification      ProfileIdentification `json:"identification,omitempty"`
	MaxStreamingBitrate int                   `json:"max_streaming_bitrate,omitempty"`
	DirectPlayRules     []DirectPlayRule      `json:"direct_play_rules,omitempty"`
	TranscodingRules    []TranscodingRule     `json:"transcoding_rules,omitempty"`
	CodecConstraints    []CodecConstraint     `json:"codec_constraints,omitempty"`
}

// DirectPlaySupported runs the format phase of the direct-play check: does
// any rule cover this kind/container/codec combination. Numeric constraints
// are evaluated separately.
func (p *CapabilityProfile) DirectPlaySupported(kind media.Kind, container, videoCodec, audioCodec string) bool {
	for i := range p.DirectPlayRules {
		if p.DirectPlayRules[i].Matches(kind, container, videoCodec, audioCodec) {
			return true
		}
	}
	return false
}

// TranscodingRuleFor returns the first transcoding rule for the media kind,
// or nil when the profile declares none.
func (p *CapabilityProfile) TranscodingRuleFor(kind media.Kind) *TranscodingRule {
	for i := range p.TranscodingRules {
		if p.TranscodingRules[i].Kind == kind {
			return &p.TranscodingRules[i]
		}
	}
	return nil
}

// ViolatedConstraint returns the first constraint the stream violates.
// When directPhase is set only applies-always constraints are considered.
func (p *CapabilityProfile) ViolatedConstraint(st *media.Stream, directPhase bool) *CodecConstraint {
	if st == nil {
		return nil
	}
	for i := range p.CodecConstraints {
		c := &p.CodecConstraints[i]
		if directPhase && !c.AppliesAlways {
			continue
		}
		if !c.AppliesTo(st.Codec) {
			continue
		}
		if !c.SatisfiedBy(st) {
			return c
		}
	}
	return nil
}

// matchesIdentification reports whether a device identification matches this
// profile's patterns. A profile with no patterns matches nothing and can
// only be the explicit default.
func (p *CapabilityProfile) matchesIdentification(ident DeviceIdentification) bool {
	id := p.Identification
	if id.FriendlyName == "" && id.Manufacturer == "" && id.ModelName == "" {
		return false
	}
	if !fieldMatches(id.FriendlyName, ident.FriendlyName) {
		return false
	}
	if !fieldMatches(id.Manufacturer, ident.Manufacturer) {
		return false
	}
	if !fieldMatches(id.ModelName, ident.ModelName) {
		return false
	}
	return true
}

// ProfileRegistry holds the known capability profiles. Populated during
// startup, read-only afterwards.
type ProfileRegistry struct {
	mu       sync.RWMutex
	profiles []*CapabilityProfile
	fallback *CapabilityProfile
}

// NewProfileRegistry creates a registry with the given fallback profile.
func NewProfileRegistry(fallback *CapabilityProfile) *ProfileRegistry {
	return &ProfileRegistry{fallback: fallback}
}

// Register adds a profile. Registration order decides precedence when
// multiple profiles match a device.
func (r *ProfileRegistry) Register(p *CapabilityProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles = append(r.profiles, p)
}

// ResolveCapabilityProfile selects the profile for the identified device,
// falling back to the registry default.
func (r *ProfileRegistry) ResolveCapabilityProfile(ident DeviceIdentification) *CapabilityProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.profiles {
		if p.matchesIdentification(ident) {
			return p
		}
	}
	return r.fallback
}

// Profiles returns a snapshot of the registered profiles.
func (r *ProfileRegistry) Profiles() []*CapabilityProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*CapabilityProfile, len(r.profiles))
	copy(out, r.profiles)
	return out
}

// DefaultProfile is the permissive fallback used for unidentified devices:
// common containers direct-play, everything else transcodes to mp4/h264/aac.
func DefaultProfile() *CapabilityProfile {
	return &CapabilityProfile{
		Name:                "Default",
		MaxStreamingBitrate: 20_000_000,
		DirectPlayRules: []DirectPlayRule{
			{
				Kind:        media.KindVideo,
				Containers:  []string{"mp4", "m4v", "webm", "mkv"},
				VideoCodecs: []string{"h264", "hevc", "vp8", "vp9", "av1"},
				AudioCodecs: []string{"aac", "mp3", "opus", "vorbis", "flac"},
			},
			{
				Kind:       media.KindAudio,
				Containers: []string{"mp3", "flac", "m4a", "ogg", "wav"},
			},
			{
				Kind:       media.KindPhoto,
				Containers: []string{"jpeg", "jpg", "png", "gif", "webp"},
			},
		},
		TranscodingRules: []TranscodingRule{
			{
				Kind:       media.KindVideo,
				Container:  "mp4",
				VideoCodec: "h264",
				AudioCodec: "aac",
				Protocol:   StreamProtocolHTTP,
			},
			{
				Kind:       media.KindAudio,
				Container:  "mp3",
				AudioCodec: "mp3",
				Protocol:   StreamProtocolHTTP,
			},
		},
	}
}

func listMatches(list []string, value string) bool {
	if len(list) == 0 {
		return true
	}
	for _, v := range list {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}

func fieldMatches(pattern, value string) bool {
	if pattern == "" {
		return true
	}
	if value == "" {
		return false
	}
	return strings.Contains(strings.ToLower(value), strings.ToLower(pattern))
}
