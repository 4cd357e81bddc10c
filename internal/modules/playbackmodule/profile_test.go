package playbackmodule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castserve/castserve/internal/media"
)

func TestDirectPlayRuleMatchesCaseInsensitive(t *testing.T) {
	rule := DirectPlayRule{
		Kind:        media.KindVideo,
		Containers:  []string{"mp4", "mkv"},
		VideoCodecs: []string{"h264"},
		AudioCodecs: []string{"aac"},
	}

	assert.True(t, rule.Matches(media.KindVideo, "MP4", "H264", "AAC"))
	assert.True(t, rule.Matches(media.KindVideo, "mkv", "h264", "aac"))
	assert.False(t, rule.Matches(media.KindVideo, "avi", "h264", "aac"))
	assert.False(t, rule.Matches(media.KindVideo, "mp4", "hevc", "aac"))
	assert.False(t, rule.Matches(media.KindAudio, "mp4", "h264", "aac"))
}

func TestDirectPlayRuleEmptyListMatchesAny(t *testing.T) {
	rule := DirectPlayRule{Kind: media.KindVideo, Containers: []string{"mp4"}}

	assert.True(t, rule.Matches(media.KindVideo, "mp4", "anything", "whatever"))
}

func TestCodecConstraintUnknownValuesSatisfy(t *testing.T) {
	c := CodecConstraint{
		Codecs:    []string{"h264"},
		MaxWidth:  1920,
		MaxLevel:  4.1,
		MaxBitrate: 10_000_000,
	}

	// All-zero stream attributes never violate.
	assert.True(t, c.SatisfiedBy(&media.Stream{Codec: "h264"}))
	assert.True(t, c.SatisfiedBy(nil))

	assert.False(t, c.SatisfiedBy(&media.Stream{Codec: "h264", Width: 3840}))
	assert.False(t, c.SatisfiedBy(&media.Stream{Codec: "h264", Level: 5.1}))
	assert.False(t, c.SatisfiedBy(&media.Stream{Codec: "h264", BitRate: 15_000_000}))
}

func TestCodecConstraintProfileList(t *testing.T) {
	c := CodecConstraint{Codecs: []string{"hevc"}, Profiles: []string{"main", "main 10"}}

	assert.True(t, c.SatisfiedBy(&media.Stream{Codec: "hevc", Profile: "Main 10"}))
	assert.False(t, c.SatisfiedBy(&media.Stream{Codec: "hevc", Profile: "rext"}))
	// Unknown profile satisfies.
	assert.True(t, c.SatisfiedBy(&media.Stream{Codec: "hevc"}))
}

func TestViolatedConstraintDirectPhase(t *testing.T) {
	p := &CapabilityProfile{
		CodecConstraints: []CodecConstraint{
			{Codecs: []string{"h264"}, MaxWidth: 1920, AppliesAlways: true},
			{Codecs: []string{"h264"}, MaxLevel: 4.0},
		},
	}

	wide := &media.Stream{Codec: "h264", Width: 3840, Level: 5.1}

	// Direct phase only evaluates applies-always constraints.
	got := p.ViolatedConstraint(wide, true)
	require.NotNil(t, got)
	assert.Equal(t, 1920, got.MaxWidth)

	// The level-only constraint is invisible to the direct phase.
	highLevel := &media.Stream{Codec: "h264", Width: 1280, Level: 5.1}
	assert.Nil(t, p.ViolatedConstraint(highLevel, true))
	assert.NotNil(t, p.ViolatedConstraint(highLevel, false))
}

func TestResolveCapabilityProfileSubstringMatch(t *testing.T) {
	r := NewProfileRegistry(DefaultProfile())
	for _, p := range BuiltinProfiles() {
		r.Register(p)
	}

	got := r.ResolveCapabilityProfile(DeviceIdentification{
		FriendlyName: "Living Room TV",
		Manufacturer: "Samsung Electronics Co., Ltd.",
		ModelName:    "UE55MU7000",
	})
	assert.Equal(t, "Samsung Smart TV", got.Name)

	got = r.ResolveCapabilityProfile(DeviceIdentification{
		Manufacturer: "Google Inc.",
		ModelName:    "Chromecast Ultra",
	})
	assert.Equal(t, "Chromecast", got.Name)

	got = r.ResolveCapabilityProfile(DeviceIdentification{
		FriendlyName: "Kitchen Speaker",
		Manufacturer: "Sonos, Inc.",
	})
	assert.Equal(t, "Sonos", got.Name)
}

func TestResolveCapabilityProfileUnknownFallsThrough(t *testing.T) {
	r := NewProfileRegistry(DefaultProfile())
	r.Register(samsungTVProfile())

	got := r.ResolveCapabilityProfile(DeviceIdentification{
		FriendlyName: "Mystery Box",
		Manufacturer: "Acme",
	})
	require.NotNil(t, got)
	assert.Equal(t, DefaultProfile().Name, got.Name)
}

func TestResolveCapabilityProfileRegistrationOrder(t *testing.T) {
	first := &CapabilityProfile{Name: "First", Identification: ProfileIdentification{Manufacturer: "acme"}}
	second := &CapabilityProfile{Name: "Second", Identification: ProfileIdentification{Manufacturer: "acme"}}

	r := NewProfileRegistry(DefaultProfile())
	r.Register(first)
	r.Register(second)

	got := r.ResolveCapabilityProfile(DeviceIdentification{Manufacturer: "Acme Corp"})
	assert.Equal(t, "First", got.Name)
}

func TestGenericRendererOnlyReachableAsFallback(t *testing.T) {
	// The generic profile carries no identification patterns and never
	// matches a device directly; it is only handed out as the fallback.
	p := genericRendererProfile()
	assert.False(t, p.matchesIdentification(DeviceIdentification{Manufacturer: "anything"}))

	r := NewProfileRegistry(p)
	got := r.ResolveCapabilityProfile(DeviceIdentification{Manufacturer: "anything"})
	assert.Equal(t, "Generic Renderer", got.Name)
}
