package playbackmodule

import (
	"github.com/castserve/castserve/internal/media"
)

// BuiltinProfiles returns the capability profiles shipped with the server.
// Registration order matters when a device matches more than one profile.
// The generic renderer profile is not in this list; it serves as the
// registry fallback for devices nothing here claims.
func BuiltinProfiles() []*CapabilityProfile {
	return []*CapabilityProfile{
		samsungTVProfile(),
		sonosProfile(),
		chromecastProfile(),
	}
}

func samsungTVProfile() *CapabilityProfile {
	return &CapabilityProfile{
		Name:         "Samsung Smart TV",
		Manufacturer: "Samsung Electronics",
		Identification: ProfileIdentification{
			Manufacturer: "samsung",
		},
		MaxStreamingBitrate: 30_000_000,
		DirectPlayRules: []DirectPlayRule{
			{
				Kind:        media.KindVideo,
				Containers:  []string{"mp4", "mkv", "m2ts", "ts"},
				VideoCodecs: []string{"h264", "hevc", "mpeg2video"},
				AudioCodecs: []string{"aac", "ac3", "eac3", "mp3"},
			},
			{
				Kind:        media.KindAudio,
				Containers:  []string{"mp3", "flac", "aac", "m4a"},
				AudioCodecs: []string{"mp3", "flac", "aac"},
			},
		},
		TranscodingRules: []TranscodingRule{
			{
				Kind:                  media.KindVideo,
				Container:             "ts",
				VideoCodec:            "h264",
				AudioCodec:            "aac",
				Protocol:              StreamProtocolHLS,
				EstimateContentLength: true,
			},
			{
				Kind:       media.KindAudio,
				Container:  "mp3",
				AudioCodec: "mp3",
			},
		},
		CodecConstraints: []CodecConstraint{
			{
				Codecs:        []string{"h264"},
				MaxWidth:      3840,
				MaxHeight:     2160,
				MaxLevel:      5.1,
				AppliesAlways: true,
			},
			{
				Codecs:        []string{"hevc"},
				MaxWidth:      3840,
				MaxHeight:     2160,
				Profiles:      []string{"main", "main 10"},
				AppliesAlways: true,
			},
		},
	}
}

func sonosProfile() *CapabilityProfile {
	return &CapabilityProfile{
		Name:         "Sonos",
		Manufacturer: "Sonos, Inc.",
		Identification: ProfileIdentification{
			Manufacturer: "sonos",
		},
		DirectPlayRules: []DirectPlayRule{
			{
				Kind:        media.KindAudio,
				Containers:  []string{"mp3", "flac", "wav", "ogg", "m4a", "aac"},
				AudioCodecs: []string{"mp3", "flac", "pcm", "vorbis", "aac", "alac"},
			},
		},
		TranscodingRules: []TranscodingRule{
			{
				Kind:       media.KindAudio,
				Container:  "mp3",
				AudioCodec: "mp3",
			},
		},
	}
}

func chromecastProfile() *CapabilityProfile {
	return &CapabilityProfile{
		Name:         "Chromecast",
		Manufacturer: "Google Inc.",
		Identification: ProfileIdentification{
			ModelName: "chromecast",
		},
		MaxStreamingBitrate: 20_000_000,
		DirectPlayRules: []DirectPlayRule{
			{
				Kind:        media.KindVideo,
				Containers:  []string{"mp4", "webm", "mkv"},
				VideoCodecs: []string{"h264", "vp8", "vp9"},
				AudioCodecs: []string{"aac", "mp3", "opus", "vorbis"},
			},
			{
				Kind:        media.KindAudio,
				Containers:  []string{"mp3", "flac", "wav", "ogg"},
				AudioCodecs: []string{"mp3", "flac", "pcm", "vorbis", "opus"},
			},
		},
		TranscodingRules: []TranscodingRule{
			{
				Kind:       media.KindVideo,
				Container:  "ts",
				VideoCodec: "h264",
				AudioCodec: "aac",
				Protocol:   StreamProtocolHLS,
			},
			{
				Kind:       media.KindAudio,
				Container:  "mp3",
				AudioCodec: "mp3",
			},
		},
		CodecConstraints: []CodecConstraint{
			{
				Codecs:        []string{"h264"},
				MaxWidth:      1920,
				MaxHeight:     1080,
				MaxLevel:      4.2,
				AppliesAlways: true,
			},
		},
	}
}

// genericRendererProfile covers DLNA renderers that report nothing we
// recognize. Conservative: only the formats nearly every renderer handles
// are direct-played, everything else is remuxed to ts/mp3.
func genericRendererProfile() *CapabilityProfile {
	return &CapabilityProfile{
		Name:                "Generic Renderer",
		MaxStreamingBitrate: 8_000_000,
		DirectPlayRules: []DirectPlayRule{
			{
				Kind:        media.KindVideo,
				Containers:  []string{"mp4"},
				VideoCodecs: []string{"h264"},
				AudioCodecs: []string{"aac", "mp3"},
			},
			{
				Kind:        media.KindAudio,
				Containers:  []string{"mp3"},
				AudioCodecs: []string{"mp3"},
			},
		},
		TranscodingRules: []TranscodingRule{
			{
				Kind:                  media.KindVideo,
				Container:             "ts",
				VideoCodec:            "h264",
				AudioCodec:            "aac",
				EstimateContentLength: true,
			},
			{
				Kind:       media.KindAudio,
				Container:  "mp3",
				AudioCodec: "mp3",
			},
		},
		CodecConstraints: []CodecConstraint{
			{
				Codecs:        []string{"h264"},
				MaxWidth:      1920,
				MaxHeight:     1080,
				MaxLevel:      4.1,
				AppliesAlways: true,
			},
		},
	}
}
