package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile holds optional overrides for the media parameters. Zero values mean
// "keep the environment/default value".
type Profile struct {
	Capture CaptureProfile `yaml:"capture"`
	Relay   RelayProfile   `yaml:"relay"`
	Source  SourceProfile  `yaml:"source"`
}

// CaptureProfile overrides batch capture parameters.
type CaptureProfile struct {
	Seconds             int    `yaml:"seconds"`
	FPS                 int    `yaml:"fps"`
	Scale               string `yaml:"scale"`
	Quality             int    `yaml:"quality"`
	AudioSegmentSeconds int    `yaml:"audio_segment_seconds"`
	AudioCodec          string `yaml:"audio_codec"`
	AudioBitrate        string `yaml:"audio_bitrate"`
}

// RelayProfile overrides live relay parameters.
type RelayProfile struct {
	FPS     int `yaml:"fps"`
	Width   int `yaml:"width"`
	Quality int `yaml:"quality"`
}

// SourceProfile overrides how the upstream source is opened.
type SourceProfile struct {
	Referer           string `yaml:"referer"`
	UserAgent         string `yaml:"user_agent"`
	ReconnectDelayMax int    `yaml:"reconnect_delay_max"`
}

// LoadProfile reads a YAML profile from path. An empty path returns an empty
// profile and no error.
func LoadProfile(path string) (Profile, error) {
	var p Profile
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read profile: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse profile: %w", err)
	}
	return p, nil
}

// OrInt returns v if positive, otherwise fallback.
func OrInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// OrString returns v if non-empty, otherwise fallback.
func OrString(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
