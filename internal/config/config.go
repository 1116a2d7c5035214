package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port int

	// Logging
	LogLevel  string // debug, info, warn, error
	LogFormat string // console or json

	// Persistence
	SettingsPath string // settings JSON; empty = user config dir
	ClipsFile    string // clip list loaded at startup, optional

	// Playback
	PollInterval time.Duration // end-of-clip detection tick
	FFmpeg       string        // used for aiff/aac decode and the MP3 monitor

	// Triggers
	MIDI      bool
	MIDIMatch []string // device name substrings considered compatible
	Keyboard  bool     // read slot numbers from stdin
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		Port: envInt("CLIPDECK_HTTP_PORT", 8080),

		LogLevel:  envStr("CLIPDECK_LOG_LEVEL", "info"),
		LogFormat: envStr("CLIPDECK_LOG_FORMAT", "console"),

		SettingsPath: envStr("CLIPDECK_SETTINGS_PATH", ""),
		ClipsFile:    envStr("CLIPDECK_CLIPS", ""),

		PollInterval: envDuration("CLIPDECK_POLL_INTERVAL", 20*time.Millisecond),
		FFmpeg:       envStr("CLIPDECK_FFMPEG", "ffmpeg"),

		MIDI:      envBool("CLIPDECK_MIDI", true),
		MIDIMatch: envList("CLIPDECK_MIDI_MATCH", []string{"LPD", "MPC", "Akai"}),
		Keyboard:  envBool("CLIPDECK_KEYBOARD", true),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

// envList splits a comma separated value, dropping empty items.
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
