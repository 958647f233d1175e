// Package config provides configuration helpers for go-livedetect commands.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pion/stun"
	"github.com/samber/lo"
)

// Defaults.
const (
	DefaultPort          = 8080
	DefaultModelPath     = "best.onnx"
	DefaultBackend       = "opencv"
	DefaultInputSize     = 640
	DefaultMaxDetections = 300
	DefaultFrameWidth    = 640
	DefaultFrameHeight   = 480
	DefaultFrameRate     = 15
	DefaultFFmpegPath    = "ffmpeg"
	DefaultTitle         = "🎨 Real-time Color Detector with YOLOv8"
	DefaultInfo          = "Allow camera access in your browser. If nothing is detected, try lowering the confidence or IoU threshold."
)

// DefaultICEServers are the public STUN servers offered to browsers and used
// by the server-side peer connection.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
	"stun:stun.services.mozilla.com",
	"stun:stun.nextcloud.com:3478",
	"stun:stun.stunprotocol.org:3478",
	"stun:stun.voipbuster.com:3478",
}

// Config holds all configuration for the live detection service.
// Flag parsing is done in cmd/livedetect; this struct is data only.
type Config struct {
	// HTTP
	Port  int
	Title string
	Info  string

	// Model
	ModelPath     string
	LabelsPath    string
	Backend       string // "opencv" or "onnxruntime"
	ORTLibrary    string // Path to the onnxruntime shared library
	InputSize     int    // Square model input size
	MaxDetections int

	// Video pipeline
	FrameWidth  int
	FrameHeight int
	FrameRate   int
	FFmpegPath  string
	ICEServers  []string

	// Logging
	LogLevel string
	LogFile  string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:          DefaultPort,
		Title:         DefaultTitle,
		Info:          DefaultInfo,
		ModelPath:     DefaultModelPath,
		Backend:       DefaultBackend,
		InputSize:     DefaultInputSize,
		MaxDetections: DefaultMaxDetections,
		FrameWidth:    DefaultFrameWidth,
		FrameHeight:   DefaultFrameHeight,
		FrameRate:     DefaultFrameRate,
		FFmpegPath:    DefaultFFmpegPath,
		ICEServers:    append([]string(nil), DefaultICEServers...),
		LogLevel:      "info",
	}
}

// Load reads an optional .env file and then the process environment on top
// of DefaultConfig.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load env file: %w", err)
	}
	return FromEnv(os.Getenv), nil
}

// FromEnv builds a Config using getenv for lookups.
func FromEnv(getenv func(string) string) Config {
	cfg := DefaultConfig()

	cfg.Port = envInt(getenv, "PORT", cfg.Port)
	cfg.Title = envString(getenv, "APP_TITLE", cfg.Title)
	cfg.ModelPath = envString(getenv, "MODEL_PATH", cfg.ModelPath)
	cfg.LabelsPath = envString(getenv, "LABELS_PATH", cfg.LabelsPath)
	cfg.Backend = envString(getenv, "DETECTOR_BACKEND", cfg.Backend)
	cfg.ORTLibrary = envString(getenv, "ONNXRUNTIME_LIB", cfg.ORTLibrary)
	cfg.InputSize = envInt(getenv, "INPUT_SIZE", cfg.InputSize)
	cfg.MaxDetections = envInt(getenv, "MAX_DETECTIONS", cfg.MaxDetections)
	cfg.FrameWidth = envInt(getenv, "FRAME_WIDTH", cfg.FrameWidth)
	cfg.FrameHeight = envInt(getenv, "FRAME_HEIGHT", cfg.FrameHeight)
	cfg.FrameRate = envInt(getenv, "FRAME_RATE", cfg.FrameRate)
	cfg.FFmpegPath = envString(getenv, "FFMPEG_PATH", cfg.FFmpegPath)
	cfg.LogLevel = envString(getenv, "LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = envString(getenv, "LOG_FILE", cfg.LogFile)

	if v := getenv("ICE_SERVERS"); v != "" {
		cfg.ICEServers = SplitList(v)
	}

	return cfg
}

// SplitList splits a comma separated list, trimming blanks and dropping
// empty entries.
func SplitList(s string) []string {
	parts := lo.Map(strings.Split(s, ","), func(p string, _ int) string {
		return strings.TrimSpace(p)
	})
	return lo.Compact(parts)
}

// Validate checks the config values.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errs []string

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}
	if c.ModelPath == "" {
		errs = append(errs, "model path is required")
	}
	if c.Backend != "opencv" && c.Backend != "onnxruntime" {
		errs = append(errs, "backend must be opencv or onnxruntime")
	}
	if c.InputSize < 32 || c.InputSize%32 != 0 {
		errs = append(errs, "input size must be a positive multiple of 32")
	}
	if c.MaxDetections < 1 {
		errs = append(errs, "max detections must be positive")
	}
	if c.FrameWidth < 16 || c.FrameHeight < 16 || c.FrameWidth%2 != 0 || c.FrameHeight%2 != 0 {
		errs = append(errs, "frame size must be even and at least 16x16")
	}
	if c.FrameRate < 1 || c.FrameRate > 60 {
		errs = append(errs, "frame rate must be between 1 and 60")
	}
	if len(c.ICEServers) == 0 {
		errs = append(errs, "at least one ICE server is required")
	}
	for _, u := range c.ICEServers {
		if _, err := stun.ParseURI(u); err != nil {
			errs = append(errs, fmt.Sprintf("invalid ICE server %q: %v", u, err))
		}
	}

	return errs
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func envString(getenv func(string) string, key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(getenv func(string) string, key string, def int) int {
	if v := getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
