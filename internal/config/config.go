// Package config reads process configuration from CLINOTE_* environment
// variables. User-facing preferences live in the settings package instead.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jwulff/clinote/internal/daemon"
)

type Config struct {
	SocketPath      string
	AgentSocketPath string
	DBPath          string
	ExportDir       string

	LocalURL     string
	OpenAIURL    string
	ProbeTimeout time.Duration

	FFmpeg       string
	InputFormat  string
	MicInput     string
	DisplayInput string

	SegmentDuration time.Duration
	SummaryDelay    time.Duration

	LogLevel string
	LogFile  string
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// DataDir returns the directory holding the sockets and the database.
func DataDir() string {
	return filepath.Dir(daemon.SocketPath())
}

// Load reads all env vars and builds the config.
func Load() *Config {
	dir := DataDir()
	return &Config{
		SocketPath:      getEnv("CLINOTE_SOCKET", daemon.SocketPath()),
		AgentSocketPath: getEnv("CLINOTE_AGENT_SOCKET", daemon.AgentSocketPath()),
		DBPath:          getEnv("CLINOTE_DB", filepath.Join(dir, "clinote.db")),
		ExportDir:       getEnv("CLINOTE_EXPORT_DIR", "."),

		LocalURL:     getEnv("CLINOTE_LOCAL_URL", "http://localhost:11434"),
		OpenAIURL:    getEnv("CLINOTE_OPENAI_URL", "https://api.openai.com/v1"),
		ProbeTimeout: getDurationEnv("CLINOTE_PROBE_TIMEOUT", 3*time.Second),

		FFmpeg:       getEnv("CLINOTE_FFMPEG", "ffmpeg"),
		InputFormat:  getEnv("CLINOTE_INPUT_FORMAT", defaultInputFormat()),
		MicInput:     getEnv("CLINOTE_MIC_INPUT", defaultMicInput()),
		DisplayInput: getEnv("CLINOTE_DISPLAY_INPUT", ""),

		SegmentDuration: getDurationEnv("CLINOTE_SEGMENT_DURATION", 5*time.Second),
		SummaryDelay:    getDurationEnv("CLINOTE_SUMMARY_DELAY", 2*time.Second),

		LogLevel: getEnv("CLINOTE_LOG_LEVEL", "info"),
		LogFile:  getEnv("CLINOTE_LOG_FILE", filepath.Join(dir, "clinote.log")),
	}
}
