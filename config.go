package chronolog

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the repository-level settings read from config.json, with
// CHRONOLOG_*-namespaced environment variables overriding the file —
// grounded on the teacher corpus's own viper+env-override layering
// (untoldecay-BeadsLog's internal/config package), generalized from YAML to
// the JSON file spec.md's on-disk layout names.
type Config struct {
	// DebounceMS is how long a path must go quiet before ingest, in
	// milliseconds.
	DebounceMS int
	// QueueSize bounds the watcher's pending-path queue.
	QueueSize int
	// AllowBinary controls whether ingest records binary file content.
	AllowBinary bool
	// ShutdownGraceSeconds bounds how long daemon stop waits for the ingest
	// queue to drain before aborting in-flight reads.
	ShutdownGraceSeconds int
	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string
	// LogFormat is "text" or "json".
	LogFormat string
}

// Debounce returns DebounceMS as a time.Duration.
func (c Config) Debounce() time.Duration { return time.Duration(c.DebounceMS) * time.Millisecond }

// ShutdownGrace returns ShutdownGraceSeconds as a time.Duration.
func (c Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// loadConfig reads configPath (typically "<root>/.chronolog/config.json")
// if present, with CHRONOLOG_* environment variables overriding it. A
// missing file is not an error — every setting falls back to its default.
func loadConfig(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigType("json")

	v.SetEnvPrefix("CHRONOLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("debounce-ms", 500)
	v.SetDefault("queue-size", 1024)
	v.SetDefault("allow-binary", true)
	v.SetDefault("shutdown-grace-seconds", 5)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "text")

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, ioErr("reading config.json", err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, ioErr("checking config.json", err)
	}

	return Config{
		DebounceMS:           v.GetInt("debounce-ms"),
		QueueSize:            v.GetInt("queue-size"),
		AllowBinary:          v.GetBool("allow-binary"),
		ShutdownGraceSeconds: v.GetInt("shutdown-grace-seconds"),
		LogLevel:             v.GetString("log-level"),
		LogFormat:            v.GetString("log-format"),
	}, nil
}
