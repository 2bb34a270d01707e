package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/mageframe/video-kit/internal/mirror"
)

const (
	defaultListenAddr   = ":8000"
	defaultDataDir      = "data"
	defaultDBFile       = "videokit.db"
	defaultFFmpegBin    = "ffmpeg"
	defaultPollAttempts = 20
	defaultPollInterval = 30 * time.Second

	envConfigFile     = "VIDEOKIT_CONFIG"
	envListenAddr     = "VIDEOKIT_LISTEN_ADDR"
	envDataDir        = "VIDEOKIT_DATA_DIR"
	envDBPath         = "VIDEOKIT_DB_PATH"
	envLogLevel       = "VIDEOKIT_LOG_LEVEL"
	envFFmpegBin      = "VIDEOKIT_FFMPEG_BIN"
	envPollAttempts   = "VIDEOKIT_POLL_ATTEMPTS"
	envPollInterval   = "VIDEOKIT_POLL_INTERVAL"
	envAllowedOrigins = "VIDEOKIT_ALLOWED_ORIGINS"

	envAPIKey        = "KIE_API_KEY"
	envAPIBaseURL    = "KIE_API_BASE_URL"
	envUploadBaseURL = "KIE_UPLOAD_BASE_URL"
	envUploadPath    = "KIE_UPLOAD_PATH"

	envMinioEndpoint  = "MINIO_ENDPOINT"
	envMinioAccessKey = "MINIO_ACCESS_KEY"
	envMinioSecretKey = "MINIO_SECRET_KEY"
	envMinioBucket    = "MINIO_BUCKET"
	envMinioPrefix    = "MINIO_PREFIX"
	envMinioUseSSL    = "MINIO_USE_SSL"
)

// Provider holds the generation provider credentials and endpoints.
type Provider struct {
	APIKey        string `yaml:"api_key"`
	APIBaseURL    string `yaml:"api_base_url"`
	UploadBaseURL string `yaml:"upload_base_url"`
	UploadPath    string `yaml:"upload_path"`
}

// Config holds application configuration. Values come from an optional YAML
// file named by VIDEOKIT_CONFIG, overridden by environment variables.
type Config struct {
	ListenAddr     string        `yaml:"listen_addr"`
	DataDir        string        `yaml:"data_dir"`
	DBPath         string        `yaml:"db_path"`
	LogLevel       slog.Level    `yaml:"-"`
	FFmpegBin      string        `yaml:"ffmpeg_bin"`
	PollAttempts   int           `yaml:"poll_attempts"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	Provider       Provider      `yaml:"provider"`
	Mirror         mirror.Config `yaml:"mirror"`

	// LogLevelName is the textual level parsed into LogLevel.
	LogLevelName string `yaml:"log_level"`
}

// Load reads configuration with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:   defaultListenAddr,
		DataDir:      defaultDataDir,
		LogLevel:     slog.LevelInfo,
		FFmpegBin:    defaultFFmpegBin,
		PollAttempts: defaultPollAttempts,
		PollInterval: defaultPollInterval,
	}

	if path := os.Getenv(envConfigFile); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	cfg.LogLevel = parseLogLevel(cfg.LogLevelName)
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, defaultDBFile)
	}
	if cfg.PollAttempts <= 0 {
		return Config{}, fmt.Errorf("config: poll attempts must be positive, got %d", cfg.PollAttempts)
	}
	if cfg.PollInterval <= 0 {
		return Config{}, fmt.Errorf("config: poll interval must be positive, got %s", cfg.PollInterval)
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.ListenAddr, envListenAddr)
	setString(&cfg.DataDir, envDataDir)
	setString(&cfg.DBPath, envDBPath)
	setString(&cfg.LogLevelName, envLogLevel)
	setString(&cfg.FFmpegBin, envFFmpegBin)

	setString(&cfg.Provider.APIKey, envAPIKey)
	setString(&cfg.Provider.APIBaseURL, envAPIBaseURL)
	setString(&cfg.Provider.UploadBaseURL, envUploadBaseURL)
	setString(&cfg.Provider.UploadPath, envUploadPath)

	setString(&cfg.Mirror.Endpoint, envMinioEndpoint)
	setString(&cfg.Mirror.AccessKey, envMinioAccessKey)
	setString(&cfg.Mirror.SecretKey, envMinioSecretKey)
	setString(&cfg.Mirror.Bucket, envMinioBucket)
	setString(&cfg.Mirror.Prefix, envMinioPrefix)

	if v := os.Getenv(envMinioUseSSL); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", envMinioUseSSL, err)
		}
		cfg.Mirror.UseSSL = b
	}
	if v := os.Getenv(envPollAttempts); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", envPollAttempts, err)
		}
		cfg.PollAttempts = n
	}
	if v := os.Getenv(envPollInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", envPollInterval, err)
		}
		cfg.PollInterval = d
	}
	if v := os.Getenv(envAllowedOrigins); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
