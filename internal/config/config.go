package config

import (
	"os"
	"strconv"

	"github.com/tslm9/logostamp/internal/imaging"
)

type Config struct {
	Bot       BotConfig
	Assets    AssetConfig
	Imaging   ImagingConfig
	Database  DatabaseConfig
	Metrics   MetricsConfig
	Events    EventConfig
	Telemetry TelemetryConfig
}

type BotConfig struct {
	Token        string
	OwnerChatID  int64
	OwnerContact string
	PollSeconds  int
}

// AssetConfig selects the transient asset backend: "disk" (default) or
// "minio".
type AssetConfig struct {
	Backend   string
	Dir       string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

type ImagingConfig struct {
	JPEGQuality int
	DwebpPath   string
}

type DatabaseConfig struct {
	DSN string
}

type MetricsConfig struct {
	Addr string
}

type EventConfig struct {
	URL    string
	Secret string
}

type TelemetryConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

func Load() Config {
	return Config{
		Bot: BotConfig{
			Token:        env("LOGOSTAMP_BOT_TOKEN", ""),
			OwnerChatID:  envInt64("LOGOSTAMP_OWNER_CHAT_ID", 0),
			OwnerContact: env("LOGOSTAMP_OWNER_CONTACT", ""),
			PollSeconds:  envInt("LOGOSTAMP_POLL_SECONDS", 30),
		},
		Assets: AssetConfig{
			Backend:   env("LOGOSTAMP_ASSET_BACKEND", "disk"),
			Dir:       env("LOGOSTAMP_ASSET_DIR", ""),
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "logostamp-assets"),
			Prefix:    env("MINIO_PREFIX", "assets"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Imaging: ImagingConfig{
			JPEGQuality: envInt("LOGOSTAMP_JPEG_QUALITY", imaging.DefaultJPEGQuality),
			DwebpPath:   env("LOGOSTAMP_DWEBP_PATH", "dwebp"),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Metrics: MetricsConfig{
			Addr: env("LOGOSTAMP_METRICS_ADDR", ":9090"),
		},
		Events: EventConfig{
			URL:    env("LOGOSTAMP_EVENTS_URL", ""),
			Secret: env("LOGOSTAMP_EVENTS_SECRET", ""),
		},
		Telemetry: TelemetryConfig{
			Exporter:     env("LOGOSTAMP_TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("LOGOSTAMP_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("LOGOSTAMP_OTLP_INSECURE", false),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt64(key string, fallback int64) int64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
