package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	OIDC      OIDCConfig
	Gateway   GatewayConfig
	RateLimit RateLimitConfig
	Hooks     HooksConfig
	Storage   StorageConfig
	Ingest    IngestConfig
	Publish   PublishConfig
	YouTube   YouTubeConfig
	Facebook  FacebookConfig
	Buffer    BufferConfig
	Schedule  ScheduleConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type OIDCConfig struct {
	Issuer   string
	ClientID string
}

type GatewayConfig struct {
	Enabled bool
}

type RateLimitConfig struct {
	PublishPerHour int
	ScanPerMin     int
}

type HooksConfig struct {
	Secret string
}

// StorageConfig selects and configures the object store driver. Driver is
// "s3" (any S3-compatible endpoint) or "gcs".
type StorageConfig struct {
	Driver          string
	Bucket          string
	Region          string
	Endpoint        string // S3 only, empty for AWS proper
	AccessKeyID     string // S3 only
	SecretAccessKey string // S3 only
	CredentialsFile string // GCS only, empty for ambient credentials
}

type IngestConfig struct {
	Prefix       string
	MarkerPrefix string
	Extensions   []string
	MaxSizeBytes int64
}

type PublishConfig struct {
	Targets          []string
	MaxRetries       int
	RetryBaseDelayMS int
	InterDelaySec    int
	InterJitterSec   int
	PreflightTimeout int // seconds
	UploadTimeout    int // seconds
	JobTimeoutMin    int
	DeadlineMargin   int // seconds kept in reserve before the job deadline
}

type YouTubeConfig struct {
	CategoryID    string
	PrivacyStatus string
	Preflight     bool
	MaxSizeBytes  int64
}

type FacebookConfig struct {
	GraphBaseURL      string
	GraphVideoBaseURL string
	Preflight         bool
	MaxSizeBytes      int64
}

type BufferConfig struct {
	BaseURL      string
	Preflight    bool
	MaxSizeBytes int64
}

type ScheduleConfig struct {
	Enabled     bool
	Spec        string // cron expression for scan ticks
	WindowStart int    // hour, inclusive
	WindowEnd   int    // hour, exclusive
	Timezone    string
	MaxScan     int
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds.
	// Platform credentials (YT_*, FB_*, BUFFER_*) are deliberately not
	// loaded here; the credential broker fetches those per invocation.
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("HOOK_SECRET")
	readSecret("STORAGE_ACCESS_KEY_ID")
	readSecret("STORAGE_SECRET_ACCESS_KEY")
	readSecret("OIDC_CLIENT_ID")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("oidc.issuer", "OIDC_ISSUER")
	_ = viper.BindEnv("oidc.client_id", "OIDC_CLIENT_ID")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")
	_ = viper.BindEnv("ratelimit.publish_per_hour", "RATELIMIT_PUBLISH_PER_HOUR")
	_ = viper.BindEnv("ratelimit.scan_per_min", "RATELIMIT_SCAN_PER_MIN")
	_ = viper.BindEnv("hooks.secret", "HOOK_SECRET")
	_ = viper.BindEnv("storage.driver", "STORAGE_DRIVER")
	_ = viper.BindEnv("storage.bucket", "STORAGE_BUCKET")
	_ = viper.BindEnv("storage.region", "STORAGE_REGION")
	_ = viper.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	_ = viper.BindEnv("storage.access_key_id", "STORAGE_ACCESS_KEY_ID")
	_ = viper.BindEnv("storage.secret_access_key", "STORAGE_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("storage.credentials_file", "STORAGE_CREDENTIALS_FILE")
	_ = viper.BindEnv("ingest.prefix", "INGEST_PREFIX")
	_ = viper.BindEnv("ingest.marker_prefix", "INGEST_MARKER_PREFIX")
	_ = viper.BindEnv("ingest.extensions", "INGEST_EXTENSIONS")
	_ = viper.BindEnv("ingest.max_size_bytes", "INGEST_MAX_SIZE_BYTES")
	_ = viper.BindEnv("publish.targets", "PUBLISH_TARGETS")
	_ = viper.BindEnv("publish.max_retries", "PUBLISH_MAX_RETRIES")
	_ = viper.BindEnv("publish.retry_base_delay_ms", "PUBLISH_RETRY_BASE_DELAY_MS")
	_ = viper.BindEnv("publish.inter_delay_sec", "PUBLISH_INTER_DELAY_SEC")
	_ = viper.BindEnv("publish.inter_jitter_sec", "PUBLISH_INTER_JITTER_SEC")
	_ = viper.BindEnv("publish.preflight_timeout", "PUBLISH_PREFLIGHT_TIMEOUT")
	_ = viper.BindEnv("publish.upload_timeout", "PUBLISH_UPLOAD_TIMEOUT")
	_ = viper.BindEnv("publish.job_timeout_min", "PUBLISH_JOB_TIMEOUT_MIN")
	_ = viper.BindEnv("publish.deadline_margin", "PUBLISH_DEADLINE_MARGIN")
	_ = viper.BindEnv("youtube.category_id", "YOUTUBE_CATEGORY_ID")
	_ = viper.BindEnv("youtube.privacy_status", "YOUTUBE_PRIVACY_STATUS")
	_ = viper.BindEnv("youtube.preflight", "YOUTUBE_PREFLIGHT")
	_ = viper.BindEnv("youtube.max_size_bytes", "YOUTUBE_MAX_SIZE_BYTES")
	_ = viper.BindEnv("facebook.graph_base_url", "FACEBOOK_GRAPH_BASE_URL")
	_ = viper.BindEnv("facebook.graph_video_base_url", "FACEBOOK_GRAPH_VIDEO_BASE_URL")
	_ = viper.BindEnv("facebook.preflight", "FACEBOOK_PREFLIGHT")
	_ = viper.BindEnv("facebook.max_size_bytes", "FACEBOOK_MAX_SIZE_BYTES")
	_ = viper.BindEnv("buffer.base_url", "BUFFER_BASE_URL")
	_ = viper.BindEnv("buffer.preflight", "BUFFER_PREFLIGHT")
	_ = viper.BindEnv("buffer.max_size_bytes", "BUFFER_MAX_SIZE_BYTES")
	_ = viper.BindEnv("schedule.enabled", "SCHEDULE_ENABLED")
	_ = viper.BindEnv("schedule.spec", "SCHEDULE_SPEC")
	_ = viper.BindEnv("schedule.window_start", "SCHEDULE_WINDOW_START")
	_ = viper.BindEnv("schedule.window_end", "SCHEDULE_WINDOW_END")
	_ = viper.BindEnv("schedule.timezone", "SCHEDULE_TIMEZONE")
	_ = viper.BindEnv("schedule.max_scan", "SCHEDULE_MAX_SCAN")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("gateway.enabled", false)
	viper.SetDefault("ratelimit.publish_per_hour", 30)
	viper.SetDefault("ratelimit.scan_per_min", 6)

	// Storage defaults
	viper.SetDefault("storage.driver", "s3")
	viper.SetDefault("storage.region", "auto")

	// Ingest defaults
	viper.SetDefault("ingest.prefix", "incoming/")
	viper.SetDefault("ingest.marker_prefix", "posted/")
	viper.SetDefault("ingest.extensions", ".mp4")
	viper.SetDefault("ingest.max_size_bytes", int64(2*1024*1024*1024))

	// Publish defaults
	viper.SetDefault("publish.targets", "youtube,facebook")
	viper.SetDefault("publish.max_retries", 2)
	viper.SetDefault("publish.retry_base_delay_ms", 500)
	viper.SetDefault("publish.inter_delay_sec", 2)
	viper.SetDefault("publish.inter_jitter_sec", 3)
	viper.SetDefault("publish.preflight_timeout", 30)
	viper.SetDefault("publish.upload_timeout", 300)
	viper.SetDefault("publish.job_timeout_min", 30)
	viper.SetDefault("publish.deadline_margin", 60)

	// Platform defaults
	viper.SetDefault("youtube.category_id", "25")
	viper.SetDefault("youtube.privacy_status", "public")
	viper.SetDefault("youtube.preflight", true)
	viper.SetDefault("youtube.max_size_bytes", 0)
	viper.SetDefault("facebook.graph_base_url", "https://graph.facebook.com/v19.0")
	viper.SetDefault("facebook.graph_video_base_url", "https://graph-video.facebook.com/v19.0")
	viper.SetDefault("facebook.preflight", true)
	viper.SetDefault("facebook.max_size_bytes", int64(1024*1024*1024))
	viper.SetDefault("buffer.base_url", "https://api.bufferapp.com/1")
	viper.SetDefault("buffer.preflight", true)
	viper.SetDefault("buffer.max_size_bytes", int64(1024*1024*1024))

	// Schedule defaults
	viper.SetDefault("schedule.enabled", false)
	viper.SetDefault("schedule.spec", "*/10 * * * *")
	viper.SetDefault("schedule.window_start", 6)
	viper.SetDefault("schedule.window_end", 21)
	viper.SetDefault("schedule.timezone", "America/Detroit")
	viper.SetDefault("schedule.max_scan", 5)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		OIDC: OIDCConfig{
			Issuer:   viper.GetString("oidc.issuer"),
			ClientID: viper.GetString("oidc.client_id"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
		RateLimit: RateLimitConfig{
			PublishPerHour: viper.GetInt("ratelimit.publish_per_hour"),
			ScanPerMin:     viper.GetInt("ratelimit.scan_per_min"),
		},
		Hooks: HooksConfig{
			Secret: viper.GetString("hooks.secret"),
		},
		Storage: StorageConfig{
			Driver:          viper.GetString("storage.driver"),
			Bucket:          viper.GetString("storage.bucket"),
			Region:          viper.GetString("storage.region"),
			Endpoint:        viper.GetString("storage.endpoint"),
			AccessKeyID:     viper.GetString("storage.access_key_id"),
			SecretAccessKey: viper.GetString("storage.secret_access_key"),
			CredentialsFile: viper.GetString("storage.credentials_file"),
		},
		Ingest: IngestConfig{
			Prefix:       viper.GetString("ingest.prefix"),
			MarkerPrefix: viper.GetString("ingest.marker_prefix"),
			Extensions:   splitList(viper.GetString("ingest.extensions")),
			MaxSizeBytes: viper.GetInt64("ingest.max_size_bytes"),
		},
		Publish: PublishConfig{
			Targets:          splitList(viper.GetString("publish.targets")),
			MaxRetries:       viper.GetInt("publish.max_retries"),
			RetryBaseDelayMS: viper.GetInt("publish.retry_base_delay_ms"),
			InterDelaySec:    viper.GetInt("publish.inter_delay_sec"),
			InterJitterSec:   viper.GetInt("publish.inter_jitter_sec"),
			PreflightTimeout: viper.GetInt("publish.preflight_timeout"),
			UploadTimeout:    viper.GetInt("publish.upload_timeout"),
			JobTimeoutMin:    viper.GetInt("publish.job_timeout_min"),
			DeadlineMargin:   viper.GetInt("publish.deadline_margin"),
		},
		YouTube: YouTubeConfig{
			CategoryID:    viper.GetString("youtube.category_id"),
			PrivacyStatus: viper.GetString("youtube.privacy_status"),
			Preflight:     viper.GetBool("youtube.preflight"),
			MaxSizeBytes:  viper.GetInt64("youtube.max_size_bytes"),
		},
		Facebook: FacebookConfig{
			GraphBaseURL:      viper.GetString("facebook.graph_base_url"),
			GraphVideoBaseURL: viper.GetString("facebook.graph_video_base_url"),
			Preflight:         viper.GetBool("facebook.preflight"),
			MaxSizeBytes:      viper.GetInt64("facebook.max_size_bytes"),
		},
		Buffer: BufferConfig{
			BaseURL:      viper.GetString("buffer.base_url"),
			Preflight:    viper.GetBool("buffer.preflight"),
			MaxSizeBytes: viper.GetInt64("buffer.max_size_bytes"),
		},
		Schedule: ScheduleConfig{
			Enabled:     viper.GetBool("schedule.enabled"),
			Spec:        viper.GetString("schedule.spec"),
			WindowStart: viper.GetInt("schedule.window_start"),
			WindowEnd:   viper.GetInt("schedule.window_end"),
			Timezone:    viper.GetString("schedule.timezone"),
			MaxScan:     viper.GetInt("schedule.max_scan"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "s3", "gcs":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if len(c.Publish.Targets) == 0 {
		return fmt.Errorf("publish.targets must not be empty")
	}
	for _, t := range c.Publish.Targets {
		switch t {
		case "youtube", "facebook", "buffer":
		default:
			return fmt.Errorf("unknown publish target %q", t)
		}
	}
	if c.Schedule.WindowStart < 0 || c.Schedule.WindowStart > 23 ||
		c.Schedule.WindowEnd < 1 || c.Schedule.WindowEnd > 24 ||
		c.Schedule.WindowStart >= c.Schedule.WindowEnd {
		return fmt.Errorf("invalid posting window %d-%d", c.Schedule.WindowStart, c.Schedule.WindowEnd)
	}
	return nil
}

// splitList parses a comma-separated env value into trimmed entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
