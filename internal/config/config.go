package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// The environment contract. Every variable listed here is required at startup;
// a missing or malformed value is a fatal error, never a runtime-recoverable one.
const (
	EnvMediaRoot      = "MEDIA_ROOT"
	EnvMediaURL       = "MEDIA_URL"
	EnvMediaServeHost = "MEDIA_SERVE_HOST"
	EnvServerHost     = "BP_SERVER_HOST"
	EnvAuthToken      = "BP_SERVER_AUTH_TOKEN"
	EnvProcessHard    = "PROCESS_HARD"
	EnvPostgresURL    = "POSTGRES_URL"
	EnvWorkerURL      = "BP_WORKER_URL"

	// Optional integrations.
	EnvRedisURL    = "REDIS_URL"
	EnvS3Bucket    = "S3_BUCKET"
	EnvS3Region    = "S3_REGION"
	EnvS3Endpoint  = "S3_ENDPOINT"
	EnvS3AccessKey = "S3_ACCESS_KEY"
	EnvS3SecretKey = "S3_SECRET_KEY"
)

type LogConfig struct {
	Level  string `yaml:"level"`  // trace|debug|info|warn|error
	Format string `yaml:"format"` // json|console
}

type DispatcherConfig struct {
	Workers       int           `yaml:"workers"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	WorkerTimeout time.Duration `yaml:"worker_timeout"`
	BackoffBase   time.Duration `yaml:"backoff_base"`
	BackoffCap    time.Duration `yaml:"backoff_cap"`
	StaleAfter    time.Duration `yaml:"stale_after"`
}

type ClassifierConfig struct {
	MaxBytes  int64 `yaml:"max_bytes"`  // payloads above this go hard
	MaxPixels int   `yaml:"max_pixels"` // w*h above this goes hard
}

type ReaperConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Retention time.Duration `yaml:"retention"`
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests"` // per window, per client
	Window   time.Duration `yaml:"window"`
}

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

func (s S3Config) Enabled() bool { return s.Bucket != "" }

// Tunables is the optional YAML side of the configuration. Everything here
// has a default; the file only exists to override them.
type Tunables struct {
	Log        LogConfig        `yaml:"log"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Reaper     ReaperConfig     `yaml:"reaper"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
}

type Config struct {
	MediaRoot      string
	MediaURL       string
	MediaServeHost string
	ServerHost     string // bind address for the request gateway
	AuthToken      string
	ProcessHard    bool
	PostgresURL    string
	WorkerURL      string

	RedisURL string
	S3       S3Config

	Tunables
}

// Load reads the required environment contract plus the optional tunables
// file. The processing mode is read exactly once here; changing PROCESS_HARD
// requires a restart.
func Load(tunablesPath string) (*Config, error) {
	var cfg Config

	if tunablesPath != "" {
		b, err := os.ReadFile(tunablesPath)
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg.Tunables); err != nil {
				return nil, fmt.Errorf("parse tunables: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read tunables: %w", err)
		}
	}
	applyDefaults(&cfg.Tunables)

	required := []struct {
		env string
		dst *string
	}{
		{EnvMediaRoot, &cfg.MediaRoot},
		{EnvMediaURL, &cfg.MediaURL},
		{EnvMediaServeHost, &cfg.MediaServeHost},
		{EnvServerHost, &cfg.ServerHost},
		{EnvAuthToken, &cfg.AuthToken},
		{EnvPostgresURL, &cfg.PostgresURL},
		{EnvWorkerURL, &cfg.WorkerURL},
	}
	for _, r := range required {
		v := os.Getenv(r.env)
		if v == "" {
			return nil, fmt.Errorf("%s is required", r.env)
		}
		*r.dst = v
	}

	hard := os.Getenv(EnvProcessHard)
	if hard == "" {
		return nil, fmt.Errorf("%s is required", EnvProcessHard)
	}
	b, err := strconv.ParseBool(hard)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", EnvProcessHard, err)
	}
	cfg.ProcessHard = b

	cfg.RedisURL = os.Getenv(EnvRedisURL)
	cfg.S3 = S3Config{
		Bucket:    os.Getenv(EnvS3Bucket),
		Region:    os.Getenv(EnvS3Region),
		Endpoint:  os.Getenv(EnvS3Endpoint),
		AccessKey: os.Getenv(EnvS3AccessKey),
		SecretKey: os.Getenv(EnvS3SecretKey),
	}

	return &cfg, nil
}

func applyDefaults(t *Tunables) {
	if t.Log.Level == "" {
		t.Log.Level = "info"
	}
	if t.Log.Format == "" {
		t.Log.Format = "json"
	}
	if t.Dispatcher.Workers <= 0 {
		t.Dispatcher.Workers = 4
	}
	if t.Dispatcher.PollInterval <= 0 {
		t.Dispatcher.PollInterval = 500 * time.Millisecond
	}
	if t.Dispatcher.MaxRetries <= 0 {
		t.Dispatcher.MaxRetries = 2
	}
	if t.Dispatcher.WorkerTimeout <= 0 {
		t.Dispatcher.WorkerTimeout = 60 * time.Second
	}
	if t.Dispatcher.BackoffBase <= 0 {
		t.Dispatcher.BackoffBase = time.Second
	}
	if t.Dispatcher.BackoffCap <= 0 {
		t.Dispatcher.BackoffCap = 30 * time.Second
	}
	if t.Dispatcher.StaleAfter <= 0 {
		// Must exceed the worker timeout or in-flight jobs get requeued.
		t.Dispatcher.StaleAfter = t.Dispatcher.WorkerTimeout + 2*time.Minute
	}
	if t.Classifier.MaxBytes <= 0 {
		t.Classifier.MaxBytes = 4 << 20 // 4 MiB
	}
	if t.Classifier.MaxPixels <= 0 {
		t.Classifier.MaxPixels = 4_000_000
	}
	if t.Reaper.Interval <= 0 {
		t.Reaper.Interval = 30 * time.Minute
	}
	if t.Reaper.Retention <= 0 {
		t.Reaper.Retention = 48 * time.Hour
	}
	if t.RateLimit.Requests <= 0 {
		t.RateLimit.Requests = 30
	}
	if t.RateLimit.Window <= 0 {
		t.RateLimit.Window = time.Minute
	}
}
