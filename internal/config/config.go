// Package config provides the configuration structure for the narration-service.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	validator "github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Defaults applied to zero values by ApplyDefaults.
const (
	DefaultMaxRequests         = 90
	DefaultWindowSeconds       = 60
	DefaultMaxRetries          = 5
	DefaultBaseDelayMillis     = 1000
	DefaultAwaitTimeoutSeconds = 600
	DefaultPollIntervalSeconds = 5
	DefaultRequestTimeoutSec   = 30
	DefaultLanguageCode        = "de-DE"
	DefaultVoiceName           = "de-DE-Chirp3-HD-Gacrux"
	DefaultFormat              = "mp3"
	DefaultBitrate             = "128k"
	DefaultFFmpegBinary        = "ffmpeg"
	DefaultFFprobeBinary       = "ffprobe"
	DefaultMaxWorkers          = 3
	DefaultMinStoryMinutes     = 10
	DefaultMaxStoryMinutes     = 45
	DefaultMessageTimeoutSec   = 900
	DefaultMaxConcurrentJobs   = 2
	DefaultStagingBucket       = "NARRATION_STAGING"
	DefaultStagingTTLSeconds   = 86400
	DefaultServerAddress       = ":9090"
	DefaultLimiterName         = "synthesis"
)

// NATS defaults.
const (
	DefaultNATSURL       = "nats://127.0.0.1:4222"
	DefaultScriptSubject = "narration.script.ready"
	DefaultScriptBucket  = "SCRIPTS"
	DefaultAudioBucket   = "AUDIO_FILES"
)

// ErrRedisAddressRequired is returned when the redis backend has no address.
var ErrRedisAddressRequired = errors.New("redis.address is required for the redis rate limit backend")

// Rate limiter backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                      string `toml:"url"                         validate:"required"`
	ScriptSubject            string `toml:"script_subject"              validate:"required"`
	AudioChunkCreatedSubject string `toml:"audio_chunk_created_subject"`
	ScriptObjectStoreBucket  string `toml:"script_object_store_bucket"  validate:"required"`
	AudioObjectStoreBucket   string `toml:"audio_object_store_bucket"   validate:"required"`
	StagingBucket            string `toml:"staging_bucket"              validate:"required"`
	StagingTTLSeconds        int    `toml:"staging_ttl_seconds"         validate:"gte=0"`
}

// SynthesisConfig describes the remote long-audio synthesis API.
type SynthesisConfig struct {
	BaseURL               string `toml:"base_url"                validate:"required,url"`
	APIKey                string `toml:"api_key"`
	APIKeyEnv             string `toml:"api_key_env"`
	LanguageCode          string `toml:"language_code"           validate:"required"`
	VoiceName             string `toml:"voice_name"              validate:"required"`
	MaxRetries            int    `toml:"max_retries"             validate:"gte=1"`
	BaseDelayMillis       int    `toml:"base_delay_ms"           validate:"gte=0"`
	AwaitTimeoutSeconds   int    `toml:"await_timeout_seconds"   validate:"gte=1"`
	PollIntervalSeconds   int    `toml:"poll_interval_seconds"   validate:"gte=1"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds" validate:"gte=1"`
}

// RateLimitConfig sets the shared admission ceiling. Limiters with the same
// name on the redis backend share one window.
type RateLimitConfig struct {
	Name          string `toml:"name"           validate:"required"`
	Backend       string `toml:"backend"        validate:"oneof=memory redis"`
	MaxRequests   int    `toml:"max_requests"   validate:"gte=1"`
	WindowSeconds int    `toml:"window_seconds" validate:"gte=1"`
}

// RedisConfig is used when the rate limiter backend is redis.
type RedisConfig struct {
	Address  string `toml:"address"`
	Password string `toml:"password"`
	DB       int    `toml:"db"       validate:"gte=0"`
}

// OutputConfig selects the delivered audio format.
type OutputConfig struct {
	Format       string `toml:"format"        validate:"oneof=wav mp3 flac ogg m4a aac"`
	Bitrate      string `toml:"bitrate"`
	SampleRate   int    `toml:"sample_rate"   validate:"gte=0"`
	Channels     int    `toml:"channels"      validate:"gte=0"`
	FFmpegBinary  string `toml:"ffmpeg_binary"  validate:"required"`
	FFprobeBinary string `toml:"ffprobe_binary" validate:"required"`
}

// StoryConfig configures story bundle generation and the library sweep
// that removes bundles outside the accepted playtime.
type StoryConfig struct {
	DataDir            string `toml:"data_dir"`
	MaxWorkers         int    `toml:"max_workers"          validate:"gte=1"`
	MinDurationMinutes int    `toml:"min_duration_minutes" validate:"gte=0"`
	MaxDurationMinutes int    `toml:"max_duration_minutes" validate:"gtefield=MinDurationMinutes"`
	RequireCover       bool   `toml:"require_cover"`
}

// ServerConfig configures the worker and its ops HTTP endpoint.
type ServerConfig struct {
	Address               string `toml:"address"                 validate:"required"`
	MessageTimeoutSeconds int    `toml:"message_timeout_seconds" validate:"gte=1"`
	MaxConcurrentJobs     int    `toml:"max_concurrent_jobs"     validate:"gte=1"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	WorkDir     string `toml:"work_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS      NATSConfig      `toml:"nats"`
	Synthesis SynthesisConfig `toml:"synthesis"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Redis     RedisConfig     `toml:"redis"`
	Output    OutputConfig    `toml:"output"`
	Story     StoryConfig     `toml:"story"`
	Server    ServerConfig    `toml:"server"`
	Paths     PathsConfig     `toml:"paths"`
}

// Load loads the configuration for the narration-service through the
// central configurator, then applies defaults and validates it.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return prepare(&cfg)
}

// LoadFile reads a TOML configuration file, applies defaults and validates it.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return prepare(&cfg)
}

func prepare(cfg *Config) (*Config, error) {
	cfg.ApplyDefaults()

	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyDefaults fills every zero-valued tunable with its default.
func (c *Config) ApplyDefaults() {
	defaultString(&c.NATS.URL, DefaultNATSURL)
	defaultString(&c.NATS.ScriptSubject, DefaultScriptSubject)
	defaultString(&c.NATS.ScriptObjectStoreBucket, DefaultScriptBucket)
	defaultString(&c.NATS.AudioObjectStoreBucket, DefaultAudioBucket)
	defaultString(&c.NATS.StagingBucket, DefaultStagingBucket)
	defaultInt(&c.NATS.StagingTTLSeconds, DefaultStagingTTLSeconds)

	defaultString(&c.Synthesis.LanguageCode, DefaultLanguageCode)
	defaultString(&c.Synthesis.VoiceName, DefaultVoiceName)
	defaultInt(&c.Synthesis.MaxRetries, DefaultMaxRetries)
	defaultInt(&c.Synthesis.BaseDelayMillis, DefaultBaseDelayMillis)
	defaultInt(&c.Synthesis.AwaitTimeoutSeconds, DefaultAwaitTimeoutSeconds)
	defaultInt(&c.Synthesis.PollIntervalSeconds, DefaultPollIntervalSeconds)
	defaultInt(&c.Synthesis.RequestTimeoutSeconds, DefaultRequestTimeoutSec)

	defaultString(&c.RateLimit.Name, DefaultLimiterName)
	defaultString(&c.RateLimit.Backend, BackendMemory)
	defaultInt(&c.RateLimit.MaxRequests, DefaultMaxRequests)
	defaultInt(&c.RateLimit.WindowSeconds, DefaultWindowSeconds)

	defaultString(&c.Output.Format, DefaultFormat)
	defaultString(&c.Output.Bitrate, DefaultBitrate)
	defaultString(&c.Output.FFmpegBinary, DefaultFFmpegBinary)
	defaultString(&c.Output.FFprobeBinary, DefaultFFprobeBinary)

	defaultInt(&c.Story.MaxWorkers, DefaultMaxWorkers)
	defaultInt(&c.Story.MinDurationMinutes, DefaultMinStoryMinutes)
	defaultInt(&c.Story.MaxDurationMinutes, DefaultMaxStoryMinutes)

	defaultString(&c.Server.Address, DefaultServerAddress)
	defaultInt(&c.Server.MessageTimeoutSeconds, DefaultMessageTimeoutSec)
	defaultInt(&c.Server.MaxConcurrentJobs, DefaultMaxConcurrentJobs)

	defaultString(&c.Paths.BaseLogsDir, os.TempDir())
	defaultString(&c.Paths.WorkDir, os.TempDir())
}

// Validate checks the struct tags and cross-field rules.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	err := validate.Struct(c)
	if err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	if c.RateLimit.Backend == BackendRedis && c.Redis.Address == "" {
		return fmt.Errorf("validate config: %w", ErrRedisAddressRequired)
	}

	return nil
}

// ResolveAPIKey returns the configured API key, preferring the environment
// variable named by api_key_env when it is set.
func (s SynthesisConfig) ResolveAPIKey() string {
	if s.APIKeyEnv != "" {
		if key := os.Getenv(s.APIKeyEnv); key != "" {
			return key
		}
	}

	return s.APIKey
}

// Window returns the rate limit window.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// BaseDelay returns the first backoff delay.
func (s SynthesisConfig) BaseDelay() time.Duration {
	return time.Duration(s.BaseDelayMillis) * time.Millisecond
}

// AwaitTimeout returns the per-job completion deadline.
func (s SynthesisConfig) AwaitTimeout() time.Duration {
	return time.Duration(s.AwaitTimeoutSeconds) * time.Second
}

// PollInterval returns the delay between status polls.
func (s SynthesisConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

// RequestTimeout returns the per-HTTP-request timeout.
func (s SynthesisConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

// StagingTTL returns how long unfetched staging objects live.
func (n NATSConfig) StagingTTL() time.Duration {
	return time.Duration(n.StagingTTLSeconds) * time.Second
}

// MinDuration is the shortest playtime a kept story may have.
func (s StoryConfig) MinDuration() time.Duration {
	return time.Duration(s.MinDurationMinutes) * time.Minute
}

// MaxDuration is the longest playtime a kept story may have.
func (s StoryConfig) MaxDuration() time.Duration {
	return time.Duration(s.MaxDurationMinutes) * time.Minute
}

// MessageTimeout bounds the handling of one worker message.
func (s ServerConfig) MessageTimeout() time.Duration {
	return time.Duration(s.MessageTimeoutSeconds) * time.Second
}

func defaultString(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func defaultInt(field *int, value int) {
	if *field == 0 {
		*field = value
	}
}
