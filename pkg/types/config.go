package types

import "time"

// HTTPConfig holds shared HTTP settings used by components that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests (e.g. "pms/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// APIConfig holds settings for the E-utilities client.
type APIConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// BaseURL is the E-utilities root (default https://eutils.ncbi.nlm.nih.gov/entrez/eutils).
	BaseURL string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`

	// Email is the contact address NCBI requires with every request.
	Email string `json:"email" yaml:"email" mapstructure:"email"`

	// Tool identifies the calling software to NCBI (default "pms").
	Tool string `json:"tool" yaml:"tool" mapstructure:"tool"`

	// APIKey is optional and raises the rate ceiling to 10 requests per second.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// RequestsPerSecond is the ceiling without an API key (default 3).
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" mapstructure:"requests_per_second"`

	// MaxAttempts is the total number of attempts per batch, the first one
	// included, on transient failures (default 3).
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`

	// RetryDelay is the base backoff delay; it doubles per attempt (default 5s).
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay" mapstructure:"retry_delay"`
}

// EffectiveRate returns the requests-per-second ceiling, accounting for the API key.
func (c APIConfig) EffectiveRate() float64 {
	if c.APIKey != "" {
		return 10
	}
	if c.RequestsPerSecond <= 0 {
		return 3
	}
	return c.RequestsPerSecond
}

// StorageDriver selects the record store backend.
type StorageDriver string

const (
	DriverSQLite   StorageDriver = "sqlite"
	DriverPostgres StorageDriver = "postgres"
)

// StorageConfig holds settings for the project registry and record stores.
type StorageConfig struct {
	// Driver selects sqlite (default) or postgres.
	Driver StorageDriver `json:"driver" yaml:"driver" mapstructure:"driver"`

	// DatabasePath is the SQLite file (default ~/.local/share/pms/pms.db).
	DatabasePath string `json:"database_path" yaml:"database_path" mapstructure:"database_path"`

	// DSN is the Postgres connection string.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty" mapstructure:"dsn"`
}

// SearchConfig holds defaults for search runs.
type SearchConfig struct {
	// BatchSize is the default page and fetch batch size (default 100).
	BatchSize int `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`

	// MaxResults is the default bound on processed records (default 100, 0 = unbounded).
	MaxResults int `json:"max_results" yaml:"max_results" mapstructure:"max_results"`
}

// LoggingConfig holds settings for the zap logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error (default info).
	Level string `json:"level" yaml:"level" mapstructure:"level"`

	// Format is json or console (default console).
	Format string `json:"format" yaml:"format" mapstructure:"format"`

	// File, when set, receives a copy of every log line.
	File string `json:"file,omitempty" yaml:"file,omitempty" mapstructure:"file"`
}

// ServerConfig holds settings for the HTTP API.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"`

	// APIKey, when set, must be sent in the X-API-KEY header on every
	// request except health checks.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// RefreshSchedule is a cron spec for re-running each project's latest
	// query. Empty disables the refresh job.
	RefreshSchedule string `json:"refresh_schedule,omitempty" yaml:"refresh_schedule,omitempty" mapstructure:"refresh_schedule"`
}

// S3Config holds settings for uploading exports to S3-compatible storage.
type S3Config struct {
	Bucket    string `json:"bucket,omitempty" yaml:"bucket,omitempty" mapstructure:"bucket"`
	Region    string `json:"region,omitempty" yaml:"region,omitempty" mapstructure:"region"`
	Endpoint  string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" mapstructure:"endpoint"`
	AccessKey string `json:"access_key,omitempty" yaml:"access_key,omitempty" mapstructure:"access_key"`
	SecretKey string `json:"secret_key,omitempty" yaml:"secret_key,omitempty" mapstructure:"secret_key"`
	Prefix    string `json:"prefix,omitempty" yaml:"prefix,omitempty" mapstructure:"prefix"`
}

// ExportConfig holds export settings.
type ExportConfig struct {
	S3 S3Config `json:"s3" yaml:"s3" mapstructure:"s3"`
}

// Config groups all settings. The CLI resolves it from file, environment,
// secrets, and flags; library code only ever receives resolved values.
type Config struct {
	API     APIConfig     `json:"api" yaml:"api" mapstructure:"api"`
	Storage StorageConfig `json:"storage" yaml:"storage" mapstructure:"storage"`
	Search  SearchConfig  `json:"search" yaml:"search" mapstructure:"search"`
	Logging LoggingConfig `json:"logging" yaml:"logging" mapstructure:"logging"`
	Server  ServerConfig  `json:"server" yaml:"server" mapstructure:"server"`
	Export  ExportConfig  `json:"export" yaml:"export" mapstructure:"export"`
}
