package config

import (
	stderrors "errors"
	"fmt"
	"net"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"filedrop/internal/progress"
	"filedrop/internal/protocol"
	"filedrop/internal/stream"
)

// Constants for default values
const (
	DefaultListenAddr      = "0.0.0.0:5000"
	DefaultServerAddr      = "localhost:5000"
	DefaultUploadDir       = "./uploads"
	DefaultWorkers         = 10
	DefaultQueueSize       = 10
	DefaultChunkSize       = stream.DefaultChunkSize
	DefaultBufferSize      = 256 * 1024
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultReportInterval  = progress.DefaultInterval
	DefaultReporterWorkers = progress.DefaultSchedulerWorkers
	DefaultShutdownGrace   = 10 * time.Second
	DefaultTimeout         = 2 * time.Minute
	DefaultLogLevel        = "info"

	// EnvPrefix is prepended to every environment variable override
	EnvPrefix = "FILEDROP"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Server mode settings
	IsServer        bool          `mapstructure:"-"`
	ListenAddress   string        `mapstructure:"listen"`
	UploadDir       string        `mapstructure:"upload_dir"`
	Workers         int           `mapstructure:"workers" validate:"gt=0"`
	QueueSize       int           `mapstructure:"queue" validate:"gte=0"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	ReportInterval  time.Duration `mapstructure:"report_interval" validate:"gt=0"`
	ReporterWorkers int           `mapstructure:"reporter_workers" validate:"gt=0"`
	ShutdownGrace   time.Duration `mapstructure:"shutdown_grace" validate:"gte=0"`

	// Client mode settings
	ServerAddress string        `mapstructure:"connect"`
	FilePath      string        `mapstructure:"file"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gt=0"`
	ShowProgress  bool          `mapstructure:"progress"`

	// Common parameters
	ChunkSize    int    `mapstructure:"chunk_size" validate:"gt=0"`
	BufferSize   int    `mapstructure:"buffer_size" validate:"gt=0"`
	MaxNameBytes uint32 `mapstructure:"max_name_bytes" validate:"gt=0"`
	MaxFileSize  int64  `mapstructure:"max_file_size" validate:"gte=0"`
	LogLevel     string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFile      string `mapstructure:"log_file"`
}

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("listen", DefaultListenAddr)
	v.SetDefault("upload_dir", DefaultUploadDir)
	v.SetDefault("workers", DefaultWorkers)
	v.SetDefault("queue", DefaultQueueSize)
	v.SetDefault("read_timeout", DefaultReadTimeout)
	v.SetDefault("write_timeout", DefaultWriteTimeout)
	v.SetDefault("report_interval", DefaultReportInterval)
	v.SetDefault("reporter_workers", DefaultReporterWorkers)
	v.SetDefault("shutdown_grace", DefaultShutdownGrace)
	v.SetDefault("connect", DefaultServerAddr)
	v.SetDefault("timeout", DefaultTimeout)
	v.SetDefault("progress", true)
	v.SetDefault("chunk_size", DefaultChunkSize)
	v.SetDefault("buffer_size", DefaultBufferSize)
	v.SetDefault("max_name_bytes", protocol.DefaultMaxNameBytes)
	v.SetDefault("max_file_size", int64(protocol.DefaultMaxFileSize))
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_file", "")
}

// NewViper returns a viper instance with defaults and FILEDROP_* environment
// overrides wired in
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load builds a validated Config from v
func Load(v *viper.Viper, isServer bool) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.IsServer = isServer

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns a Config populated with the default values
func Default(isServer bool) *Config {
	return &Config{
		IsServer:        isServer,
		ListenAddress:   DefaultListenAddr,
		UploadDir:       DefaultUploadDir,
		Workers:         DefaultWorkers,
		QueueSize:       DefaultQueueSize,
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		ReportInterval:  DefaultReportInterval,
		ReporterWorkers: DefaultReporterWorkers,
		ShutdownGrace:   DefaultShutdownGrace,
		ServerAddress:   DefaultServerAddr,
		Timeout:         DefaultTimeout,
		ShowProgress:    true,
		ChunkSize:       DefaultChunkSize,
		BufferSize:      DefaultBufferSize,
		MaxNameBytes:    protocol.DefaultMaxNameBytes,
		MaxFileSize:     protocol.DefaultMaxFileSize,
		LogLevel:        DefaultLogLevel,
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their configuration key rather than the Go name
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return describe(fieldErrs[0])
		}
		return err
	}

	if c.MaxFileSize > protocol.DefaultMaxFileSize {
		return fmt.Errorf("max_file_size cannot exceed %d", int64(protocol.DefaultMaxFileSize))
	}

	if c.IsServer {
		if err := validateAddress("listen", c.ListenAddress); err != nil {
			return err
		}
		if c.UploadDir == "" {
			return fmt.Errorf("upload_dir is required in server mode")
		}
		return nil
	}

	if err := validateAddress("connect", c.ServerAddress); err != nil {
		return err
	}
	if c.FilePath == "" {
		return fmt.Errorf("file path is required in client mode")
	}
	return nil
}

func validateAddress(key, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s is required", key)
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%s must be a host:port address, got %q", key, addr)
	}
	if err := validate.Var(host, "omitempty,hostname_rfc1123|ip"); err != nil {
		return fmt.Errorf("%s has an invalid host %q", key, host)
	}
	if err := validate.Var(port, "required,number,max=5"); err != nil {
		return fmt.Errorf("%s has an invalid port %q", key, port)
	}
	if n, _ := strconv.Atoi(port); n > 65535 {
		return fmt.Errorf("%s has an invalid port %q", key, port)
	}
	return nil
}

// describe turns a validator failure into a short operator-facing message
func describe(fe validator.FieldError) error {
	switch fe.Tag() {
	case "gt":
		return fmt.Errorf("%s must be positive", fe.Field())
	case "gte":
		return fmt.Errorf("%s cannot be negative", fe.Field())
	case "required":
		return fmt.Errorf("%s is required", fe.Field())
	case "oneof":
		return fmt.Errorf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fe.Value())
	default:
		return fmt.Errorf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

// Limits returns the protocol bounds configured for this process
func (c *Config) Limits() protocol.Limits {
	return protocol.Limits{MaxNameBytes: c.MaxNameBytes, MaxFileSize: c.MaxFileSize}
}

// String returns a string representation of the config for logging
func (c *Config) String() string {
	if c.IsServer {
		return fmt.Sprintf("Config{Mode: Server, Listen: %s, UploadDir: %s, Workers: %d, Queue: %d, ChunkSize: %d, ReadTimeout: %s}",
			c.ListenAddress, c.UploadDir, c.Workers, c.QueueSize, c.ChunkSize, c.ReadTimeout)
	}
	return fmt.Sprintf("Config{Mode: Client, Connect: %s, ChunkSize: %d, BufferSize: %d, Timeout: %s}",
		c.ServerAddress, c.ChunkSize, c.BufferSize, c.Timeout)
}
