package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	units "github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	"s3pipe/internal/upload"
)

const (
	BackendS3    = "s3"
	BackendMinio = "minio"
)

type Config struct {
	Port             string
	StorageBackend   string
	S3Bucket         string
	S3Region         string
	S3Endpoint       string
	AWSAccessKey     string
	AWSSecretKey     string
	MinioUseSSL      bool
	APIKey           string
	StreamConfigPath string
	Debug            bool
}

func Load() *Config {
	return &Config{
		Port:             getEnv("PORT", "8080"),
		StorageBackend:   getEnv("STORAGE_BACKEND", BackendS3),
		S3Bucket:         getEnv("S3_BUCKET", ""),
		S3Region:         getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:       getEnv("S3_ENDPOINT", ""),
		AWSAccessKey:     getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:     getEnv("AWS_SECRET_ACCESS_KEY", ""),
		MinioUseSSL:      getEnvBool("MINIO_USE_SSL", true),
		APIKey:           getEnv("API_KEY", ""),
		StreamConfigPath: getEnv("STREAM_CONFIG_PATH", "stream-config.yaml"),
		Debug:            getEnvBool("DEBUG", false),
	}
}

// Validate reports settings the service cannot start without.
func (c *Config) Validate() error {
	if c.S3Bucket == "" {
		return errors.New("S3_BUCKET is required")
	}
	switch c.StorageBackend {
	case BackendS3:
	case BackendMinio:
		if c.S3Endpoint == "" {
			return errors.New("S3_ENDPOINT is required for the minio backend")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	return nil
}

// ByteSize is a size in bytes written as "8MiB", "5mb" or a plain number.
type ByteSize int64

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	size, err := ParseByteSize(raw)
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// ParseByteSize parses a size such as "8MiB".
func ParseByteSize(raw string) (ByteSize, error) {
	size, err := units.RAMInBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", raw, err)
	}
	if size < 0 {
		return 0, fmt.Errorf("invalid size %q: must not be negative", raw)
	}
	return ByteSize(size), nil
}

// Int returns b as an int. Sizes the platform int cannot hold are rejected
// rather than truncated.
func (b ByteSize) Int() (int, error) {
	if int64(b) > math.MaxInt {
		return 0, fmt.Errorf("size %s is too large for this platform", b)
	}
	return int(b), nil
}

func (b ByteSize) String() string {
	return units.BytesSize(float64(b))
}

// Duration is a time.Duration written as "30s" or "1m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// StreamConfig tunes the upload engine.
type StreamConfig struct {
	PartSize             ByteSize `yaml:"part_size"`
	PartSizeFloor        ByteSize `yaml:"part_size_floor"`
	MaxConcurrentUploads int      `yaml:"max_concurrent_uploads"`
	AutoAbort            *bool    `yaml:"auto_abort"`
	PartNumberEncoding   string   `yaml:"part_number_encoding"`
	AbortTimeout         Duration `yaml:"abort_timeout"`
}

func DefaultStreamConfig() *StreamConfig {
	autoAbort := true
	return &StreamConfig{
		PartSize:             ByteSize(upload.MinPartSize),
		PartSizeFloor:        ByteSize(upload.MinPartSize),
		MaxConcurrentUploads: upload.DefaultMaxConcurrentUploads,
		AutoAbort:            &autoAbort,
		PartNumberEncoding:   upload.EncodingNumeric.String(),
		AbortTimeout:         Duration(upload.DefaultAbortTimeout),
	}
}

// LoadStreamConfig reads the stream config at path. A missing file yields
// the defaults; keys absent from the file keep their default values.
func LoadStreamConfig(path string) (*StreamConfig, error) {
	config := DefaultStreamConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stream config: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse stream config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stream config %s: %w", path, err)
	}

	return config, nil
}

func (sc *StreamConfig) Validate() error {
	if _, err := sc.PartSize.Int(); err != nil {
		return fmt.Errorf("part_size: %w", err)
	}
	if _, err := sc.PartSizeFloor.Int(); err != nil {
		return fmt.Errorf("part_size_floor: %w", err)
	}
	if sc.MaxConcurrentUploads < 1 {
		return fmt.Errorf("max_concurrent_uploads must be at least 1, got %d", sc.MaxConcurrentUploads)
	}
	if _, ok := upload.ParseEncoding(sc.PartNumberEncoding); !ok {
		return fmt.Errorf("unknown part_number_encoding %q", sc.PartNumberEncoding)
	}
	if sc.AbortTimeout < 0 {
		return errors.New("abort_timeout must not be negative")
	}
	return nil
}

// Options maps the config onto upload.Options.
func (sc *StreamConfig) Options(logger log.Logger, onEvent func(upload.Event)) upload.Options {
	encoding, _ := upload.ParseEncoding(sc.PartNumberEncoding)
	return upload.Options{
		PartSize:             int(sc.PartSize),
		PartSizeFloor:        int(sc.PartSizeFloor),
		MaxConcurrentUploads: sc.MaxConcurrentUploads,
		DisableAutoAbort:     sc.AutoAbort != nil && !*sc.AutoAbort,
		PartNumberEncoding:   encoding,
		AbortTimeout:         time.Duration(sc.AbortTimeout),
		Logger:               logger,
		OnEvent:              onEvent,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}
