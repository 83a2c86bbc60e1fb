package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s3pipe/internal/upload"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stream-config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "STORAGE_BACKEND", "S3_REGION", "MINIO_USE_SSL", "DEBUG"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, BackendS3, cfg.StorageBackend)
	assert.Equal(t, "us-east-1", cfg.S3Region)
	assert.True(t, cfg.MinioUseSSL)
	assert.False(t, cfg.Debug)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "minio")
	t.Setenv("S3_ENDPOINT", "localhost:9000")
	t.Setenv("MINIO_USE_SSL", "false")
	t.Setenv("DEBUG", "true")
	t.Setenv("API_KEY", "secret")

	cfg := Load()
	assert.Equal(t, BackendMinio, cfg.StorageBackend)
	assert.Equal(t, "localhost:9000", cfg.S3Endpoint)
	assert.False(t, cfg.MinioUseSSL)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "secret", cfg.APIKey)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "s3", cfg: Config{S3Bucket: "b", StorageBackend: BackendS3}},
		{name: "minio", cfg: Config{S3Bucket: "b", StorageBackend: BackendMinio, S3Endpoint: "localhost:9000"}},
		{name: "missing bucket", cfg: Config{StorageBackend: BackendS3}, wantErr: "S3_BUCKET"},
		{name: "minio without endpoint", cfg: Config{S3Bucket: "b", StorageBackend: BackendMinio}, wantErr: "S3_ENDPOINT"},
		{name: "unknown backend", cfg: Config{S3Bucket: "b", StorageBackend: "gcs"}, wantErr: "gcs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadStreamConfig_MissingFile(t *testing.T) {
	sc, err := LoadStreamConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultStreamConfig(), sc)
}

func TestLoadStreamConfig(t *testing.T) {
	path := writeConfig(t, `
part_size: 8MiB
max_concurrent_uploads: 4
auto_abort: false
part_number_encoding: text
abort_timeout: 45s
`)

	sc, err := LoadStreamConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ByteSize(8*1024*1024), sc.PartSize)
	assert.Equal(t, ByteSize(upload.MinPartSize), sc.PartSizeFloor, "unset keys keep defaults")
	assert.Equal(t, "8MiB", sc.PartSize.String())

	opts := sc.Options(nil, nil)
	assert.Equal(t, 8*1024*1024, opts.PartSize)
	assert.Equal(t, 4, opts.MaxConcurrentUploads)
	assert.True(t, opts.DisableAutoAbort)
	assert.Equal(t, upload.EncodingText, opts.PartNumberEncoding)
	assert.Equal(t, 45*time.Second, opts.AbortTimeout)
}

func TestLoadStreamConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "bad size", content: "part_size: lots", wantErr: "invalid size"},
		{name: "negative size", content: "part_size: -1", wantErr: "invalid size"},
		{name: "zero concurrency", content: "max_concurrent_uploads: 0", wantErr: "max_concurrent_uploads"},
		{name: "unknown encoding", content: "part_number_encoding: binary", wantErr: "binary"},
		{name: "bad duration", content: "abort_timeout: soon", wantErr: "invalid duration"},
		{name: "not yaml", content: "part_size: [", wantErr: "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadStreamConfig(writeConfig(t, tt.content))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestStreamConfig_DefaultOptions(t *testing.T) {
	opts := DefaultStreamConfig().Options(nil, nil)

	assert.Equal(t, upload.MinPartSize, opts.PartSize)
	assert.Equal(t, 1, opts.MaxConcurrentUploads)
	assert.False(t, opts.DisableAutoAbort)
	assert.Equal(t, upload.EncodingNumeric, opts.PartNumberEncoding)
}

func TestParseByteSize(t *testing.T) {
	size, err := ParseByteSize("8MiB")
	require.NoError(t, err)
	assert.Equal(t, ByteSize(8*1024*1024), size)

	_, err = ParseByteSize("-5mb")
	assert.ErrorContains(t, err, "must not be negative")
}

func TestByteSize_Int(t *testing.T) {
	n, err := ByteSize(16 * 1024 * 1024).Int()
	require.NoError(t, err)
	assert.Equal(t, 16*1024*1024, n)

	n, err = ByteSize(math.MaxInt).Int()
	require.NoError(t, err)
	assert.Equal(t, math.MaxInt, n)

	if uint64(math.MaxInt) < math.MaxInt64 {
		_, err = ByteSize(math.MaxInt64).Int()
		assert.ErrorContains(t, err, "too large")

		sc := DefaultStreamConfig()
		sc.PartSize = ByteSize(math.MaxInt64)
		assert.ErrorContains(t, sc.Validate(), "part_size")
	}
}
