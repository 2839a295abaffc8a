package s3

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	t.Run("Full", func(t *testing.T) {
		cfg, err := ParseURL("s3://random-cache/device-7?region=eu-west-1&endpoint=http://localhost:4566&path_style=true")
		require.NoError(t, err)
		assert.Equal(t, Config{
			Bucket:         "random-cache",
			Region:         "eu-west-1",
			Endpoint:       "http://localhost:4566",
			KeyPrefix:      "device-7",
			ForcePathStyle: true,
		}, cfg)
	})

	t.Run("BucketOnly", func(t *testing.T) {
		cfg, err := ParseURL("s3://bucket")
		require.NoError(t, err)
		assert.Equal(t, "bucket", cfg.Bucket)
		assert.Empty(t, cfg.KeyPrefix)
	})

	t.Run("Errors", func(t *testing.T) {
		for _, raw := range []string{"file:///tmp", "s3:///prefix", "s3://b/p?path_style=maybe", "://"} {
			_, err := ParseURL(raw)
			assert.Error(t, err, raw)
		}
	})
}

func TestNewNormalizesPrefix(t *testing.T) {
	s := New(nil, Config{Bucket: "b", KeyPrefix: "dev"})
	assert.Equal(t, "dev/pool.meta", s.fullKey("pool.meta"))

	s = New(nil, Config{Bucket: "b"})
	assert.Equal(t, "pool.meta", s.fullKey("pool.meta"))
}

func TestNewResolvesRegion(t *testing.T) {
	client := s3.New(s3.Options{Region: "us-east-2"})

	assert.Equal(t, "us-east-2", New(client, Config{Bucket: "b"}).region)
	assert.Equal(t, "eu-west-1", New(client, Config{Bucket: "b", Region: "eu-west-1"}).region)
	assert.Empty(t, New(nil, Config{Bucket: "b"}).region)
}
