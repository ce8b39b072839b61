package s3

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatsvc "github.com/cedromirror/talkcart-web-sub008/internal/app/services/chat"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/config"
)

func TestNewClientValidatesSettings(t *testing.T) {
	_, err := NewClient(config.Config{S3Bucket: "chat"}, nil)
	assert.ErrorContains(t, err, "endpoint")
	_, err = NewClient(config.Config{S3Endpoint: "localhost:9000"}, nil)
	assert.ErrorContains(t, err, "bucket")
}

func TestObjectURLEscapesSegments(t *testing.T) {
	c, err := NewClient(config.Config{S3Endpoint: "http://minio:9000", S3Bucket: "chat", S3PublicEndpoint: "https://cdn.example.com/"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/chat/conversations/abc/1-my%20receipt.pdf", c.objectURL("conversations/abc/1-my receipt.pdf"))

	c, err = NewClient(config.Config{S3Endpoint: "minio:9000", S3Bucket: "chat"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://minio:9000/chat/k", c.objectURL("k"))
}

func TestParseEndpoint(t *testing.T) {
	assert.Equal(t, "minio:9000", parseEndpoint("http://minio:9000"))
	assert.Equal(t, "minio:9000", parseEndpoint("minio:9000"))
}

func TestUploadRejectsEmptyKey(t *testing.T) {
	c, err := NewClient(config.Config{S3Endpoint: "minio:9000", S3Bucket: "chat"}, nil)
	require.NoError(t, err)
	_, err = c.Upload(context.Background(), " / ", strings.NewReader("x"), "text/plain")
	assert.ErrorContains(t, err, "object key")
}

func TestNoopUploaderReportsUnavailable(t *testing.T) {
	_, err := NoopUploader{}.Upload(context.Background(), "k", strings.NewReader("x"), "")
	assert.ErrorIs(t, err, chatsvc.ErrServiceNotConfigured)
}
