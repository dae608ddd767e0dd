package report

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBucket creates a Bucket backed by a test HTTP server.
// The handler receives real S3 XML-protocol requests.
func testBucket(t *testing.T, handler http.Handler) *Bucket {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(server.URL),
		UsePathStyle: true,
		Credentials:  credentials.NewStaticCredentialsProvider("test-key", "test-secret", ""),
		HTTPClient: &http.Client{
			Transport: &http.Transport{},
		},
	})

	return NewBucketWithClient(client, "deploy-reports", "rigger")
}

func TestBucketStore(t *testing.T) {
	var mu sync.Mutex
	var method, path, contentType, runID string
	var body []byte

	bucket := testBucket(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		method = r.Method
		path = r.URL.Path
		contentType = r.Header.Get("Content-Type")
		runID = r.Header.Get("X-Amz-Meta-Run-Id")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))

	started := time.Date(2026, 3, 1, 14, 30, 5, 0, time.UTC)
	loc, err := bucket.Store(context.Background(), sampleReport(started, "abcdef0123"))
	require.NoError(t, err)
	assert.Equal(t, "s3://deploy-reports/rigger/prod/run-20260301-143005-abcdef01.yaml", loc)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/deploy-reports/rigger/prod/run-20260301-143005-abcdef01.yaml", path)
	assert.Equal(t, "application/yaml", contentType)
	assert.Equal(t, "abcdef0123", runID)
	assert.Contains(t, string(body), "outcome: Failed")
}

func TestBucketStoreAccessDenied(t *testing.T) {
	bucket := testBucket(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`))
	}))

	_, err := bucket.Store(context.Background(), sampleReport(time.Now(), "id"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDenied: Access Denied")
	assert.Contains(t, err.Error(), "s3://deploy-reports/rigger/prod/")
}

func TestBucketKeyWithoutPrefix(t *testing.T) {
	b := NewBucketWithClient(nil, "reports", "")
	started := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "prod/run-20260301-000000-id.yaml", b.Key(sampleReport(started, "id")))
}
