package storagenode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNoActiveStorageProvider is returned when every candidate bucket has
// been tried and none accepted the asset.
var ErrNoActiveStorageProvider = errors.New("NoActiveStorageProvider")

// apiPrefix is the storage node's HTTP API root.
const apiPrefix = "/api/v1"

// UploadRequest addresses one asset upload.
type UploadRequest struct {
	BagID        string
	DataObjectID string
	FilePath     string
}

// Client uploads assets to storage nodes and probes their response times.
type Client struct {
	http *http.Client
	log  *zap.Logger
}

// NewClient creates a storage-node client. timeout bounds each individual
// upload attempt.
func NewClient(timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

// rejectedError marks a response the node returned deliberately (4xx); the
// same asset will be rejected again, so callers fail over to the next bucket
// rather than retrying the same one.
type rejectedError struct {
	status int
	body   string
}

func (e *rejectedError) Error() string {
	return fmt.Sprintf("storage node rejected upload: %d %s", e.status, e.body)
}

// UploadFile streams one asset to a bucket's upload endpoint.
func (c *Client) UploadFile(ctx context.Context, endpoint string, req UploadRequest) error {
	file, err := os.Open(req.FilePath)
	if err != nil {
		return fmt.Errorf("open asset: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filepath.Base(req.FilePath))
	if err != nil {
		return fmt.Errorf("build multipart: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("read asset: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finish multipart: %w", err)
	}

	url := fmt.Sprintf("%s%s/files?dataObjectId=%s&bagId=%s",
		strings.TrimSuffix(endpoint, "/"), apiPrefix, req.DataObjectID, req.BagID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("upload transport: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &rejectedError{status: resp.StatusCode, body: string(payload)}
	}
	return fmt.Errorf("storage node error: %d %s", resp.StatusCode, string(payload))
}

// UploadToBuckets tries the ranked candidates in order until one accepts the
// asset, returning the id of the bucket that did. Transport errors and 4xx
// rejections both fail over to the next candidate; exhaustion surfaces as
// ErrNoActiveStorageProvider.
func (c *Client) UploadToBuckets(ctx context.Context, buckets []Bucket, ranking *Ranking, req UploadRequest) (string, error) {
	if ranking != nil {
		ranking.Sort(buckets)
	}

	var lastErr error
	for _, bucket := range buckets {
		if bucket.Endpoint == "" {
			continue
		}

		err := c.UploadFile(ctx, bucket.Endpoint, req)
		if err == nil {
			return bucket.ID, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		lastErr = err
		if ranking != nil {
			ranking.Penalize(bucket.ID)
		}
		c.log.Warn("upload attempt failed, trying next bucket",
			zap.String("bucket", bucket.ID),
			zap.String("dataObject", req.DataObjectID),
			zap.Error(err),
		)
	}

	if lastErr != nil {
		return "", fmt.Errorf("%w: %v", ErrNoActiveStorageProvider, lastErr)
	}
	return "", ErrNoActiveStorageProvider
}

// Probe measures a node's response time against its status endpoint and
// feeds the result into the ranking.
func (c *Client) Probe(ctx context.Context, bucket Bucket, ranking *Ranking) {
	if bucket.Endpoint == "" {
		return
	}

	url := strings.TrimSuffix(bucket.Endpoint, "/") + apiPrefix + "/status"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		ranking.Penalize(bucket.ID)
		return
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		ranking.Penalize(bucket.ID)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		ranking.Penalize(bucket.ID)
		return
	}

	ranking.Observe(bucket.ID, time.Since(start))
}
