// Package archive stores the final transcript of a test session in a blob
// bucket (S3, GCS, Azure Blob Storage, or any gocloud.dev driver)
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/kode4food/flowsession/pkg/api"
)

type (
	// BlobArchiver writes session projections as JSON objects
	BlobArchiver struct {
		bucket Bucket
		prefix string
		now    func() time.Time
		closer func() error
	}

	// Bucket is the subset of *blob.Bucket the archiver needs
	Bucket interface {
		WriteAll(context.Context, string, []byte, *blob.WriterOptions) error
		ReadAll(context.Context, string) ([]byte, error)
	}

	// Record is the stored form of an archived session
	Record struct {
		FlowID       string                    `json:"flow_id"`
		ArchivedAt   time.Time                 `json:"archived_at"`
		Transcript   []api.TranscriptEntry     `json:"transcript"`
		NodeStatuses map[string]api.NodeStatus `json:"node_statuses"`
	}
)

const keyTimeFormat = "20060102T150405.000Z"

var (
	ErrBucketRequired     = errors.New("bucket is required")
	ErrProjectionRequired = errors.New("projection is required")
	ErrRecordNotFound     = errors.New("archived transcript not found")
)

// Open opens the bucket at the URL and returns an archiver that owns it
func Open(ctx context.Context, bucketURL, prefix string) (*BlobArchiver, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	a, err := NewBlobArchiver(bucket, prefix)
	if err != nil {
		_ = bucket.Close()
		return nil, err
	}
	a.closer = bucket.Close
	return a, nil
}

// NewBlobArchiver creates an archiver writing to an already open bucket
func NewBlobArchiver(bucket Bucket, prefix string) (*BlobArchiver, error) {
	if bucket == nil {
		return nil, ErrBucketRequired
	}
	return &BlobArchiver{
		bucket: bucket,
		prefix: normalizePrefix(prefix),
		now:    time.Now,
	}, nil
}

// Archive stores the projection under a key derived from its flow id and the
// archive time
func (a *BlobArchiver) Archive(ctx context.Context, p *api.Projection) error {
	_, err := a.Write(ctx, p)
	return err
}

// Write stores the projection and returns the key it was written to
func (a *BlobArchiver) Write(
	ctx context.Context, p *api.Projection,
) (string, error) {
	if p == nil {
		return "", ErrProjectionRequired
	}

	rec := Record{
		FlowID:       p.FlowID,
		ArchivedAt:   a.now().UTC(),
		Transcript:   p.Transcript,
		NodeStatuses: p.NodeStatuses,
	}
	if rec.Transcript == nil {
		rec.Transcript = []api.TranscriptEntry{}
	}
	if rec.NodeStatuses == nil {
		rec.NodeStatuses = map[string]api.NodeStatus{}
	}

	data, err := json.Marshal(&rec)
	if err != nil {
		return "", err
	}

	key := a.keyFor(rec.FlowID, rec.ArchivedAt)
	opts := &blob.WriterOptions{ContentType: "application/json"}
	if err := a.bucket.WriteAll(ctx, key, data, opts); err != nil {
		return "", err
	}
	return key, nil
}

// Read loads a previously archived record
func (a *BlobArchiver) Read(ctx context.Context, key string) (*Record, error) {
	data, err := a.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Close releases the bucket if the archiver opened it
func (a *BlobArchiver) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer()
}

func (a *BlobArchiver) keyFor(flowID string, at time.Time) string {
	if flowID == "" {
		flowID = "unknown"
	}
	return a.prefix + flowID + "/" + at.Format(keyTimeFormat) + ".json"
}

func normalizePrefix(prefix string) string {
	if prefix == "" || strings.HasSuffix(prefix, "/") {
		return prefix
	}
	return prefix + "/"
}
