// Package minio adapts the MinIO core API to the upload engine.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"s3pipe/internal/upload"
)

// defaultRegion skips the bucket location lookup MinIO would otherwise do
// before the first request.
const defaultRegion = "us-east-1"

// Client implements upload.Client with the low-level multipart calls of
// minio.Core.
type Client struct {
	core *minio.Core
}

func NewClient(endpoint, accessKey, secretKey string, useSSL bool) (*Client, error) {
	core, err := minio.NewCore(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure:       useSSL,
		Region:       defaultRegion,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio core client: %w", err)
	}

	return &Client{core: core}, nil
}

func (c *Client) CreateMultipartUpload(ctx context.Context, target upload.Target) (string, error) {
	uploadID, err := c.core.NewMultipartUpload(ctx, target.Bucket, target.Key, minio.PutObjectOptions{
		ContentType:  target.ContentType,
		UserMetadata: target.Metadata,
	})
	if err != nil {
		return "", classify(err)
	}
	return uploadID, nil
}

func (c *Client) UploadPart(ctx context.Context, in *upload.PartInput) (string, error) {
	part, err := c.core.PutObjectPart(ctx, in.Target.Bucket, in.Target.Key, in.UploadID, int(in.PartNumber),
		bytes.NewReader(in.Body), int64(len(in.Body)), minio.PutObjectPartOptions{})
	if err != nil {
		return "", classify(err)
	}
	return part.ETag, nil
}

func (c *Client) CompleteMultipartUpload(ctx context.Context, target upload.Target, uploadID string, parts []upload.Part) (*upload.Completion, error) {
	minioParts := make([]minio.CompletePart, 0, len(parts))
	for _, p := range parts {
		minioParts = append(minioParts, minio.CompletePart{
			PartNumber: int(p.PartNumber),
			ETag:       p.ETag,
		})
	}

	info, err := c.core.CompleteMultipartUpload(ctx, target.Bucket, target.Key, uploadID, minioParts, minio.PutObjectOptions{})
	if err != nil {
		return nil, classify(err)
	}

	return &upload.Completion{
		Bucket:    target.Bucket,
		Key:       target.Key,
		Location:  info.Location,
		ETag:      info.ETag,
		VersionID: info.VersionID,
	}, nil
}

func (c *Client) AbortMultipartUpload(ctx context.Context, target upload.Target, uploadID string) error {
	return classify(c.core.AbortMultipartUpload(ctx, target.Bucket, target.Key, uploadID))
}

// GetObject opens the object for reading. The caller closes the body.
func (c *Client) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	body, _, _, err := c.core.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify(err)
	}
	return body, nil
}

// classify marks part number rejections so the stream retries them.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "InvalidParameterType", "SerializationException":
		return fmt.Errorf("%w: %w", upload.ErrPartNumberEncoding, err)
	}
	return err
}
