package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3Types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"s3pipe/internal/upload"
)

// Client implements upload.Client on top of the AWS SDK.
type Client struct {
	s3Client *s3.Client
}

// NewClient builds a client for region. Static credentials are used when
// both keys are given, otherwise the default credential chain applies.
// A non-empty endpoint switches to path-style addressing for S3-compatible
// stores.
func NewClient(ctx context.Context, region, accessKey, secretKey, endpoint string) (*Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
		// Gateways reject the CRC trailers the SDK adds by default.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return &Client{s3Client: s3Client}, nil
}

// CreateMultipartUpload creates a multipart upload and returns the upload ID
func (c *Client) CreateMultipartUpload(ctx context.Context, target upload.Target) (string, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(target.Bucket),
		Key:    aws.String(target.Key),
	}
	if target.ContentType != "" {
		input.ContentType = aws.String(target.ContentType)
	}
	if len(target.Metadata) > 0 {
		input.Metadata = target.Metadata
	}

	result, err := c.s3Client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return "", err
	}
	if result.UploadId == nil {
		return "", fmt.Errorf("no upload id returned for %s/%s", target.Bucket, target.Key)
	}

	return *result.UploadId, nil
}

// UploadPart uploads one part and returns its ETag. The SDK serializes the
// part number itself, so the requested encoding is ignored.
func (c *Client) UploadPart(ctx context.Context, in *upload.PartInput) (string, error) {
	result, err := c.s3Client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(in.Target.Bucket),
		Key:           aws.String(in.Target.Key),
		UploadId:      aws.String(in.UploadID),
		PartNumber:    aws.Int32(in.PartNumber),
		Body:          bytes.NewReader(in.Body),
		ContentLength: aws.Int64(int64(len(in.Body))),
	})
	if err != nil {
		return "", err
	}

	return aws.ToString(result.ETag), nil
}

// CompleteMultipartUpload completes a multipart upload
func (c *Client) CompleteMultipartUpload(ctx context.Context, target upload.Target, uploadID string, parts []upload.Part) (*upload.Completion, error) {
	completedParts := make([]s3Types.CompletedPart, len(parts))
	for i, part := range parts {
		completedParts[i] = s3Types.CompletedPart{
			ETag:       aws.String(part.ETag),
			PartNumber: aws.Int32(part.PartNumber),
		}
	}

	input := &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(target.Bucket),
		Key:      aws.String(target.Key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &s3Types.CompletedMultipartUpload{
			Parts: completedParts,
		},
	}

	result, err := c.s3Client.CompleteMultipartUpload(ctx, input)
	if err != nil {
		return nil, err
	}

	return &upload.Completion{
		Bucket:    target.Bucket,
		Key:       target.Key,
		Location:  aws.ToString(result.Location),
		ETag:      aws.ToString(result.ETag),
		VersionID: aws.ToString(result.VersionId),
	}, nil
}

// AbortMultipartUpload aborts a multipart upload
func (c *Client) AbortMultipartUpload(ctx context.Context, target upload.Target, uploadID string) error {
	input := &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(target.Bucket),
		Key:      aws.String(target.Key),
		UploadId: aws.String(uploadID),
	}

	_, err := c.s3Client.AbortMultipartUpload(ctx, input)
	return err
}

// GetObject opens the object for reading. The caller closes the body.
func (c *Client) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}

	return result.Body, nil
}
