package upload

import "context"

// Client is the remote multipart collaborator.
type Client interface {
	CreateMultipartUpload(ctx context.Context, target Target) (string, error)
	UploadPart(ctx context.Context, input *PartInput) (string, error)
	CompleteMultipartUpload(ctx context.Context, target Target, uploadID string, parts []Part) (*Completion, error)
	AbortMultipartUpload(ctx context.Context, target Target, uploadID string) error
}
