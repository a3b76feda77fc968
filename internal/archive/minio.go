// Package archive mirrors vaulted uploads to object storage. The mirror is
// optional: when MinIO is not configured the package stays inert and callers
// skip it. Failures here are never fatal to batch processing.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pajakflow/tax-docs-service/pkg/logger"
)

// Client is the global MinIO client; nil when archiving is disabled.
var Client *minio.Client

// BucketName receives mirrored artifacts.
var BucketName string

// Init wires the MinIO client from environment variables. Returning an error
// leaves the archive disabled; the caller decides whether that matters.
func Init() error {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		return fmt.Errorf("no archive configuration")
	}

	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	secretKey := os.Getenv("MINIO_SECRET_KEY")

	BucketName = os.Getenv("MINIO_BUCKET")
	if BucketName == "" {
		BucketName = "tax-artifacts"
	}

	useSSL := os.Getenv("MINIO_USE_SSL") == "true"

	var err error
	Client, err = minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		Client = nil
		return fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := Client.BucketExists(ctx, BucketName)
	if err != nil {
		Client = nil
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		Client = nil
		return fmt.Errorf("bucket %s does not exist", BucketName)
	}

	return nil
}

// Enabled reports whether the mirror is active.
func Enabled() bool {
	return Client != nil
}

// Put mirrors one artifact under {userID}/{batchID}/{storedName}.
func Put(ctx context.Context, userID, batchID, storedName string, data []byte, contentType string) error {
	if Client == nil {
		return nil
	}
	objectName := fmt.Sprintf("%s/%s/%s", userID, batchID, storedName)
	_, err := Client.PutObject(ctx, BucketName, objectName,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		logger.WithComponent("archive").WithError(err).
			WithField("object", objectName).Warn("artifact mirror failed")
		return fmt.Errorf("failed to mirror artifact: %w", err)
	}
	return nil
}
