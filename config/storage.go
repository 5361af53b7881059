package config

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GetGCSClient prefers ADC (Cloud Run service account / GOOGLE_APPLICATION_CREDENTIALS).
// Set GCS_CREDENTIALS_JSON to provide explicit JSON (e.g. locally).
func GetGCSClient(ctx context.Context) (*storage.Client, error) {
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

// ArchiveObjectAttribute names the message attribute that carries the object path.
const ArchiveObjectAttribute = "object_name"

// GCSArchivePublisher writes outbox payloads as objects in the snapshot archive bucket.
// It satisfies the same publisher contract as PubSubPublisher.
type GCSArchivePublisher struct {
	bucket *storage.BucketHandle
}

func NewGCSArchivePublisher(client *storage.Client, bucketName string) (*GCSArchivePublisher, error) {
	if client == nil {
		return nil, errors.New("gcs client is nil")
	}
	if bucketName == "" {
		return nil, errors.New("SNAPSHOT_ARCHIVE_BUCKET is required")
	}
	return &GCSArchivePublisher{bucket: client.Bucket(bucketName)}, nil
}

// Publish stores data under attributes[object_name] and returns the object generation.
// Archived objects are write-once: an existing object is left untouched.
func (p *GCSArchivePublisher) Publish(ctx context.Context, _ string, attributes map[string]string, data []byte) (string, error) {
	objectName := attributes[ArchiveObjectAttribute]
	if objectName == "" {
		return "", errors.New("archive message has no object_name attribute")
	}
	obj := p.bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true})
	wc := obj.NewWriter(ctx)
	wc.ContentType = "application/json"
	wc.Metadata = attributes
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("write archive object %s: %w", objectName, err)
	}
	if err := wc.Close(); err != nil {
		if isPreconditionFailed(err) {
			// already archived by an earlier attempt
			attrs, aerr := p.bucket.Object(objectName).Attrs(ctx)
			if aerr != nil {
				return "", aerr
			}
			return strconv.FormatInt(attrs.Generation, 10), nil
		}
		return "", fmt.Errorf("close archive object %s: %w", objectName, err)
	}
	return strconv.FormatInt(wc.Attrs().Generation, 10), nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
