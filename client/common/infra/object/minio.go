package object

import (
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func NewClient(endpoint, accessKey, secretKey string, useSSL bool) (*minio.Client, error) {
	return minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
}

func EnsureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
}

// TenantKey places key under the tenant's prefix in a shared bucket.
func TenantKey(tenantID, key string) string {
	cleaned := strings.TrimPrefix(strings.TrimSpace(key), "/")
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return cleaned
	}
	return fmt.Sprintf("tenants/%s/%s", tenantID, cleaned)
}
