package service

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"msg_client/client/chat/domain"
	"msg_client/client/common/auth"
	"msg_client/client/common/infra/object"
)

const (
	thumbnailSize    = 320
	defaultURLExpiry = 24 * time.Hour
)

// AttachmentStore uploads a file and describes where it can be fetched.
type AttachmentStore interface {
	Upload(ctx context.Context, credential string, up domain.Upload) (domain.Attachment, error)
}

// ObjectAttachmentStore writes attachments straight to an S3-compatible
// bucket and hands out presigned download URLs. Images also get a JPEG
// thumbnail next to the original.
type ObjectAttachmentStore struct {
	client    *minio.Client
	bucket    string
	urlExpiry time.Duration
}

func NewObjectAttachmentStore(client *minio.Client, bucket string) *ObjectAttachmentStore {
	return &ObjectAttachmentStore{client: client, bucket: bucket, urlExpiry: defaultURLExpiry}
}

func (s *ObjectAttachmentStore) Upload(ctx context.Context, credential string, up domain.Upload) (domain.Attachment, error) {
	if len(up.Data) == 0 {
		return domain.Attachment{}, fmt.Errorf("%w: attachment is empty", domain.ErrValidation)
	}
	identity, _ := auth.IdentityFromToken(credential)
	id := uuid.NewString()
	key := attachmentKey(identity, id, up.FileName)
	contentType := contentTypeOf(up)

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(up.Data), int64(len(up.Data)), minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("upload attachment: %w", err)
	}
	link, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.urlExpiry, url.Values{})
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("presign attachment: %w", err)
	}

	att := domain.Attachment{
		ID:          id,
		URL:         link.String(),
		FileName:    up.FileName,
		ContentType: contentType,
		SizeBytes:   int64(len(up.Data)),
	}
	if strings.HasPrefix(contentType, "image/") {
		if thumbURL, err := s.putThumbnail(ctx, key, up.Data); err == nil {
			att.ThumbnailURL = thumbURL
		}
	}
	return att, nil
}

func (s *ObjectAttachmentStore) putThumbnail(ctx context.Context, key string, data []byte) (string, error) {
	thumb, err := makeThumbnail(data)
	if err != nil {
		return "", err
	}
	thumbKey := thumbnailKey(key)
	reader := bytes.NewReader(thumb)
	if _, err := s.client.PutObject(ctx, s.bucket, thumbKey, reader, int64(reader.Len()), minio.PutObjectOptions{ContentType: "image/jpeg"}); err != nil {
		return "", fmt.Errorf("upload thumb: %w", err)
	}
	link, err := s.client.PresignedGetObject(ctx, s.bucket, thumbKey, s.urlExpiry, url.Values{})
	if err != nil {
		return "", err
	}
	return link.String(), nil
}

func makeThumbnail(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	thumb := imaging.Thumbnail(img, thumbnailSize, thumbnailSize, imaging.Lanczos)
	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, thumb, imaging.JPEG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func attachmentKey(identity auth.Identity, id, fileName string) string {
	owner := identity.Subject
	if owner == "" {
		owner = "anonymous"
	}
	ext := strings.ToLower(path.Ext(strings.TrimSpace(fileName)))
	return object.TenantKey(identity.TenantID, fmt.Sprintf("attachments/%s/%s%s", owner, id, ext))
}

func thumbnailKey(key string) string {
	return strings.TrimSuffix(key, path.Ext(key)) + "_thumb.jpg"
}
