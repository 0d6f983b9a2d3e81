package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"msg_client/client/chat/domain"
	"msg_client/client/common/infra/rest"
)

// Backend is the request/response collaborator behind channel and message
// CRUD. Every call carries the current bearer credential.
type Backend interface {
	ListChannels(ctx context.Context, credential string) ([]domain.Channel, error)
	CreateChannel(ctx context.Context, credential string, in domain.CreateChannelInput) (domain.Channel, error)
	// FetchMessages returns one page, newest first.
	FetchMessages(ctx context.Context, credential, channelID string, q domain.PageQuery) ([]domain.Message, error)
	DeleteMessage(ctx context.Context, credential, messageID string) error
	UploadAttachment(ctx context.Context, credential string, up domain.Upload) (domain.Attachment, error)
}

const apiBasePath = "/api/v1"

type HTTPBackend struct {
	client *rest.Client
}

func NewHTTPBackend(client *rest.Client) *HTTPBackend {
	return &HTTPBackend{client: client}
}

func (b *HTTPBackend) ListChannels(ctx context.Context, credential string) ([]domain.Channel, error) {
	var raw json.RawMessage
	if err := b.client.Do(ctx, rest.Request{Path: apiBasePath + "/channels", Bearer: credential}, &raw); err != nil {
		return nil, err
	}
	return domain.DecodeChannels(raw)
}

func (b *HTTPBackend) CreateChannel(ctx context.Context, credential string, in domain.CreateChannelInput) (domain.Channel, error) {
	payload := map[string]any{
		"name":    in.Name,
		"type":    in.Type,
		"members": in.MemberIDs,
	}
	var raw json.RawMessage
	if err := b.client.Do(ctx, rest.Request{
		Method: http.MethodPost,
		Path:   apiBasePath + "/channels",
		Bearer: credential,
		JSON:   payload,
	}, &raw); err != nil {
		return domain.Channel{}, err
	}
	return domain.DecodeChannel(raw)
}

func (b *HTTPBackend) FetchMessages(ctx context.Context, credential, channelID string, q domain.PageQuery) ([]domain.Message, error) {
	query := url.Values{}
	if before := strings.TrimSpace(q.Before); before != "" {
		query.Set("before", before)
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	var raw json.RawMessage
	if err := b.client.Do(ctx, rest.Request{
		Path:   apiBasePath + "/channels/" + url.PathEscape(channelID) + "/messages",
		Query:  query,
		Bearer: credential,
	}, &raw); err != nil {
		return nil, err
	}
	return domain.DecodeMessagePage(channelID, raw)
}

func (b *HTTPBackend) DeleteMessage(ctx context.Context, credential, messageID string) error {
	return b.client.Do(ctx, rest.Request{
		Method: http.MethodDelete,
		Path:   apiBasePath + "/messages/" + url.PathEscape(messageID),
		Bearer: credential,
	}, nil)
}

func (b *HTTPBackend) UploadAttachment(ctx context.Context, credential string, up domain.Upload) (domain.Attachment, error) {
	body, contentType, err := multipartBody(up)
	if err != nil {
		return domain.Attachment{}, err
	}
	var raw json.RawMessage
	if err := b.client.Do(ctx, rest.Request{
		Method:      http.MethodPost,
		Path:        apiBasePath + "/attachments",
		Bearer:      credential,
		Body:        body,
		ContentType: contentType,
	}, &raw); err != nil {
		return domain.Attachment{}, err
	}
	att, err := domain.DecodeAttachment(raw)
	if err != nil {
		return domain.Attachment{}, err
	}
	if att.FileName == "" {
		att.FileName = up.FileName
	}
	if att.ContentType == "" {
		att.ContentType = up.ContentType
	}
	if att.SizeBytes == 0 {
		att.SizeBytes = int64(len(up.Data))
	}
	return att, nil
}

func multipartBody(up domain.Upload) ([]byte, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, up.FileName))
	h.Set("Content-Type", contentTypeOf(up))
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(up.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func contentTypeOf(up domain.Upload) string {
	if ct := strings.TrimSpace(up.ContentType); ct != "" {
		return ct
	}
	return http.DetectContentType(up.Data)
}
