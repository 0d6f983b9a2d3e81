package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

type wireChannel struct {
	ID        string     `json:"id"`
	MongoID   string     `json:"_id"`
	Name      string     `json:"name"`
	Type      string     `json:"type"`
	Members   []userItem `json:"members"`
	IsActive  *bool      `json:"isActive"`
	IsActive2 *bool      `json:"is_active"`
}

func (w wireChannel) toChannel() Channel {
	ch := Channel{
		ID:       firstNonEmpty(w.ID, w.MongoID),
		Name:     strings.TrimSpace(w.Name),
		Type:     ChannelPublic,
		IsActive: true,
		Members:  make([]string, 0, len(w.Members)),
	}
	if strings.EqualFold(strings.TrimSpace(w.Type), string(ChannelPrivate)) {
		ch.Type = ChannelPrivate
	}
	for _, m := range w.Members {
		ch.Members = append(ch.Members, string(m))
	}
	ch.Members = dedupe(ch.Members)
	switch {
	case w.IsActive != nil:
		ch.IsActive = *w.IsActive
	case w.IsActive2 != nil:
		ch.IsActive = *w.IsActive2
	}
	return ch
}

// DecodeChannels reads a channel list given as a bare array or wrapped in
// {"channels": [...]} or {"items": [...]}.
func DecodeChannels(data []byte) ([]Channel, error) {
	var list []wireChannel
	if err := json.Unmarshal(data, &list); err != nil {
		var wrapped struct {
			Channels []wireChannel `json:"channels"`
			Items    []wireChannel `json:"items"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("%w: channel list: %v", ErrMalformedEvent, err)
		}
		list = wrapped.Channels
		if list == nil {
			list = wrapped.Items
		}
	}
	out := make([]Channel, 0, len(list))
	for _, w := range list {
		ch := w.toChannel()
		if ch.ID == "" {
			continue
		}
		out = append(out, ch)
	}
	return out, nil
}

// DecodeChannel reads one channel, optionally wrapped in {"channel": {...}}.
func DecodeChannel(data []byte) (Channel, error) {
	var wrapped struct {
		Channel *wireChannel `json:"channel"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Channel != nil {
		if ch := wrapped.Channel.toChannel(); ch.ID != "" {
			return ch, nil
		}
	}
	var w wireChannel
	if err := json.Unmarshal(data, &w); err != nil {
		return Channel{}, fmt.Errorf("%w: channel: %v", ErrMalformedEvent, err)
	}
	ch := w.toChannel()
	if ch.ID == "" {
		return Channel{}, fmt.Errorf("%w: channel has no id", ErrMalformedEvent)
	}
	return ch, nil
}

// DecodeMessagePage reads a history page in the same shapes as the
// "messages" socket event. The page stays newest first.
func DecodeMessagePage(channelID string, data []byte) ([]Message, error) {
	ev, err := DecodeEvent(EventMessages, data)
	if err != nil {
		return nil, err
	}
	page := ev.(MessagesEvent).Messages
	for i := range page {
		if page[i].ChannelID == "" {
			page[i].ChannelID = channelID
		}
	}
	return page, nil
}

type wireAttachment struct {
	ID            string `json:"id"`
	MongoID       string `json:"_id"`
	URL           string `json:"url"`
	FileURL       string `json:"fileUrl"`
	FileName      string `json:"fileName"`
	FileName2     string `json:"file_name"`
	ContentType   string `json:"contentType"`
	ContentType2  string `json:"content_type"`
	SizeBytes     int64  `json:"size"`
	SizeBytes2    int64  `json:"size_bytes"`
	ThumbnailURL  string `json:"thumbnailUrl"`
	ThumbnailURL2 string `json:"thumbnail_url"`
}

// DecodeAttachment reads an upload result, optionally wrapped in
// {"attachment": {...}}.
func DecodeAttachment(data []byte) (Attachment, error) {
	var wrapped struct {
		Attachment *wireAttachment `json:"attachment"`
	}
	var w wireAttachment
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Attachment != nil {
		w = *wrapped.Attachment
	} else if err := json.Unmarshal(data, &w); err != nil {
		return Attachment{}, fmt.Errorf("%w: attachment: %v", ErrMalformedEvent, err)
	}
	a := Attachment{
		ID:           firstNonEmpty(w.ID, w.MongoID),
		URL:          firstNonEmpty(w.URL, w.FileURL),
		FileName:     firstNonEmpty(w.FileName, w.FileName2),
		ContentType:  firstNonEmpty(w.ContentType, w.ContentType2),
		SizeBytes:    w.SizeBytes,
		ThumbnailURL: firstNonEmpty(w.ThumbnailURL, w.ThumbnailURL2),
	}
	if a.SizeBytes == 0 {
		a.SizeBytes = w.SizeBytes2
	}
	if a.URL == "" {
		return Attachment{}, fmt.Errorf("%w: attachment has no url", ErrMalformedEvent)
	}
	return a, nil
}
