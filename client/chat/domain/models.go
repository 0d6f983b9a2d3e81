package domain

import (
	"errors"
	"time"
)

var ErrValidation = errors.New("validation failed")

type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type ChannelType string

const (
	ChannelPublic  ChannelType = "public"
	ChannelPrivate ChannelType = "private"
)

type Attachment struct {
	ID           string `json:"id,omitempty"`
	URL          string `json:"url"`
	FileName     string `json:"file_name,omitempty"`
	ContentType  string `json:"content_type,omitempty"`
	SizeBytes    int64  `json:"size_bytes,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// Message is a chat message as cached on the client. ID stays empty until
// the server assigns one; ClientMsgID links an optimistic local copy to the
// server echo.
type Message struct {
	ID          string       `json:"id,omitempty"`
	ClientMsgID string       `json:"client_msg_id,omitempty"`
	ChannelID   string       `json:"channel_id"`
	SenderID    string       `json:"sender_id"`
	Body        string       `json:"body,omitempty"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   *time.Time   `json:"created_at,omitempty"`
	Deleted     bool         `json:"deleted"`
}

type Channel struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Type     ChannelType `json:"type"`
	Members  []string    `json:"members"`
	IsActive bool        `json:"is_active"`
}

type CreateChannelInput struct {
	Name      string      `json:"name"`
	Type      ChannelType `json:"type"`
	MemberIDs []string    `json:"member_ids,omitempty"`
}

type Announcement struct {
	ID        string     `json:"id,omitempty"`
	Title     string     `json:"title,omitempty"`
	Body      string     `json:"body"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

type TypingEvent struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	IsTyping  bool   `json:"is_typing"`
}

// OutboundItem is an action waiting in the outbound queue.
type OutboundItem struct {
	Event      string
	Payload    any
	EnqueuedAt time.Time
}

// PageQuery selects a page of channel history, newest first.
type PageQuery struct {
	Before string
	Limit  int
}

// Upload is a file the caller wants to attach to a message.
type Upload struct {
	FileName    string
	ContentType string
	Data        []byte
}

// PresenceSnapshot is an immutable view of who is online.
type PresenceSnapshot struct {
	Online []string            `json:"online"`
	ByOrg  map[string][]string `json:"by_org"`
}
