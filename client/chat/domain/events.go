package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownEvent   = errors.New("unknown inbound event")
	ErrMalformedEvent = errors.New("malformed inbound event")
)

const (
	EventNewMessage        = "newMessage"
	EventMessageDeleted    = "messageDeleted"
	EventMessages          = "messages"
	EventChannelUsers      = "channelUsers"
	EventUserJoinedChannel = "userJoinedChannel"
	EventUserLeftChannel   = "userLeftChannel"
	EventUserOnline        = "userOnline"
	EventUserOffline       = "userOffline"
	EventUserTyping        = "userTyping"
	EventNewAnnouncement   = "newAnnouncement"
	EventConnectError      = "connect_error"
)

const (
	OutRegister     = "register"
	OutSendMessage  = "sendMessage"
	OutJoinChannel  = "joinChannel"
	OutLeaveChannel = "leaveChannel"
	OutTyping       = "typing"
	OutMarkRead     = "markRead"
)

// Event is one server-pushed event after validation at the socket boundary.
type Event interface {
	Name() string
}

type NewMessageEvent struct{ Message Message }

type MessageDeletedEvent struct {
	MessageID string
	ChannelID string
}

// MessagesEvent carries a page of history, newest first.
type MessagesEvent struct {
	ChannelID string
	Messages  []Message
}

type ChannelUsersEvent struct {
	ChannelID string
	UserIDs   []string
}

type UserJoinedChannelEvent struct {
	ChannelID string
	UserID    string
}

type UserLeftChannelEvent struct {
	ChannelID string
	UserID    string
}

type UserOnlineEvent struct {
	UserID string
	OrgID  string
}

type UserOfflineEvent struct {
	UserID string
	OrgID  string
}

type UserTypingEvent struct{ Typing TypingEvent }

type AnnouncementEvent struct{ Announcement Announcement }

func (NewMessageEvent) Name() string        { return EventNewMessage }
func (MessageDeletedEvent) Name() string    { return EventMessageDeleted }
func (MessagesEvent) Name() string          { return EventMessages }
func (ChannelUsersEvent) Name() string      { return EventChannelUsers }
func (UserJoinedChannelEvent) Name() string { return EventUserJoinedChannel }
func (UserLeftChannelEvent) Name() string   { return EventUserLeftChannel }
func (UserOnlineEvent) Name() string        { return EventUserOnline }
func (UserOfflineEvent) Name() string       { return EventUserOffline }
func (UserTypingEvent) Name() string        { return EventUserTyping }
func (AnnouncementEvent) Name() string      { return EventNewAnnouncement }

// wireMessage accepts the loose shapes the backend sends: camelCase or
// snake_case keys and a sender that is either an id or a user object.
type wireMessage struct {
	ID           string          `json:"id"`
	MongoID      string          `json:"_id"`
	ClientMsgID  string          `json:"clientMsgId"`
	ClientMsgID2 string          `json:"client_msg_id"`
	ChannelID    string          `json:"channelId"`
	ChannelID2   string          `json:"channel_id"`
	Sender       json.RawMessage `json:"sender"`
	SenderID     string          `json:"senderId"`
	SenderID2    string          `json:"sender_id"`
	Body         string          `json:"body"`
	Content      string          `json:"content"`
	Attachments  []Attachment    `json:"attachments"`
	CreatedAt    *jsonTime       `json:"createdAt"`
	CreatedAt2   *jsonTime       `json:"created_at"`
	Deleted      bool            `json:"deleted"`
	IsDeleted    bool            `json:"isDeleted"`
}

type userRef struct {
	ID      string `json:"id"`
	MongoID string `json:"_id"`
}

func (w wireMessage) toMessage() Message {
	msg := Message{
		ID:          firstNonEmpty(w.ID, w.MongoID),
		ClientMsgID: firstNonEmpty(w.ClientMsgID, w.ClientMsgID2),
		ChannelID:   firstNonEmpty(w.ChannelID, w.ChannelID2),
		SenderID:    firstNonEmpty(w.SenderID, w.SenderID2, senderFromRaw(w.Sender)),
		Body:        firstNonEmpty(w.Body, w.Content),
		Attachments: w.Attachments,
		Deleted:     w.Deleted || w.IsDeleted,
	}
	if msg.Attachments == nil {
		msg.Attachments = []Attachment{}
	}
	switch {
	case w.CreatedAt != nil && !w.CreatedAt.IsZero():
		t := w.CreatedAt.Time
		msg.CreatedAt = &t
	case w.CreatedAt2 != nil && !w.CreatedAt2.IsZero():
		t := w.CreatedAt2.Time
		msg.CreatedAt = &t
	}
	return msg
}

func senderFromRaw(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var ref userRef
	if err := json.Unmarshal(raw, &ref); err == nil {
		return firstNonEmpty(ref.ID, ref.MongoID)
	}
	return ""
}

type wireMembership struct {
	ChannelID  string `json:"channelId"`
	ChannelID2 string `json:"channel_id"`
	UserID     string `json:"userId"`
	UserID2    string `json:"user_id"`
}

type wirePresence struct {
	UserID  string `json:"userId"`
	UserID2 string `json:"user_id"`
	OrgID   string `json:"orgId"`
	OrgID2  string `json:"org_id"`
}

type wireChannelUsers struct {
	ChannelID  string     `json:"channelId"`
	ChannelID2 string     `json:"channel_id"`
	Users      []userItem `json:"users"`
	UserIDs    []string   `json:"userIds"`
}

// userItem is either a bare id or a user object.
type userItem string

func (u *userItem) UnmarshalJSON(b []byte) error {
	id := senderFromRaw(b)
	if id == "" {
		return fmt.Errorf("user entry %s has no id", string(b))
	}
	*u = userItem(id)
	return nil
}

type wireMessages struct {
	ChannelID  string        `json:"channelId"`
	ChannelID2 string        `json:"channel_id"`
	Messages   []wireMessage `json:"messages"`
}

type wireTyping struct {
	ChannelID  string `json:"channelId"`
	ChannelID2 string `json:"channel_id"`
	UserID     string `json:"userId"`
	UserID2    string `json:"user_id"`
	IsTyping   *bool  `json:"isTyping"`
	IsTyping2  *bool  `json:"is_typing"`
}

type wireDeleted struct {
	MessageID  string `json:"messageId"`
	MessageID2 string `json:"message_id"`
	ID         string `json:"id"`
	ChannelID  string `json:"channelId"`
	ChannelID2 string `json:"channel_id"`
}

// DecodeEvent validates a named inbound payload and returns its typed form.
// Unknown names yield ErrUnknownEvent; missing required fields yield
// ErrMalformedEvent. Callers treat both as a no-op.
func DecodeEvent(name string, data json.RawMessage) (Event, error) {
	malformed := func(reason string) error {
		return fmt.Errorf("%w: %s: %s", ErrMalformedEvent, name, reason)
	}
	switch name {
	case EventNewMessage:
		var w wireMessage
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, malformed(err.Error())
		}
		msg := w.toMessage()
		if msg.ChannelID == "" {
			return nil, malformed("channel id required")
		}
		return NewMessageEvent{Message: msg}, nil

	case EventMessageDeleted:
		var w wireDeleted
		if err := json.Unmarshal(data, &w); err != nil {
			var id string
			if json.Unmarshal(data, &id) != nil {
				return nil, malformed(err.Error())
			}
			w.MessageID = id
		}
		id := firstNonEmpty(w.MessageID, w.MessageID2, w.ID)
		if id == "" {
			return nil, malformed("message id required")
		}
		return MessageDeletedEvent{MessageID: id, ChannelID: firstNonEmpty(w.ChannelID, w.ChannelID2)}, nil

	case EventMessages:
		var w wireMessages
		if err := json.Unmarshal(data, &w); err != nil {
			var page []wireMessage
			if json.Unmarshal(data, &page) != nil {
				return nil, malformed(err.Error())
			}
			w.Messages = page
		}
		out := MessagesEvent{ChannelID: firstNonEmpty(w.ChannelID, w.ChannelID2), Messages: make([]Message, 0, len(w.Messages))}
		for _, item := range w.Messages {
			out.Messages = append(out.Messages, item.toMessage())
		}
		return out, nil

	case EventChannelUsers:
		var w wireChannelUsers
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, malformed(err.Error())
		}
		channelID := firstNonEmpty(w.ChannelID, w.ChannelID2)
		if channelID == "" {
			return nil, malformed("channel id required")
		}
		ids := make([]string, 0, len(w.Users)+len(w.UserIDs))
		for _, u := range w.Users {
			ids = append(ids, string(u))
		}
		ids = append(ids, w.UserIDs...)
		return ChannelUsersEvent{ChannelID: channelID, UserIDs: dedupe(ids)}, nil

	case EventUserJoinedChannel, EventUserLeftChannel:
		var w wireMembership
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, malformed(err.Error())
		}
		channelID := firstNonEmpty(w.ChannelID, w.ChannelID2)
		userID := firstNonEmpty(w.UserID, w.UserID2)
		if channelID == "" || userID == "" {
			return nil, malformed("channel id and user id required")
		}
		if name == EventUserJoinedChannel {
			return UserJoinedChannelEvent{ChannelID: channelID, UserID: userID}, nil
		}
		return UserLeftChannelEvent{ChannelID: channelID, UserID: userID}, nil

	case EventUserOnline, EventUserOffline:
		var w wirePresence
		if err := json.Unmarshal(data, &w); err != nil {
			var id string
			if json.Unmarshal(data, &id) != nil {
				return nil, malformed(err.Error())
			}
			w.UserID = id
		}
		userID := firstNonEmpty(w.UserID, w.UserID2)
		if userID == "" {
			return nil, malformed("user id required")
		}
		orgID := firstNonEmpty(w.OrgID, w.OrgID2)
		if name == EventUserOnline {
			return UserOnlineEvent{UserID: userID, OrgID: orgID}, nil
		}
		return UserOfflineEvent{UserID: userID, OrgID: orgID}, nil

	case EventUserTyping:
		var w wireTyping
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, malformed(err.Error())
		}
		ev := TypingEvent{
			ChannelID: firstNonEmpty(w.ChannelID, w.ChannelID2),
			UserID:    firstNonEmpty(w.UserID, w.UserID2),
			IsTyping:  true,
		}
		if ev.ChannelID == "" || ev.UserID == "" {
			return nil, malformed("channel id and user id required")
		}
		if w.IsTyping != nil {
			ev.IsTyping = *w.IsTyping
		} else if w.IsTyping2 != nil {
			ev.IsTyping = *w.IsTyping2
		}
		return UserTypingEvent{Typing: ev}, nil

	case EventNewAnnouncement:
		var a Announcement
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, malformed(err.Error())
		}
		if strings.TrimSpace(a.Body) == "" && strings.TrimSpace(a.Title) == "" {
			return nil, malformed("announcement is empty")
		}
		return AnnouncementEvent{Announcement: a}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, name)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func dedupe(items []string) []string {
	result := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		result = append(result, item)
	}
	return result
}
