package domain

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestDecodeEvent_NewMessage(t *testing.T) {
	raw := json.RawMessage(`{
		"_id": "m1",
		"clientMsgId": "c1",
		"channelId": "general",
		"sender": {"_id": "u1", "name": "Ada"},
		"content": "hello",
		"createdAt": "2026-03-01T10:00:00Z"
	}`)

	ev, err := DecodeEvent(EventNewMessage, raw)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	msg := ev.(NewMessageEvent).Message
	if msg.ID != "m1" || msg.ClientMsgID != "c1" || msg.ChannelID != "general" {
		t.Errorf("unexpected ids: %+v", msg)
	}
	if msg.SenderID != "u1" {
		t.Errorf("SenderID = %q, want u1", msg.SenderID)
	}
	if msg.Body != "hello" {
		t.Errorf("Body = %q, want hello", msg.Body)
	}
	want := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if msg.CreatedAt == nil || !msg.CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", msg.CreatedAt, want)
	}
	if msg.Attachments == nil {
		t.Error("Attachments should be an empty slice, not nil")
	}
}

func TestDecodeEvent_SenderAsString(t *testing.T) {
	ev, err := DecodeEvent(EventNewMessage, json.RawMessage(`{"id":"m1","channel_id":"c","sender":"u9","createdAt":1767225600000}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	msg := ev.(NewMessageEvent).Message
	if msg.SenderID != "u9" {
		t.Errorf("SenderID = %q, want u9", msg.SenderID)
	}
	if msg.CreatedAt == nil || msg.CreatedAt.UnixMilli() != 1767225600000 {
		t.Errorf("CreatedAt = %v", msg.CreatedAt)
	}
}

func TestDecodeEvent_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{EventNewMessage, `{"id":"m1"}`},
		{EventNewMessage, `not json`},
		{EventMessageDeleted, `{}`},
		{EventChannelUsers, `{"users":["u1"]}`},
		{EventUserJoinedChannel, `{"channelId":"c"}`},
		{EventUserLeftChannel, `{"userId":"u"}`},
		{EventUserOnline, `{}`},
		{EventUserTyping, `{"channelId":"c"}`},
		{EventNewAnnouncement, `{"body":"  "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEvent(tt.name, json.RawMessage(tt.data))
			if !errors.Is(err, ErrMalformedEvent) {
				t.Errorf("err = %v, want ErrMalformedEvent", err)
			}
		})
	}
}

func TestDecodeEvent_Unknown(t *testing.T) {
	_, err := DecodeEvent("somethingElse", json.RawMessage(`{}`))
	if !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("err = %v, want ErrUnknownEvent", err)
	}
}

func TestDecodeEvent_ChannelUsers(t *testing.T) {
	ev, err := DecodeEvent(EventChannelUsers, json.RawMessage(`{"channelId":"c1","users":[{"_id":"u1"},"u2",{"id":"u1"}]}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	got := ev.(ChannelUsersEvent)
	if got.ChannelID != "c1" {
		t.Errorf("ChannelID = %q", got.ChannelID)
	}
	if !reflect.DeepEqual(got.UserIDs, []string{"u1", "u2"}) {
		t.Errorf("UserIDs = %v, want [u1 u2]", got.UserIDs)
	}
}

func TestDecodeEvent_MessagesArray(t *testing.T) {
	ev, err := DecodeEvent(EventMessages, json.RawMessage(`[{"id":"c","channelId":"x"},{"id":"b","channelId":"x"}]`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	got := ev.(MessagesEvent)
	if len(got.Messages) != 2 || got.Messages[0].ID != "c" {
		t.Errorf("Messages = %+v", got.Messages)
	}
}

func TestDecodeEvent_DeletedBareID(t *testing.T) {
	ev, err := DecodeEvent(EventMessageDeleted, json.RawMessage(`"m7"`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if ev.(MessageDeletedEvent).MessageID != "m7" {
		t.Errorf("MessageID = %q", ev.(MessageDeletedEvent).MessageID)
	}
}

func TestDecodeEvent_Presence(t *testing.T) {
	ev, err := DecodeEvent(EventUserOnline, json.RawMessage(`{"userId":"u1","orgId":"o1"}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if got := ev.(UserOnlineEvent); got.UserID != "u1" || got.OrgID != "o1" {
		t.Errorf("got %+v", got)
	}
}

func TestDecodeEvent_TypingDefaultsToTrue(t *testing.T) {
	ev, err := DecodeEvent(EventUserTyping, json.RawMessage(`{"channelId":"c","userId":"u"}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if !ev.(UserTypingEvent).Typing.IsTyping {
		t.Error("expected IsTyping to default to true")
	}
	ev, _ = DecodeEvent(EventUserTyping, json.RawMessage(`{"channelId":"c","userId":"u","isTyping":false}`))
	if ev.(UserTypingEvent).Typing.IsTyping {
		t.Error("expected IsTyping false")
	}
}

func TestConnectionStateString(t *testing.T) {
	if StateReconnecting.String() != "reconnecting" {
		t.Errorf("String = %q", StateReconnecting.String())
	}
	b, _ := json.Marshal(map[string]ConnectionState{"state": StateConnected})
	if string(b) != `{"state":"connected"}` {
		t.Errorf("marshal = %s", b)
	}
}
