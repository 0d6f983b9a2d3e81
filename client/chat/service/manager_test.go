package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"msg_client/client/chat/domain"
	"msg_client/client/chat/merge"
	"msg_client/client/chat/reconnect"
	"msg_client/client/chat/transport"
)

type emitted struct {
	event   string
	payload any
}

type fakeSession struct {
	mu        sync.Mutex
	opts      transport.Options
	listeners transport.Listeners
	connected bool
	failEmit  bool
	sent      []emitted
}

func (f *fakeSession) Open(context.Context) {}

func (f *fakeSession) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return transport.ErrNotConnected
	}
	if f.failEmit {
		return errors.New("write: broken pipe")
	}
	f.sent = append(f.sent, emitted{event, payload})
	return nil
}

func (f *fakeSession) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSession) RemoveAllListeners() {
	f.mu.Lock()
	f.listeners = transport.Listeners{}
	f.mu.Unlock()
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) open() {
	f.mu.Lock()
	f.connected = true
	l := f.listeners
	f.mu.Unlock()
	l.OnConnect()
}

func (f *fakeSession) push(name, data string) {
	f.mu.Lock()
	l := f.listeners
	f.mu.Unlock()
	if l.OnEvent != nil {
		l.OnEvent(name, json.RawMessage(data))
	}
}

func (f *fakeSession) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, e := range f.sent {
		out = append(out, e.event)
	}
	return out
}

type fakeDialer struct {
	mu       sync.Mutex
	sessions []*fakeSession
}

func (d *fakeDialer) dial(opts transport.Options, l transport.Listeners) transport.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &fakeSession{opts: opts, listeners: l}
	d.sessions = append(d.sessions, s)
	return s
}

func (d *fakeDialer) last() *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[len(d.sessions)-1]
}

type idleScheduler struct{}

type idleTimer struct{}

func (idleTimer) Stop() bool { return true }

func (idleScheduler) AfterFunc(time.Duration, func()) reconnect.Timer { return idleTimer{} }

type fakeBackend struct {
	page     []domain.Message
	channels []domain.Channel
	deleted  []string
	err      error
	lastCred string
}

func (b *fakeBackend) ListChannels(_ context.Context, cred string) ([]domain.Channel, error) {
	b.lastCred = cred
	return b.channels, b.err
}

func (b *fakeBackend) CreateChannel(_ context.Context, cred string, in domain.CreateChannelInput) (domain.Channel, error) {
	b.lastCred = cred
	return domain.Channel{ID: "new-" + in.Name, Name: in.Name, Type: in.Type, IsActive: true}, b.err
}

func (b *fakeBackend) FetchMessages(_ context.Context, cred, channelID string, q domain.PageQuery) ([]domain.Message, error) {
	b.lastCred = cred
	return b.page, b.err
}

func (b *fakeBackend) DeleteMessage(_ context.Context, cred, id string) error {
	b.lastCred = cred
	b.deleted = append(b.deleted, id)
	return b.err
}

func (b *fakeBackend) UploadAttachment(_ context.Context, cred string, up domain.Upload) (domain.Attachment, error) {
	return domain.Attachment{URL: "http://files/" + up.FileName, FileName: up.FileName}, b.err
}

func testToken(t *testing.T, sub string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": sub, "tenant_id": "t1"}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func newTestManager(t *testing.T, backend Backend) (*Manager, *fakeDialer) {
	t.Helper()
	d := &fakeDialer{}
	opts := Options{
		Reconnect:    reconnect.DefaultConfig(),
		RateInterval: time.Hour,
		Dial:         d.dial,
		Scheduler:    idleScheduler{},
		Jitter:       func(time.Duration) time.Duration { return 0 },
		Metrics:      NewMetrics(),
	}
	if backend != nil {
		opts.Backend = backend
	}
	m := NewManager(opts)
	t.Cleanup(m.Destroy)
	return m, d
}

func connect(t *testing.T, m *Manager, d *fakeDialer) *fakeSession {
	t.Helper()
	if err := m.Connect(testToken(t, "me")); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	s := d.last()
	s.open()
	if m.ConnectionState() != domain.StateConnected {
		t.Fatalf("state = %s", m.ConnectionState())
	}
	return s
}

func TestSendMessage_Validation(t *testing.T) {
	m, _ := newTestManager(t, nil)

	if _, err := m.SendMessage("", "hi", nil); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("missing channel: err = %v", err)
	}
	if _, err := m.SendMessage("c1", "  ", nil); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("empty body: err = %v", err)
	}
	if got := m.Stats().Queued; got != 0 {
		t.Errorf("invalid input was queued: %d", got)
	}
	if _, err := m.SendMessage("c1", "", []domain.Attachment{{URL: "http://x"}}); err != nil {
		t.Errorf("attachment-only message rejected: %v", err)
	}
}

func TestSendMessage_OfflineQueuesThenFlushesOnConnect(t *testing.T) {
	m, d := newTestManager(t, nil)

	local, err := m.SendMessage("c1", "hello", nil)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if local.ClientMsgID == "" {
		t.Error("optimistic message has no client id")
	}
	if err := m.JoinChannel("c1"); err != nil {
		t.Fatalf("JoinChannel: %v", err)
	}
	if got := m.Stats().Queued; got != 2 {
		t.Fatalf("queued = %d, want 2", got)
	}

	s := connect(t, m, d)
	want := []string{domain.OutRegister, domain.OutSendMessage, domain.OutJoinChannel}
	if got := s.events(); !equal(got, want) {
		t.Errorf("emitted = %v, want %v", got, want)
	}
	if got := m.Stats().Queued; got != 0 {
		t.Errorf("queue not drained: %d", got)
	}

	out := s.sent[1].payload.(OutgoingMessage)
	if out.SenderID != "me" || out.ClientMsgID != local.ClientMsgID {
		t.Errorf("payload = %+v", out)
	}
}

func TestSendMessage_RateLimitedGoesToQueueAndFlushesFirst(t *testing.T) {
	m, d := newTestManager(t, nil)
	s := connect(t, m, d)
	m.bucket.Drain()

	if _, err := m.SendMessage("c1", "first", nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got := m.Stats().Queued; got != 1 {
		t.Fatalf("queued = %d, want 1", got)
	}
	if got := s.events(); len(got) != 1 {
		t.Fatalf("rate limited message was sent: %v", got)
	}

	m.bucket.Refill()
	m.bucket.Refill()
	if _, err := m.SendMessage("c1", "second", nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	got := s.events()
	if len(got) != 3 {
		t.Fatalf("emitted = %v", got)
	}
	first := s.sent[1].payload.(OutgoingMessage)
	second := s.sent[2].payload.(OutgoingMessage)
	if first.Body != "first" || second.Body != "second" {
		t.Errorf("order = %q, %q", first.Body, second.Body)
	}
}

func TestActions_DoNotReleaseRateLimitedMessages(t *testing.T) {
	m, d := newTestManager(t, nil)
	s := connect(t, m, d)
	m.bucket.Drain()

	for i := 0; i < 5; i++ {
		if _, err := m.SendMessage("c1", "burst", nil); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
	}
	if err := m.SetTyping("c1", true); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}
	if err := m.JoinChannel("c2"); err != nil {
		t.Fatalf("JoinChannel: %v", err)
	}

	if got, want := s.events(), []string{domain.OutRegister}; !equal(got, want) {
		t.Errorf("emitted with empty bucket = %v, want %v", got, want)
	}
	st := m.Stats()
	if st.Queued != 7 || st.Tokens != 0 {
		t.Errorf("queued = %d tokens = %d, want 7 and 0", st.Queued, st.Tokens)
	}
}

func TestRefill_ReleasesOneMessagePerToken(t *testing.T) {
	m, d := newTestManager(t, nil)
	s := connect(t, m, d)
	m.bucket.Drain()

	for _, body := range []string{"a", "b", "c"} {
		if _, err := m.SendMessage("c1", body, nil); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
	}
	if err := m.SetTyping("c1", true); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}

	m.onRefill(m.bucket.Refill())
	want := []string{domain.OutRegister, domain.OutSendMessage}
	if got := s.events(); !equal(got, want) {
		t.Fatalf("after one refill emitted = %v, want %v", got, want)
	}
	if body := s.sent[1].payload.(OutgoingMessage).Body; body != "a" {
		t.Errorf("first released = %q, want a", body)
	}

	m.onRefill(m.bucket.Refill())
	m.onRefill(m.bucket.Refill())
	want = []string{domain.OutRegister, domain.OutSendMessage, domain.OutSendMessage, domain.OutSendMessage, domain.OutTyping}
	if got := s.events(); !equal(got, want) {
		t.Errorf("after three refills emitted = %v, want %v", got, want)
	}
	if got := m.Stats().Queued; got != 0 {
		t.Errorf("queued = %d, want 0", got)
	}
}

func TestRefill_TickerReleasesQueuedMessage(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(Options{
		Reconnect:    reconnect.DefaultConfig(),
		RateCapacity: 1,
		RateInterval: 10 * time.Millisecond,
		Dial:         d.dial,
		Scheduler:    idleScheduler{},
		Jitter:       func(time.Duration) time.Duration { return 0 },
	})
	t.Cleanup(m.Destroy)
	s := connect(t, m, d)
	m.bucket.Drain()

	if _, err := m.SendMessage("c1", "later", nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(s.events()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("message still queued after refill: emitted = %v queued = %d", s.events(), m.Stats().Queued)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.events(); got[1] != domain.OutSendMessage {
		t.Errorf("emitted = %v", got)
	}
}

func TestActions_BypassLimiter(t *testing.T) {
	m, d := newTestManager(t, nil)
	s := connect(t, m, d)
	m.bucket.Drain()

	for _, fn := range []func() error{
		func() error { return m.JoinChannel("c1") },
		func() error { return m.SetTyping("c1", true) },
		func() error { return m.MarkRead("c1", "m1") },
		func() error { return m.LeaveChannel("c1") },
	} {
		if err := fn(); err != nil {
			t.Fatalf("action: %v", err)
		}
	}
	want := []string{domain.OutRegister, domain.OutJoinChannel, domain.OutTyping, domain.OutMarkRead, domain.OutLeaveChannel}
	if got := s.events(); !equal(got, want) {
		t.Errorf("emitted = %v, want %v", got, want)
	}
	if err := m.JoinChannel(" "); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("blank channel: err = %v", err)
	}
}

func TestSend_EmitFailureQueues(t *testing.T) {
	m, d := newTestManager(t, nil)
	s := connect(t, m, d)
	s.mu.Lock()
	s.failEmit = true
	s.mu.Unlock()

	if err := m.SetTyping("c1", true); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}
	if got := m.Stats().Queued; got != 1 {
		t.Errorf("queued = %d, want 1", got)
	}
}

func TestInbound_MergesAndPublishes(t *testing.T) {
	m, d := newTestManager(t, nil)
	msgs, cancelMsgs := m.SubscribeMessages()
	defer cancelMsgs()
	presence, cancelPresence := m.SubscribePresence()
	defer cancelPresence()
	typing, cancelTyping := m.SubscribeTyping()
	defer cancelTyping()
	<-msgs
	<-presence

	s := connect(t, m, d)
	s.push(domain.EventNewMessage, `{"_id":"m1","channelId":"c1","sender":{"_id":"u2"},"body":"yo"}`)
	s.push(domain.EventUserOnline, `{"userId":"u2","orgId":"o1"}`)
	s.push(domain.EventUserTyping, `{"channelId":"c1","userId":"u2","isTyping":true}`)
	s.push(domain.EventMessageDeleted, `{"messageId":"unknown"}`)
	s.push("bogus", `{}`)

	got := waitValue(t, msgs)
	if len(got) != 1 || got[0].ID != "m1" || got[0].SenderID != "u2" {
		t.Errorf("messages = %+v", got)
	}
	p := waitValue(t, presence)
	if len(p.Online) != 1 || len(p.ByOrg["o1"]) != 1 {
		t.Errorf("presence = %+v", p)
	}
	ty := waitValue(t, typing)
	if ty.UserID != "u2" || !ty.IsTyping {
		t.Errorf("typing = %+v", ty)
	}
	if snap := m.Snapshot(); len(snap.Messages) != 1 {
		t.Errorf("unknown delete changed state: %+v", snap.Messages)
	}
}

func TestInbound_EchoReplacesOptimisticCopy(t *testing.T) {
	m, d := newTestManager(t, nil)
	s := connect(t, m, d)

	local, err := m.SendMessage("c1", "hi", nil)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	s.push(domain.EventNewMessage, `{"_id":"srv-1","clientMsgId":"`+local.ClientMsgID+`","channelId":"c1","sender":"me","body":"hi"}`)

	snap := m.Snapshot()
	if len(snap.Messages) != 1 || snap.Messages[0].ID != "srv-1" {
		t.Errorf("messages = %+v", snap.Messages)
	}
}

func TestFetchMessages_MergesChronologically(t *testing.T) {
	backend := &fakeBackend{page: []domain.Message{
		{ID: "C", ChannelID: "c1"}, {ID: "B", ChannelID: "c1"}, {ID: "A", ChannelID: "c1"},
	}}
	m, _ := newTestManager(t, backend)
	if err := m.Connect(testToken(t, "me")); err != nil {
		t.Fatal(err)
	}

	got, err := m.FetchMessages(context.Background(), "c1", domain.PageQuery{Limit: 3})
	if err != nil {
		t.Fatalf("FetchMessages: %v", err)
	}
	if len(got) != 3 || got[0].ID != "A" || got[2].ID != "C" {
		t.Errorf("merged = %+v", got)
	}
	if backend.lastCred == "" {
		t.Error("backend call carried no credential")
	}
}

func TestChannelsAndDelete(t *testing.T) {
	backend := &fakeBackend{channels: []domain.Channel{{ID: "c1", Name: "general"}}}
	m, d := newTestManager(t, backend)
	s := connect(t, m, d)
	s.push(domain.EventNewMessage, `{"_id":"m1","channelId":"c1","sender":"u2","body":"secret"}`)

	if _, err := m.ListChannels(context.Background()); err != nil {
		t.Fatalf("ListChannels: %v", err)
	}
	ch, err := m.CreateChannel(context.Background(), domain.CreateChannelInput{Name: "ops"})
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	if ch.Type != domain.ChannelPublic {
		t.Errorf("default type = %q", ch.Type)
	}
	if _, err := m.CreateChannel(context.Background(), domain.CreateChannelInput{Name: "x", Type: "secret"}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("bad type: err = %v", err)
	}
	if got := len(m.Snapshot().Channels); got != 2 {
		t.Errorf("channels = %d, want 2", got)
	}

	if err := m.DeleteMessage(context.Background(), "m1"); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	msg := m.Snapshot().Messages[0]
	if !msg.Deleted || msg.Body != "" {
		t.Errorf("message after delete = %+v", msg)
	}
}

func TestBackendErrorsAndMissingBackend(t *testing.T) {
	m, _ := newTestManager(t, nil)
	if _, err := m.ListChannels(context.Background()); !errors.Is(err, ErrNoBackend) {
		t.Errorf("err = %v, want ErrNoBackend", err)
	}

	failing := &fakeBackend{err: errors.New("rest status 500")}
	m2, _ := newTestManager(t, failing)
	if _, err := m2.FetchMessages(context.Background(), "c1", domain.PageQuery{}); err == nil {
		t.Error("expected backend error")
	}
	if got := len(m2.Snapshot().Messages); got != 0 {
		t.Errorf("failed fetch changed state: %d", got)
	}
}

func TestUploadAttachment(t *testing.T) {
	m, _ := newTestManager(t, &fakeBackend{})
	att, err := m.UploadAttachment(context.Background(), domain.Upload{FileName: "a.txt", Data: []byte("x")})
	if err != nil || att.URL != "http://files/a.txt" {
		t.Errorf("att = %+v, err = %v", att, err)
	}
	if _, err := m.UploadAttachment(context.Background(), domain.Upload{FileName: "a.txt"}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("empty upload: err = %v", err)
	}
}

func TestDestroy(t *testing.T) {
	m, d := newTestManager(t, nil)
	status, _ := m.SubscribeStatus()
	s := connect(t, m, d)

	m.Destroy()
	m.Destroy()

	var last domain.ConnectionState
	for v := range status {
		last = v
	}
	if last != domain.StateDisconnected {
		t.Errorf("last status = %s, want disconnected", last)
	}
	if _, err := m.SendMessage("c1", "x", nil); !errors.Is(err, ErrDestroyed) {
		t.Errorf("SendMessage after Destroy: %v", err)
	}
	if err := m.Connect(""); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Connect after Destroy: %v", err)
	}
	s.push(domain.EventNewMessage, `{"_id":"late","channelId":"c1","sender":"u","body":"x"}`)
	if got := len(m.Snapshot().Messages); got != 0 {
		t.Errorf("event applied after Destroy")
	}
}

func TestStats(t *testing.T) {
	m, _ := newTestManager(t, nil)
	m.SendMessage("c1", "queued", nil)
	st := m.Stats()
	if st.State != "disconnected" || st.Queued != 1 || st.QueueCapacity != 200 || st.RateCapacity != 20 || st.Tokens != 19 {
		t.Errorf("stats = %+v", st)
	}
	if st.Messages != 1 {
		t.Errorf("optimistic message not cached: %+v", st)
	}
}

func TestLimitsApplyToLiveAppend(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(Options{Dial: d.dial, Scheduler: idleScheduler{}, Limits: merge.Limits{Live: 2}, RateInterval: time.Hour})
	defer m.Destroy()
	for _, body := range []string{"a", "b", "c"} {
		m.SendMessage("c1", body, nil)
	}
	snap := m.Snapshot()
	if len(snap.Messages) != 2 || snap.Messages[0].Body != "b" {
		t.Errorf("messages = %+v", snap.Messages)
	}
}

func waitValue[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
