// Package service composes the connection manager: the facade that owns
// the reconnection controller, the outbound queue, the rate limiter and the
// merged inbound state, and exposes them as operations plus observable
// streams.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"msg_client/client/chat/domain"
	"msg_client/client/chat/limiter"
	"msg_client/client/chat/merge"
	"msg_client/client/chat/observe"
	"msg_client/client/chat/queue"
	"msg_client/client/chat/reconnect"
	"msg_client/client/chat/transport"
	"msg_client/client/common/auth"
	"msg_client/client/common/log"
)

var (
	ErrDestroyed  = errors.New("connection manager destroyed")
	ErrNoBackend  = errors.New("request/response backend is not configured")
	ErrNoUploader = errors.New("attachment upload is not configured")
)

type Options struct {
	Reconnect     reconnect.Config
	QueueCapacity int
	RateCapacity  int
	RateInterval  time.Duration
	Limits        merge.Limits
	StreamBuffer  int

	Dial      transport.DialFunc
	Scheduler reconnect.Scheduler
	Jitter    reconnect.JitterFunc
	Refresh   reconnect.RefreshFunc

	Backend     Backend
	Attachments AttachmentStore
	Metrics     *Metrics
}

// OutgoingMessage is the sendMessage payload on the wire.
type OutgoingMessage struct {
	ClientMsgID string              `json:"clientMsgId"`
	ChannelID   string              `json:"channelId"`
	SenderID    string              `json:"senderId,omitempty"`
	Body        string              `json:"body,omitempty"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
}

type Stats struct {
	State         string `json:"state"`
	Attempt       int    `json:"attempt"`
	Queued        int    `json:"queued"`
	QueueCapacity int    `json:"queue_capacity"`
	Evicted       int    `json:"evicted"`
	Tokens        int    `json:"tokens"`
	RateCapacity  int    `json:"rate_capacity"`
	Messages      int    `json:"messages"`
	Channels      int    `json:"channels"`
	Online        int    `json:"online"`
}

// Manager is safe for concurrent use. All state mutation happens under mu,
// which is always taken before the controller's own lock.
type Manager struct {
	ctrl    *reconnect.Controller
	queue   *queue.Outbound
	bucket  *limiter.TokenBucket
	backend Backend
	uploads AttachmentStore
	metrics *Metrics
	limits  merge.Limits

	mu        sync.Mutex
	state     merge.State
	destroyed bool

	status        *observe.Value[domain.ConnectionState]
	messages      *observe.Value[[]domain.Message]
	channels      *observe.Value[[]domain.Channel]
	members       *observe.Value[map[string][]string]
	presence      *observe.Value[domain.PresenceSnapshot]
	typing        *observe.Stream[domain.TypingEvent]
	announcements *observe.Stream[domain.Announcement]
}

func NewManager(opts Options) *Manager {
	st := merge.NewState()
	m := &Manager{
		queue:         queue.New(opts.QueueCapacity),
		bucket:        limiter.New(opts.RateCapacity, opts.RateInterval),
		backend:       opts.Backend,
		uploads:       opts.Attachments,
		metrics:       opts.Metrics,
		limits:        opts.Limits,
		state:         st,
		status:        observe.NewValue(domain.StateDisconnected),
		messages:      observe.NewValue(st.Messages),
		channels:      observe.NewValue(st.Channels),
		members:       observe.NewValue(st.Members),
		presence:      observe.NewValue(st.Presence()),
		typing:        observe.NewStream[domain.TypingEvent](opts.StreamBuffer),
		announcements: observe.NewStream[domain.Announcement](opts.StreamBuffer),
	}
	m.queue.OnEvict(func(item domain.OutboundItem) {
		log.Warnf("event=queue_evict dropped=%s enqueued_at=%s", item.Event, item.EnqueuedAt.Format(time.RFC3339Nano))
		if m.metrics != nil {
			m.metrics.QueueEvicted.Inc()
		}
	})

	ctrlOpts := []reconnect.Option{
		reconnect.WithHooks(reconnect.Hooks{
			OnState: m.onState,
			OnOpen:  m.onOpen,
			OnEvent: m.onEvent,
		}),
		reconnect.WithScheduler(opts.Scheduler),
		reconnect.WithRefresh(opts.Refresh),
	}
	if opts.Jitter != nil {
		ctrlOpts = append(ctrlOpts, reconnect.WithJitter(opts.Jitter))
	}
	m.ctrl = reconnect.New(opts.Reconnect, opts.Dial, ctrlOpts...)
	m.bucket.OnRefill(m.onRefill)
	m.metrics.observeState(domain.StateDisconnected)
	return m
}

// Connect starts or resumes the connection. An empty credential reuses
// the last one.
func (m *Manager) Connect(credential string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return ErrDestroyed
	}
	if strings.TrimSpace(credential) == "" && m.ctrl.Credential() == "" {
		return fmt.Errorf("%w: %v", domain.ErrValidation, auth.ErrEmptyCredential)
	}
	m.ctrl.Connect(credential)
	return nil
}

func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}
	m.ctrl.Disconnect()
}

// Destroy disconnects, stops the limiter and closes every stream. Nothing
// is emitted and no timer fires after it returns.
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	m.ctrl.Disconnect()
	m.mu.Unlock()

	m.bucket.Stop()
	m.status.Close()
	m.messages.Close()
	m.channels.Close()
	m.members.Close()
	m.presence.Close()
	m.typing.Close()
	m.announcements.Close()
	log.Infof("event=manager_destroy status=ok")
}

// SendMessage validates the message, records an optimistic local copy and
// sends it, or queues it when rate limited or offline. Only validation
// errors are returned.
func (m *Manager) SendMessage(channelID, body string, attachments []domain.Attachment) (domain.Message, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		log.Warnf("event=send_message status=rejected reason=missing_channel")
		return domain.Message{}, fmt.Errorf("%w: channel id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(body) == "" && len(attachments) == 0 {
		log.Warnf("event=send_message status=rejected reason=empty channel=%s", channelID)
		return domain.Message{}, fmt.Errorf("%w: message needs a body or attachments", domain.ErrValidation)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return domain.Message{}, ErrDestroyed
	}

	now := time.Now().UTC()
	out := OutgoingMessage{
		ClientMsgID: uuid.NewString(),
		ChannelID:   channelID,
		SenderID:    auth.SubjectFromToken(m.ctrl.Credential()),
		Body:        body,
		Attachments: append([]domain.Attachment(nil), attachments...),
	}
	local := domain.Message{
		ClientMsgID: out.ClientMsgID,
		ChannelID:   channelID,
		SenderID:    out.SenderID,
		Body:        body,
		Attachments: append([]domain.Attachment{}, attachments...),
		CreatedAt:   &now,
	}
	m.state.Messages = merge.AppendMessage(m.state.Messages, local, m.liveCap())
	m.messages.Set(m.state.Messages)

	if m.ctrl.Connected() && m.queue.Len() > 0 {
		// tokens are spent in queue order by drainLocked
		m.sendLocked(domain.OutSendMessage, out)
		return local, nil
	}
	if !m.bucket.TryConsume() {
		log.Debugf("event=send_message status=rate_limited channel=%s", channelID)
		if m.metrics != nil {
			m.metrics.RateLimited.Inc()
		}
		m.enqueueLocked(domain.OutSendMessage, out)
		return local, nil
	}
	m.sendLocked(domain.OutSendMessage, out)
	return local, nil
}

func (m *Manager) JoinChannel(channelID string) error {
	return m.action(domain.OutJoinChannel, channelID, map[string]string{"channelId": channelID})
}

func (m *Manager) LeaveChannel(channelID string) error {
	return m.action(domain.OutLeaveChannel, channelID, map[string]string{"channelId": channelID})
}

func (m *Manager) SetTyping(channelID string, isTyping bool) error {
	return m.action(domain.OutTyping, channelID, map[string]any{"channelId": channelID, "isTyping": isTyping})
}

func (m *Manager) MarkRead(channelID, messageID string) error {
	payload := map[string]string{"channelId": channelID}
	if id := strings.TrimSpace(messageID); id != "" {
		payload["messageId"] = id
	}
	return m.action(domain.OutMarkRead, channelID, payload)
}

// action sends a non rate-limited socket action, queueing it when offline.
func (m *Manager) action(event, channelID string, payload any) error {
	if strings.TrimSpace(channelID) == "" {
		return fmt.Errorf("%w: channel id is required", domain.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return ErrDestroyed
	}
	m.sendLocked(event, payload)
	return nil
}

// sendLocked keeps queue order: while older items are waiting, new ones
// go behind them and the queue is drained as far as tokens allow.
func (m *Manager) sendLocked(event string, payload any) {
	if !m.ctrl.Connected() {
		m.enqueueLocked(event, payload)
		return
	}
	if m.queue.Len() > 0 {
		m.enqueueLocked(event, payload)
		m.drainLocked()
		return
	}
	if err := m.ctrl.Emit(event, payload); err != nil {
		log.Debugf("event=socket_emit name=%s status=failed err=%v", event, err)
		m.enqueueLocked(event, payload)
		return
	}
	m.metrics.outbound(event, "sent")
}

func (m *Manager) enqueueLocked(event string, payload any) {
	m.queue.Enqueue(domain.OutboundItem{Event: event, Payload: payload, EnqueuedAt: time.Now()})
	m.metrics.outbound(event, "queued")
	m.metrics.levels(m.queue.Len(), m.bucket.Tokens())
}

func (m *Manager) flushLocked() {
	if n := m.queue.Flush(m.ctrl); n > 0 {
		log.Infof("event=queue_flush sent=%d remaining=%d", n, m.queue.Len())
		if m.metrics != nil {
			m.metrics.Outbound.WithLabelValues("*", "flushed").Add(float64(n))
		}
	}
	m.metrics.levels(m.queue.Len(), m.bucket.Tokens())
}

// drainLocked releases queued items in order on a live connection. Each
// sendMessage costs a token; the first one without a token stops the drain.
func (m *Manager) drainLocked() {
	n := m.queue.Release(m.ctrl, func(item domain.OutboundItem) bool {
		if item.Event != domain.OutSendMessage {
			return true
		}
		return m.bucket.TryConsume()
	})
	if n > 0 {
		log.Debugf("event=queue_drain sent=%d remaining=%d", n, m.queue.Len())
		if m.metrics != nil {
			m.metrics.Outbound.WithLabelValues("*", "drained").Add(float64(n))
		}
	}
	m.metrics.levels(m.queue.Len(), m.bucket.Tokens())
}

// onRefill runs on the limiter goroutine. Destroy releases mu before it
// stops the limiter, so taking mu here cannot deadlock with Stop.
func (m *Manager) onRefill(int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed || m.queue.Len() == 0 || !m.ctrl.Connected() {
		return
	}
	m.drainLocked()
}

func (m *Manager) onState(s domain.ConnectionState) {
	m.status.Set(s)
	m.metrics.observeState(s)
}

func (m *Manager) onOpen(subject string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}
	log.Infof("event=socket_open subject=%s queued=%d", subject, m.queue.Len())
	m.flushLocked()
}

func (m *Manager) onEvent(name string, data json.RawMessage) {
	ev, err := domain.DecodeEvent(name, data)
	if err != nil {
		log.Warnf("event=inbound name=%s status=noop err=%v", name, err)
		m.metrics.inbound(name, merge.NoOp.String())
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}
	m.applyLocked(ev)
}

func (m *Manager) applyLocked(ev domain.Event) merge.Outcome {
	next, outcome := merge.Apply(m.state, ev, m.limits)
	m.metrics.inbound(ev.Name(), outcome.String())

	switch outcome {
	case merge.NoOp:
		log.Debugf("event=inbound name=%s status=noop", ev.Name())
		return outcome
	case merge.Transient:
		switch e := ev.(type) {
		case domain.UserTypingEvent:
			m.typing.Publish(e.Typing)
		case domain.AnnouncementEvent:
			m.announcements.Publish(e.Announcement)
		}
		return outcome
	}

	prev := m.state
	m.state = next
	if !sameSlice(prev.Messages, next.Messages) {
		m.messages.Set(next.Messages)
	}
	if !sameMap(prev.Members, next.Members) {
		m.members.Set(next.Members)
	}
	if !sameSlice(prev.Online, next.Online) || !sameMap(prev.ByOrg, next.ByOrg) {
		m.presence.Set(next.Presence())
	}
	return outcome
}

// FetchMessages loads one page of history and merges it into the message
// batch.
func (m *Manager) FetchMessages(ctx context.Context, channelID string, q domain.PageQuery) ([]domain.Message, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return nil, fmt.Errorf("%w: channel id is required", domain.ErrValidation)
	}
	credential, err := m.backendCredential()
	if err != nil {
		return nil, err
	}
	page, err := m.backend.FetchMessages(ctx, credential, channelID, q)
	m.metrics.rest("fetch_messages", err)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return nil, ErrDestroyed
	}
	m.applyLocked(domain.MessagesEvent{ChannelID: channelID, Messages: page})
	return append([]domain.Message(nil), m.state.Messages...), nil
}

func (m *Manager) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	credential, err := m.backendCredential()
	if err != nil {
		return nil, err
	}
	list, err := m.backend.ListChannels(ctx, credential)
	m.metrics.rest("list_channels", err)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return nil, ErrDestroyed
	}
	m.state.Channels = merge.SetChannels(list)
	m.channels.Set(m.state.Channels)
	return append([]domain.Channel(nil), m.state.Channels...), nil
}

func (m *Manager) CreateChannel(ctx context.Context, in domain.CreateChannelInput) (domain.Channel, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return domain.Channel{}, fmt.Errorf("%w: channel name is required", domain.ErrValidation)
	}
	if in.Type == "" {
		in.Type = domain.ChannelPublic
	}
	if in.Type != domain.ChannelPublic && in.Type != domain.ChannelPrivate {
		return domain.Channel{}, fmt.Errorf("%w: unknown channel type %q", domain.ErrValidation, in.Type)
	}
	credential, err := m.backendCredential()
	if err != nil {
		return domain.Channel{}, err
	}
	ch, err := m.backend.CreateChannel(ctx, credential, in)
	m.metrics.rest("create_channel", err)
	if err != nil {
		return domain.Channel{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return domain.Channel{}, ErrDestroyed
	}
	m.state.Channels = merge.UpsertChannel(m.state.Channels, ch)
	m.channels.Set(m.state.Channels)
	return ch, nil
}

func (m *Manager) DeleteMessage(ctx context.Context, messageID string) error {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return fmt.Errorf("%w: message id is required", domain.ErrValidation)
	}
	credential, err := m.backendCredential()
	if err != nil {
		return err
	}
	err = m.backend.DeleteMessage(ctx, credential, messageID)
	m.metrics.rest("delete_message", err)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return ErrDestroyed
	}
	m.applyLocked(domain.MessageDeletedEvent{MessageID: messageID})
	return nil
}

// UploadAttachment stores a file through the object store when one is
// configured, otherwise through the backend.
func (m *Manager) UploadAttachment(ctx context.Context, up domain.Upload) (domain.Attachment, error) {
	up.FileName = strings.TrimSpace(up.FileName)
	if up.FileName == "" || len(up.Data) == 0 {
		return domain.Attachment{}, fmt.Errorf("%w: attachment needs a file name and data", domain.ErrValidation)
	}
	m.mu.Lock()
	destroyed := m.destroyed
	credential := m.ctrl.Credential()
	m.mu.Unlock()
	if destroyed {
		return domain.Attachment{}, ErrDestroyed
	}

	var (
		att domain.Attachment
		err error
	)
	switch {
	case m.uploads != nil:
		att, err = m.uploads.Upload(ctx, credential, up)
	case m.backend != nil:
		att, err = m.backend.UploadAttachment(ctx, credential, up)
	default:
		return domain.Attachment{}, ErrNoUploader
	}
	m.metrics.rest("upload_attachment", err)
	return att, err
}

func (m *Manager) backendCredential() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return "", ErrDestroyed
	}
	if m.backend == nil {
		return "", ErrNoBackend
	}
	return m.ctrl.Credential(), nil
}

func (m *Manager) liveCap() int {
	if m.limits.Live > 0 {
		return m.limits.Live
	}
	return merge.DefaultLiveCap
}

func (m *Manager) ConnectionState() domain.ConnectionState { return m.ctrl.State() }

func (m *Manager) Credential() string { return m.ctrl.Credential() }

func (m *Manager) SubscribeStatus() (<-chan domain.ConnectionState, func()) {
	return m.status.Subscribe()
}

func (m *Manager) SubscribeMessages() (<-chan []domain.Message, func()) {
	return m.messages.Subscribe()
}

func (m *Manager) SubscribeChannels() (<-chan []domain.Channel, func()) {
	return m.channels.Subscribe()
}

func (m *Manager) SubscribeMembers() (<-chan map[string][]string, func()) {
	return m.members.Subscribe()
}

func (m *Manager) SubscribePresence() (<-chan domain.PresenceSnapshot, func()) {
	return m.presence.Subscribe()
}

func (m *Manager) SubscribeTyping() (<-chan domain.TypingEvent, func()) {
	return m.typing.Subscribe()
}

func (m *Manager) SubscribeAnnouncements() (<-chan domain.Announcement, func()) {
	return m.announcements.Subscribe()
}

// Feed subscribes to everything a sidecar consumer needs. The returned
// func cancels all subscriptions.
func (m *Manager) Feed() (Feed, func()) {
	states, c1 := m.status.Subscribe()
	presence, c2 := m.presence.Subscribe()
	members, c3 := m.members.Subscribe()
	typing, c4 := m.typing.Subscribe()
	announcements, c5 := m.announcements.Subscribe()
	feed := Feed{
		States:        states,
		Presence:      presence,
		Members:       members,
		Typing:        typing,
		Announcements: announcements,
	}
	return feed, func() {
		c1()
		c2()
		c3()
		c4()
		c5()
	}
}

// Snapshot returns the current merged state. Slices and maps are shared
// with published snapshots and must not be modified.
func (m *Manager) Snapshot() merge.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) QueuedItems() []domain.OutboundItem {
	return m.queue.Snapshot()
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		State:         m.ctrl.State().String(),
		Attempt:       m.ctrl.Attempt(),
		Queued:        m.queue.Len(),
		QueueCapacity: m.queue.Capacity(),
		Evicted:       m.queue.Evicted(),
		Tokens:        m.bucket.Tokens(),
		RateCapacity:  m.bucket.Capacity(),
		Messages:      len(m.state.Messages),
		Channels:      len(m.state.Channels),
		Online:        len(m.state.Online),
	}
}

func sameSlice[T any](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return &a[0] == &b[0]
}

func sameMap(a, b map[string][]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		w, ok := b[k]
		if !ok || !sameSlice(v, w) {
			return false
		}
	}
	return true
}
