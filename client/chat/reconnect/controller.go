// Package reconnect owns the connection state machine: it opens transport
// sessions, classifies failures, refreshes credentials and schedules
// retries with exponential backoff.
package reconnect

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"msg_client/client/chat/domain"
	"msg_client/client/chat/transport"
	"msg_client/client/common/auth"
	"msg_client/client/common/log"
)

// RefreshFunc obtains a new credential after an auth failure.
type RefreshFunc func(ctx context.Context) (string, error)

type Config struct {
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	MinDelay       time.Duration
	AuthRetryDelay time.Duration
	JitterCap      time.Duration
	MaxAttempts    int
	AutoReconnect  bool
	RefreshTimeout time.Duration
	// Session is the template for every session; Credential is overwritten.
	Session transport.Options
}

func DefaultConfig() Config {
	return Config{
		BaseDelay:      DefaultBaseDelay,
		MaxDelay:       DefaultMaxDelay,
		MinDelay:       DefaultMinDelay,
		AuthRetryDelay: DefaultAuthRetryDelay,
		JitterCap:      DefaultJitterCap,
		MaxAttempts:    DefaultMaxAttempts,
		AutoReconnect:  true,
		RefreshTimeout: DefaultRefreshTimeout,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.MinDelay <= 0 {
		c.MinDelay = d.MinDelay
	}
	if c.AuthRetryDelay <= 0 {
		c.AuthRetryDelay = d.AuthRetryDelay
	}
	if c.JitterCap < 0 {
		c.JitterCap = 0
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = d.RefreshTimeout
	}
	return c
}

// Hooks connect the controller to its owner. OnState runs with the
// controller lock held and must not call back into the controller.
// OnOpen and OnEvent run without it.
type Hooks struct {
	OnState func(domain.ConnectionState)
	OnOpen  func(subject string)
	OnEvent func(name string, data json.RawMessage)
}

type Option func(*Controller)

func WithScheduler(s Scheduler) Option {
	return func(c *Controller) {
		if s != nil {
			c.sched = s
		}
	}
}

func WithJitter(fn JitterFunc) Option {
	return func(c *Controller) { c.jitter = fn }
}

func WithRefresh(fn RefreshFunc) Option {
	return func(c *Controller) { c.refresh = fn }
}

func WithHooks(h Hooks) Option {
	return func(c *Controller) { c.hooks = h }
}

type Controller struct {
	cfg     Config
	dial    transport.DialFunc
	sched   Scheduler
	jitter  JitterFunc
	refresh RefreshFunc
	hooks   Hooks

	mu          sync.Mutex
	state       domain.ConnectionState
	credential  string
	attempt     int
	manualStop  bool
	authRetried bool
	refreshing  bool
	session     transport.Session
	cancelDial  context.CancelFunc
	timer       Timer
	gen         uint64
}

func New(cfg Config, dial transport.DialFunc, opts ...Option) *Controller {
	if dial == nil {
		dial = transport.NewWebSocketSession
	}
	c := &Controller{
		cfg:    cfg.normalized(),
		dial:   dial,
		sched:  SystemScheduler,
		jitter: randomJitter,
		state:  domain.StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens a session with credential, or with the current credential
// when credential is empty. While connected or connecting it only swaps in a
// credential for the same subject; a different subject restarts the session
// so the socket never runs as one user while sends are stamped as another.
func (c *Controller) Connect(credential string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := strings.TrimSpace(credential)
	live := c.state == domain.StateConnected || (c.state == domain.StateConnecting && c.session != nil)
	if live {
		if token == "" {
			return
		}
		if auth.SubjectFromToken(token) == auth.SubjectFromToken(c.credential) {
			c.credential = token
			return
		}
		log.Infof("event=socket_connect action=switch_subject")
	}
	if token != "" {
		c.credential = token
	}

	c.manualStop = false
	c.attempt = 0
	c.authRetried = false
	c.setStateLocked(domain.StateConnecting)
	c.openLocked()
}

// Disconnect cancels any pending retry and closes the session without
// triggering reconnect logic.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.manualStop = true
	c.cancelTimerLocked()
	c.gen++
	c.detachLocked()
	c.setStateLocked(domain.StateDisconnected)
}

// Emit writes to the live session. It fails with transport.ErrNotConnected
// when no session is open.
func (c *Controller) Emit(event string, payload any) error {
	c.mu.Lock()
	s := c.session
	live := c.state == domain.StateConnected && s != nil && s.Connected()
	c.mu.Unlock()
	if !live {
		return transport.ErrNotConnected
	}
	return s.Emit(event, payload)
}

func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == domain.StateConnected && c.session != nil && c.session.Connected()
}

func (c *Controller) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempt is the count of consecutive failures since the last success.
func (c *Controller) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

func (c *Controller) Credential() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.credential
}

func (c *Controller) openLocked() {
	c.cancelTimerLocked()
	c.detachLocked()
	c.gen++
	gen := c.gen

	opts := c.cfg.Session
	opts.Credential = c.credential
	opts.Reconnection = false

	s := c.dial(opts, transport.Listeners{
		OnConnect:      func() { c.handleOpen(gen) },
		OnConnectError: func(reason string) { c.handleConnectError(gen, reason) },
		OnDisconnect:   func(reason string) { c.handleClose(gen, reason) },
		OnEvent:        func(name string, data json.RawMessage) { c.handleEvent(gen, name, data) },
	})
	ctx, cancel := context.WithCancel(context.Background())
	c.session = s
	c.cancelDial = cancel

	log.Infof("event=socket_connect action=open attempt=%d", c.attempt)
	s.Open(ctx)
}

func (c *Controller) handleOpen(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.manualStop {
		c.mu.Unlock()
		return
	}
	c.attempt = 0
	c.authRetried = false
	c.setStateLocked(domain.StateConnected)
	s := c.session
	subject := auth.SubjectFromToken(c.credential)
	c.mu.Unlock()

	if subject == "" {
		log.Warnf("event=socket_register status=skipped reason=no_subject")
	} else if err := s.Emit(domain.OutRegister, map[string]string{"userId": subject}); err != nil {
		log.Warnf("event=socket_register status=failed err=%v", err)
	}
	if c.hooks.OnOpen != nil {
		c.hooks.OnOpen(subject)
	}
}

func (c *Controller) handleConnectError(gen uint64, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.manualStop {
		return
	}
	c.detachLocked()
	log.Warnf("event=socket_connect status=failed attempt=%d reason=%q", c.attempt, reason)

	if IsAuthFailure(reason) && c.refresh != nil && !c.authRetried && !c.refreshing {
		c.authRetried = true
		c.refreshing = true
		c.setStateLocked(domain.StateReconnecting)
		go c.refreshCredential(gen)
		return
	}
	c.failLocked()
}

func (c *Controller) handleClose(gen uint64, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.manualStop {
		return
	}
	c.detachLocked()
	log.Warnf("event=socket_disconnect reason=%q", reason)
	c.failLocked()
}

func (c *Controller) handleEvent(gen uint64, name string, data json.RawMessage) {
	c.mu.Lock()
	stale := gen != c.gen || c.manualStop
	c.mu.Unlock()
	if stale || c.hooks.OnEvent == nil {
		return
	}
	c.hooks.OnEvent(name, data)
}

func (c *Controller) refreshCredential(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RefreshTimeout)
	token, err := c.refresh(ctx)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshing = false
	if gen != c.gen || c.manualStop {
		return
	}
	token = strings.TrimSpace(token)
	if err != nil || token == "" {
		log.Warnf("event=credential_refresh status=failed err=%v", err)
		c.failLocked()
		return
	}

	c.credential = token
	delay := withJitter(c.cfg.AuthRetryDelay, c.cfg.JitterCap, c.cfg.MinDelay, c.jitter)
	log.Infof("event=credential_refresh status=ok retry_in=%s", delay)
	c.scheduleLocked(delay)
}

// failLocked applies the standard retry policy after a failed or lost session.
func (c *Controller) failLocked() {
	if !c.cfg.AutoReconnect {
		c.setStateLocked(domain.StateDisconnected)
		return
	}
	c.attempt++
	if c.attempt > c.cfg.MaxAttempts {
		log.Errorf("event=socket_reconnect status=exhausted attempts=%d", c.attempt-1)
		c.setStateLocked(domain.StateDisconnected)
		return
	}
	delay := Delay(c.attempt, c.cfg, c.jitter)
	log.Infof("event=socket_reconnect action=schedule attempt=%d delay=%s", c.attempt, delay)
	c.setStateLocked(domain.StateReconnecting)
	c.scheduleLocked(delay)
}

func (c *Controller) scheduleLocked(delay time.Duration) {
	c.cancelTimerLocked()
	gen := c.gen
	var t Timer
	t = c.sched.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen || c.manualStop || c.timer != t {
			return
		}
		c.timer = nil
		c.openLocked()
	})
	c.timer = t
}

func (c *Controller) cancelTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) detachLocked() {
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	if c.session == nil {
		return
	}
	s := c.session
	c.session = nil
	s.RemoveAllListeners()
	if err := s.Close(); err != nil {
		log.Debugf("event=socket_close status=failed err=%v", err)
	}
}

func (c *Controller) setStateLocked(next domain.ConnectionState) {
	if c.state == next {
		return
	}
	log.Infof("event=socket_state from=%s to=%s", c.state, next)
	c.state = next
	if c.hooks.OnState != nil {
		c.hooks.OnState(next)
	}
}
