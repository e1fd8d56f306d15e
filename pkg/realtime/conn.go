// Package realtime manages a live, speech-capable session with a remote
// conversational agent over a WebSocket duplex channel.
//
// Conn is the low-level channel: it negotiates the session, decodes inbound
// frames into Events, and serializes outbound frames through one writer.
// Manager layers the turn machine, tool dispatch and conversation history on
// top of a Conn and is what most callers use.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-realtime/pkg/core"
	"github.com/vango-go/vai-realtime/pkg/credential"
	"github.com/vango-go/vai-realtime/pkg/realtime/protocol"
)

const (
	DefaultURL = "wss://api.openai.com/v1/realtime"

	defaultHandshakeTimeout = 10 * time.Second
	defaultQueueSize        = 256
)

// Handler receives inbound events on the connection's dispatch goroutine.
// Handlers must not block for long: they hold up every later event.
type Handler func(Event)

type dialOptions struct {
	url              string
	header           http.Header
	beta             bool
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	pingInterval     time.Duration
	queueSize        int
	dialer           *websocket.Dialer
	logger           *slog.Logger
	handlers         []Handler
	newID            func() string
}

// DialOption configures Dial.
type DialOption func(*dialOptions)

// WithURL overrides the realtime endpoint. The model is added as a query
// parameter.
func WithURL(u string) DialOption {
	return func(o *dialOptions) { o.url = strings.TrimSpace(u) }
}

// WithBetaHeader sends "OpenAI-Beta: realtime=v1" for endpoints that still
// require it.
func WithBetaHeader() DialOption {
	return func(o *dialOptions) { o.beta = true }
}

func WithHeader(key, value string) DialOption {
	return func(o *dialOptions) {
		if o.header == nil {
			o.header = make(http.Header)
		}
		o.header.Set(key, value)
	}
}

// WithHandshakeTimeout bounds the wait for the session acknowledgment.
func WithHandshakeTimeout(d time.Duration) DialOption {
	return func(o *dialOptions) { o.handshakeTimeout = d }
}

func WithWriteTimeout(d time.Duration) DialOption {
	return func(o *dialOptions) { o.writeTimeout = d }
}

func WithPingInterval(d time.Duration) DialOption {
	return func(o *dialOptions) { o.pingInterval = d }
}

func WithDialer(d *websocket.Dialer) DialOption {
	return func(o *dialOptions) { o.dialer = d }
}

func WithLogger(l *slog.Logger) DialOption {
	return func(o *dialOptions) { o.logger = l }
}

// WithHandler subscribes h before any event is dispatched, so it also sees
// events that arrived during the handshake.
func WithHandler(h Handler) DialOption {
	return func(o *dialOptions) {
		if h != nil {
			o.handlers = append(o.handlers, h)
		}
	}
}

func withIDGenerator(fn func() string) DialOption {
	return func(o *dialOptions) { o.newID = fn }
}

// Conn is one live duplex channel.
type Conn struct {
	ws     *websocket.Conn
	cfg    SessionConfig
	logger *slog.Logger
	newID  func() string

	subMu  sync.RWMutex
	all    []Handler
	byKind map[string][]Handler

	outbound chan []byte
	inbound  chan Event
	stop     chan struct{}

	stopOnce sync.Once
	closed   atomic.Bool
	// id of the goroutine running dispatchLoop
	dispatcher atomic.Uint64

	readDone     chan struct{}
	writeDone    chan struct{}
	dispatchDone chan struct{}

	errMu sync.Mutex
	err   error
}

// Dial consumes cred, opens the channel, sends the session configuration and
// waits for the service to acknowledge it. On any failure the socket is closed
// and a connection error is returned.
func Dial(ctx context.Context, cred *credential.Credential, cfg SessionConfig, opts ...DialOption) (*Conn, error) {
	o := dialOptions{
		url:              DefaultURL,
		handshakeTimeout: defaultHandshakeTimeout,
		queueSize:        defaultQueueSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.newID == nil {
		o.newID = newEventID
	}
	if o.handshakeTimeout <= 0 {
		o.handshakeTimeout = defaultHandshakeTimeout
	}
	if o.queueSize <= 0 {
		o.queueSize = defaultQueueSize
	}

	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, core.NewConnectionError("invalid session config", err)
	}
	endpoint, err := channelURL(o.url, cfg.Model)
	if err != nil {
		return nil, core.NewConnectionError("invalid realtime url", err)
	}
	if cred == nil {
		return nil, core.NewConnectionError("no credential", nil)
	}
	token, err := cred.Consume()
	if err != nil {
		return nil, core.NewConnectionError("credential unusable", err)
	}

	headers := make(http.Header)
	for k, v := range o.header {
		headers[k] = append([]string(nil), v...)
	}
	headers.Set("Authorization", "Bearer "+token)
	if o.beta {
		headers.Set("OpenAI-Beta", "realtime=v1")
	}

	dialer := o.dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	dialCtx, cancel := context.WithTimeout(ctx, o.handshakeTimeout)
	defer cancel()

	ws, resp, err := dialer.DialContext(dialCtx, endpoint, headers)
	if err != nil {
		if resp != nil {
			return nil, core.NewConnectionError(fmt.Sprintf("websocket dial failed (status %d)", resp.StatusCode), err)
		}
		return nil, core.NewConnectionError("websocket dial failed", err)
	}

	pending, err := handshake(dialCtx, ws, cfg, o)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}

	c := &Conn{
		ws:           ws,
		cfg:          cfg,
		logger:       o.logger,
		newID:        o.newID,
		all:          append([]Handler(nil), o.handlers...),
		byKind:       make(map[string][]Handler),
		outbound:     make(chan []byte, o.queueSize),
		inbound:      make(chan Event, o.queueSize+len(pending)),
		stop:         make(chan struct{}),
		readDone:     make(chan struct{}),
		writeDone:    make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}
	for _, ev := range pending {
		c.inbound <- ev
	}

	w := &outboundWriter{
		ws:           ws,
		queue:        c.outbound,
		stop:         c.stop,
		pingInterval: o.pingInterval,
		writeTimeout: o.writeTimeout,
	}
	go c.writeLoop(w)
	go c.readLoop()
	go c.dispatchLoop()

	c.logger.Info("realtime session established", "model", cfg.Model, "voice", cfg.Voice, "tools", len(cfg.Tools))
	return c, nil
}

// handshake writes session.update and reads until session.updated. Frames seen
// before the acknowledgment are returned for later dispatch, followed by the
// acknowledgment itself.
func handshake(ctx context.Context, ws *websocket.Conn, cfg SessionConfig, o dialOptions) ([]Event, error) {
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	update := cfg.sessionUpdate()
	update.EnsureEventID(o.newID)
	_ = ws.SetWriteDeadline(time.Now().Add(o.handshakeTimeout))
	if err := ws.WriteJSON(update); err != nil {
		return nil, core.NewConnectionError("send session.update", err)
	}
	_ = ws.SetWriteDeadline(time.Time{})

	_ = ws.SetReadDeadline(time.Now().Add(o.handshakeTimeout))
	defer func() { _ = ws.SetReadDeadline(time.Time{}) }()

	var pending []Event
	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, core.NewConnectionError("session acknowledgment timed out", ctx.Err())
			}
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, core.NewConnectionError("session acknowledgment timed out", err)
			}
			return nil, core.NewConnectionError("channel closed before session acknowledgment", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}
		ev, err := decodeServerFrame(data)
		if err != nil {
			o.logger.Warn("dropping malformed frame during handshake", "error", err)
			continue
		}
		switch e := ev.(type) {
		case ErrorEvent:
			return nil, &core.Error{
				Type:    core.ErrConnection,
				Message: firstNonEmpty(strings.TrimSpace(e.Message), "session rejected"),
				Code:    e.Code,
				Param:   e.Param,
			}
		case SessionReadyEvent:
			pending = append(pending, e)
			if e.Acknowledged {
				return pending, nil
			}
		default:
			pending = append(pending, ev)
		}
	}
}

func channelURL(base, model string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("model", model)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func newEventID() string {
	return "evt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// Config returns the negotiated session configuration.
func (c *Conn) Config() SessionConfig { return c.cfg }

// OnEvent subscribes h to every event delivered from now on.
func (c *Conn) OnEvent(h Handler) {
	if c == nil || h == nil {
		return
	}
	c.subMu.Lock()
	c.all = append(c.all, h)
	c.subMu.Unlock()
}

// Subscribe registers h for events whose EventType is kind.
func (c *Conn) Subscribe(kind string, h Handler) {
	if c == nil || h == nil {
		return
	}
	c.subMu.Lock()
	c.byKind[kind] = append(c.byKind[kind], h)
	c.subMu.Unlock()
}

// Send queues ev for the writer. Frames are written in call order.
func (c *Conn) Send(ev protocol.ClientEvent) error {
	if ev == nil {
		return core.NewInvalidRequestError("event must not be nil")
	}
	if c == nil || c.closed.Load() {
		return core.NewNotConnectedError(ev.ClientEventType())
	}
	ev.EnsureEventID(c.newID)
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.ClientEventType(), err)
	}
	select {
	case <-c.stop:
		return core.NewNotConnectedError(ev.ClientEventType())
	default:
	}
	select {
	case c.outbound <- data:
		return nil
	case <-c.stop:
		return core.NewNotConnectedError(ev.ClientEventType())
	}
}

// Close ends the session. Unsent frames are dropped. It is idempotent and
// waits for the connection's goroutines to finish, so ChannelClosedEvent has
// been delivered when it returns. Called from an event handler, it cannot wait
// for the dispatcher it runs on and returns once the socket is closed.
func (c *Conn) Close() error {
	if c == nil {
		return nil
	}
	c.shutdown()
	<-c.writeDone
	<-c.readDone
	if id := c.dispatcher.Load(); id == 0 || goid() != id {
		<-c.dispatchDone
	}
	return nil
}

// Done is closed after ChannelClosedEvent has been delivered.
func (c *Conn) Done() <-chan struct{} {
	return c.dispatchDone
}

// Closed reports whether the channel has stopped accepting sends.
func (c *Conn) Closed() bool {
	return c == nil || c.closed.Load()
}

// Err returns the terminal transport error, if any.
func (c *Conn) Err() error {
	if c == nil {
		return nil
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Conn) setErr(err error) {
	if err == nil {
		return
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Conn) shutdown() {
	c.stopOnce.Do(func() {
		c.closed.Store(true)
		close(c.stop)
	})
}

func (c *Conn) writeLoop(w *outboundWriter) {
	defer close(c.writeDone)
	if err := w.Run(); err != nil && !c.closed.Load() {
		c.logger.Error("realtime write failed", "error", err)
		c.setErr(core.NewConnectionError("write failed", err))
	}
	c.shutdown()
}

func (c *Conn) readLoop() {
	defer close(c.readDone)
	defer close(c.inbound)

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			switch {
			case c.closed.Load():
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				c.logger.Info("realtime channel closed by remote")
			default:
				c.logger.Error("realtime read failed", "error", err)
				c.setErr(core.NewConnectionError("channel lost", err))
			}
			c.shutdown()
			return
		}
		if messageType != websocket.TextMessage {
			c.logger.Debug("ignoring non-text frame", "message_type", messageType)
			continue
		}

		ev, err := decodeServerFrame(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		if u, ok := ev.(UnknownEvent); ok {
			c.logger.Debug("unrecognized frame", "type", u.Type)
		}

		select {
		case c.inbound <- ev:
		case <-c.stop:
			return
		}
	}
}

func (c *Conn) dispatchLoop() {
	defer close(c.dispatchDone)
	c.dispatcher.Store(goid())
	for ev := range c.inbound {
		c.deliver(ev)
	}
	c.deliver(ChannelClosedEvent{Err: c.Err()})
}

func (c *Conn) deliver(ev Event) {
	c.subMu.RLock()
	handlers := make([]Handler, 0, len(c.all)+len(c.byKind[ev.EventType()]))
	handlers = append(handlers, c.all...)
	handlers = append(handlers, c.byKind[ev.EventType()]...)
	c.subMu.RUnlock()

	for _, h := range handlers {
		c.invoke(h, ev)
	}
}

func (c *Conn) invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event handler panicked", "event", ev.EventType(), "panic", r)
		}
	}()
	h(ev)
}

// goid returns the current goroutine's id as printed in its stack header,
// "goroutine N [...". Close uses it to tell a handler calling back in from any
// other caller.
func goid() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
