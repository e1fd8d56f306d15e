package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vango-go/vai-realtime/pkg/core"
	"github.com/vango-go/vai-realtime/pkg/credential"
	"github.com/vango-go/vai-realtime/pkg/realtime/history"
	"github.com/vango-go/vai-realtime/pkg/realtime/protocol"
	"github.com/vango-go/vai-realtime/pkg/realtime/tools"
	"github.com/vango-go/vai-realtime/pkg/realtime/turn"
)

var tracer = otel.Tracer("github.com/vango-go/vai-realtime/pkg/realtime")

type managerOptions struct {
	logger      *slog.Logger
	dial        []DialOption
	toolTimeout time.Duration
}

// Option configures a Manager.
type Option func(*managerOptions)

func WithManagerLogger(l *slog.Logger) Option {
	return func(o *managerOptions) { o.logger = l }
}

// WithDialOptions passes options through to Dial on every Connect.
func WithDialOptions(opts ...DialOption) Option {
	return func(o *managerOptions) { o.dial = append(o.dial, opts...) }
}

// WithToolTimeout bounds each tool handler. Zero uses tools.DefaultTimeout.
func WithToolTimeout(d time.Duration) Option {
	return func(o *managerOptions) { o.toolTimeout = d }
}

// Manager is the caller-facing session API. It owns at most one live session
// at a time and fans inbound events out to the turn machine, the tool
// dispatcher and the conversation log.
type Manager struct {
	broker   credential.Broker
	logger   *slog.Logger
	opts     managerOptions
	registry *tools.Registry

	mu         sync.Mutex
	cfg        SessionConfig
	sess       *session
	connecting bool

	obsMu   sync.RWMutex
	onTurn  []turn.TransitionFunc
	onConv  []func([]history.Item)
	onAudio []func(AudioDeltaEvent)
	onFatal []func(error)
	onEvent []Handler
}

func NewManager(broker credential.Broker, cfg SessionConfig, opts ...Option) *Manager {
	var o managerOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return &Manager{
		broker:   broker,
		logger:   o.logger,
		opts:     o,
		registry: tools.NewRegistry(),
		cfg:      cfg,
	}
}

// RegisterTool adds a local capability. Names are unique per manager; a
// duplicate fails with a tool conflict error and keeps the first handler.
// Registering on a live session renegotiates the tool list.
func (m *Manager) RegisterTool(def tools.Definition, h tools.Handler) error {
	if err := m.registry.Register(def, h); err != nil {
		return err
	}
	s := m.current()
	if s == nil {
		return nil
	}
	m.mu.Lock()
	cfg := m.sessionConfig()
	m.mu.Unlock()
	return s.conn.Send(cfg.sessionUpdate())
}

// sessionConfig returns the normalized config with the registered tools.
// Callers hold m.mu.
func (m *Manager) sessionConfig() SessionConfig {
	cfg := m.cfg
	cfg.Tools = m.registry.Definitions()
	return cfg.Normalized()
}

// Connect requests a credential and establishes a session. It fails with a
// connection error while another session is live.
func (m *Manager) Connect(ctx context.Context) (err error) {
	m.mu.Lock()
	if m.sess != nil || m.connecting {
		m.mu.Unlock()
		return core.NewConnectionError("session already active", nil)
	}
	cfg := m.sessionConfig()
	m.connecting = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.connecting = false
		m.mu.Unlock()
	}()

	ctx, span := tracer.Start(ctx, "realtime.connect")
	defer span.End()
	span.SetAttributes(
		attribute.String("realtime.model", cfg.Model),
		attribute.String("realtime.voice", cfg.Voice),
		attribute.Int("realtime.tools", len(cfg.Tools)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "connect failed")
		}
	}()

	if err := cfg.Validate(); err != nil {
		return core.NewConnectionError("invalid session config", err)
	}
	if m.broker == nil {
		return core.NewCredentialError("no credential broker configured", nil)
	}
	cred, err := m.broker.RequestCredential(ctx)
	if err != nil {
		return err
	}

	s := newSession(m, cfg)
	dialOpts := append([]DialOption{WithLogger(m.logger)}, m.opts.dial...)
	dialOpts = append(dialOpts, WithHandler(s.handle))
	conn, err := Dial(ctx, cred, cfg, dialOpts...)
	if err != nil {
		s.abandon()
		return err
	}

	s.bind(conn)
	m.mu.Lock()
	// A channel that already died has torn its session down.
	if !conn.Closed() {
		m.sess = s
	}
	m.mu.Unlock()
	return nil
}

func (m *Manager) current() *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

func (m *Manager) live(op string) (*session, error) {
	s := m.current()
	if s == nil || s.conn.Closed() {
		return nil, core.NewNotConnectedError(op)
	}
	return s, nil
}

// Connected reports whether a session is live.
func (m *Manager) Connected() bool {
	s := m.current()
	return s != nil && !s.conn.Closed()
}

// State returns the current turn state; idle without a session.
func (m *Manager) State() turn.State {
	if s := m.current(); s != nil {
		return s.machine.State()
	}
	return turn.Idle
}

// Conversation returns the projected conversation of the live session.
func (m *Manager) Conversation() []history.Item {
	if s := m.current(); s != nil {
		return s.log.Project()
	}
	return nil
}

// SendText adds a user text message and asks the agent to respond.
func (m *Manager) SendText(text string) error {
	s, err := m.live("send text")
	if err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return core.NewInvalidRequestError("text must not be empty")
	}

	itemID := "item_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
	content, _ := json.Marshal(text)
	if s.log.Upsert(history.RawItem{ID: itemID, Type: protocol.ItemTypeMessage, Role: "user", Content: content}) {
		m.notifyConversation(s.log.Project())
	}

	s.machine.ForgetUnbound()
	if err := s.conn.Send(protocol.NewUserMessage(itemID, text)); err != nil {
		return err
	}
	return s.conn.Send(protocol.NewResponseCreate(nil))
}

// AppendAudio streams PCM16 input audio.
func (m *Manager) AppendAudio(pcm []byte) error {
	s, err := m.live("append audio")
	if err != nil {
		return err
	}
	if len(pcm) == 0 {
		return nil
	}
	return s.conn.Send(protocol.NewInputAudioAppend(pcm))
}

// CommitAudio closes the input buffer. Only needed with turn detection off.
func (m *Manager) CommitAudio() error {
	s, err := m.live("commit audio")
	if err != nil {
		return err
	}
	return s.conn.Send(protocol.NewInputAudioCommit())
}

func (m *Manager) ClearAudio() error {
	s, err := m.live("clear audio")
	if err != nil {
		return err
	}
	return s.conn.Send(protocol.NewInputAudioClear())
}

// CreateResponse explicitly triggers an agent turn.
func (m *Manager) CreateResponse(opts *protocol.ResponseOptions) error {
	s, err := m.live("create response")
	if err != nil {
		return err
	}
	s.machine.ForgetUnbound()
	return s.conn.Send(protocol.NewResponseCreate(opts))
}

// Truncate tells the agent how much of an assistant audio item was actually
// played, so its transcript matches what the user heard.
func (m *Manager) Truncate(itemID string, contentIndex, audioEndMS int) error {
	s, err := m.live("truncate")
	if err != nil {
		return err
	}
	return s.conn.Send(protocol.NewItemTruncate(itemID, contentIndex, audioEndMS))
}

// Interrupt cancels the in-flight agent turn. It reports false, and sends
// nothing, unless the turn is processing or responding.
func (m *Manager) Interrupt() (bool, error) {
	s := m.current()
	if s == nil || s.conn.Closed() {
		return false, nil
	}
	responseID, ok := s.machine.Interrupt()
	if !ok {
		return false, nil
	}
	if responseID != "" {
		s.log.Freeze(responseID)
	}
	if s.awaitingTools(responseID) {
		// Already done on the service side; only its follow-up is suppressed.
		m.logger.Info("turn interrupted while tools run", "response_id", responseID)
		return true, nil
	}
	m.logger.Info("turn interrupted", "response_id", responseID)
	return true, s.conn.Send(protocol.NewResponseCancel(responseID))
}

// Update replaces the session configuration. On a live session the new
// configuration is sent as a session.update; it otherwise applies on the
// next Connect.
func (m *Manager) Update(cfg SessionConfig) error {
	m.mu.Lock()
	prev := m.cfg
	m.cfg = cfg
	next := m.sessionConfig()
	if err := next.Validate(); err != nil {
		m.cfg = prev
		m.mu.Unlock()
		return err
	}
	s := m.sess
	m.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.conn.Send(next.sessionUpdate())
}

// Close ends the live session, if any. It is idempotent.
func (m *Manager) Close() error {
	s := m.current()
	if s == nil {
		return nil
	}
	err := s.conn.Close()
	m.mu.Lock()
	if m.sess == s {
		m.sess = nil
	}
	m.mu.Unlock()
	return err
}

// OnTurnState observes turn state transitions of every session.
func (m *Manager) OnTurnState(fn turn.TransitionFunc) {
	if fn == nil {
		return
	}
	m.obsMu.Lock()
	m.onTurn = append(m.onTurn, fn)
	m.obsMu.Unlock()
}

// OnConversation receives the full projected conversation after each change.
func (m *Manager) OnConversation(fn func([]history.Item)) {
	if fn == nil {
		return
	}
	m.obsMu.Lock()
	m.onConv = append(m.onConv, fn)
	m.obsMu.Unlock()
}

// OnAudio receives assistant audio that belongs to a live turn.
func (m *Manager) OnAudio(fn func(AudioDeltaEvent)) {
	if fn == nil {
		return
	}
	m.obsMu.Lock()
	m.onAudio = append(m.onAudio, fn)
	m.obsMu.Unlock()
}

// OnFatal is called once when a session ends because of a transport failure.
func (m *Manager) OnFatal(fn func(error)) {
	if fn == nil {
		return
	}
	m.obsMu.Lock()
	m.onFatal = append(m.onFatal, fn)
	m.obsMu.Unlock()
}

// OnEvent observes every inbound event after the manager has applied it.
func (m *Manager) OnEvent(h Handler) {
	if h == nil {
		return
	}
	m.obsMu.Lock()
	m.onEvent = append(m.onEvent, h)
	m.obsMu.Unlock()
}

func (m *Manager) notifyTurn(from, to turn.State) {
	m.obsMu.RLock()
	fns := slices.Clone(m.onTurn)
	m.obsMu.RUnlock()
	for _, fn := range fns {
		fn(from, to)
	}
}

func (m *Manager) notifyConversation(items []history.Item) {
	m.obsMu.RLock()
	fns := slices.Clone(m.onConv)
	m.obsMu.RUnlock()
	for _, fn := range fns {
		fn(items)
	}
}

func (m *Manager) notifyAudio(ev AudioDeltaEvent) {
	m.obsMu.RLock()
	fns := slices.Clone(m.onAudio)
	m.obsMu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (m *Manager) notifyFatal(err error) {
	m.obsMu.RLock()
	fns := slices.Clone(m.onFatal)
	m.obsMu.RUnlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (m *Manager) notifyEvent(ev Event) {
	m.obsMu.RLock()
	hs := slices.Clone(m.onEvent)
	m.obsMu.RUnlock()
	for _, h := range hs {
		h(ev)
	}
}

// session is the per-connection state. Nothing in it outlives the channel.
type session struct {
	mgr        *Manager
	cfg        SessionConfig
	logger     *slog.Logger
	machine    *turn.Machine
	log        *history.Log
	dispatcher *tools.Dispatcher

	conn  *Conn
	ready chan struct{}

	mu        sync.Mutex
	calls     map[string]string // call id -> response id
	responses map[string]*toolResponse
}

// toolResponse tracks a response that requested tools. The follow-up
// response is created once it is done and every call has been answered.
type toolResponse struct {
	pending int
	done    bool
}

func newSession(m *Manager, cfg SessionConfig) *session {
	s := &session{
		mgr:       m,
		cfg:       cfg,
		logger:    m.logger,
		machine:   turn.New(m.logger),
		log:       history.NewLog(),
		ready:     make(chan struct{}),
		calls:     make(map[string]string),
		responses: make(map[string]*toolResponse),
	}
	s.machine.OnTransition(m.notifyTurn)
	s.dispatcher = tools.NewDispatcher(m.registry, s.emitResult, tools.DispatcherOptions{
		Timeout: m.opts.toolTimeout,
		Logger:  m.logger,
	})
	return s
}

func (s *session) bind(conn *Conn) {
	s.conn = conn
	close(s.ready)
}

// abandon releases a session whose dial failed.
func (s *session) abandon() {
	s.dispatcher.Close()
}

// send waits for Dial to hand over the connection; handshake events can reach
// the handler before Connect has stored it.
func (s *session) send(ev protocol.ClientEvent) error {
	<-s.ready
	return s.conn.Send(ev)
}

func (s *session) handle(ev Event) {
	switch e := ev.(type) {
	case SessionReadyEvent:
		if e.Acknowledged {
			s.machine.Ready()
		}
	case SpeechStartedEvent:
		s.machine.SpeechStarted()
	case SpeechStoppedEvent:
		s.machine.SpeechStopped()
	case ResponseCreatedEvent:
		s.machine.ResponseCreated(e.ResponseID)
		if s.machine.Cancelled(e.ResponseID) {
			s.log.Freeze(e.ResponseID)
		}
	case AudioDeltaEvent:
		if s.machine.Cancelled(e.ResponseID) {
			return
		}
		s.machine.AudioDelta(e.ResponseID)
		s.mgr.notifyAudio(e)
	case TranscriptDeltaEvent:
		if s.machine.Cancelled(e.ResponseID) {
			return
		}
		s.machine.AudioDelta(e.ResponseID)
		if s.log.AppendDelta(e.ItemID, e.ContentIndex, e.Delta) {
			s.mgr.notifyConversation(s.log.Project())
		}
	case ResponseDoneEvent:
		s.responseDone(e)
	case ToolCallRequestedEvent:
		s.toolCall(e)
	case HistoryItemEvent:
		if s.machine.Cancelled(e.ResponseID) {
			return
		}
		if s.log.Upsert(e.raw()) {
			s.mgr.notifyConversation(s.log.Project())
		}
	case InputTranscriptEvent:
		if s.log.SetTranscript(e.ItemID, e.ContentIndex, e.Transcript) {
			s.mgr.notifyConversation(s.log.Project())
		}
	case HistoryItemDeletedEvent:
		if s.log.Delete(e.ItemID) {
			s.mgr.notifyConversation(s.log.Project())
		}
	case HistorySnapshotEvent:
		s.log.Replace(e.raw())
		s.mgr.notifyConversation(s.log.Project())
	case ErrorEvent:
		s.logger.Warn("agent service reported an error", "type", e.Type, "code", e.Code, "message", e.Message)
	case ChannelClosedEvent:
		s.teardown(e)
	}
	s.mgr.notifyEvent(ev)
}

// toolCall counts the call against its response before dispatching, because
// unknown tools are answered inside Dispatch. A refused call is uncounted.
func (s *session) toolCall(e ToolCallRequestedEvent) {
	s.mu.Lock()
	if _, dup := s.calls[e.CallID]; dup {
		s.mu.Unlock()
		s.logger.Warn("tool call already pending", "call_id", e.CallID, "tool", e.Name)
		return
	}
	s.calls[e.CallID] = e.ResponseID
	tr := s.responses[e.ResponseID]
	if tr == nil {
		tr = &toolResponse{}
		s.responses[e.ResponseID] = tr
	}
	tr.pending++
	s.mu.Unlock()

	accepted := s.dispatcher.Dispatch(context.Background(), tools.Call{
		CallID:     e.CallID,
		Name:       e.Name,
		Arguments:  e.Arguments,
		ResponseID: e.ResponseID,
	})
	if !accepted {
		s.settle(e.CallID)
	}
}

// awaitingTools reports whether responseID is done and only waits on tool
// results.
func (s *session) awaitingTools(responseID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr := s.responses[responseID]
	return tr != nil && tr.done
}

func (s *session) responseDone(e ResponseDoneEvent) {
	s.mu.Lock()
	tr := s.responses[e.ResponseID]
	follow := false
	if tr != nil {
		tr.done = true
		follow = tr.pending == 0
		if follow {
			delete(s.responses, e.ResponseID)
		}
	}
	s.mu.Unlock()

	if tr == nil {
		s.machine.ResponseDone(e.ResponseID)
		return
	}
	s.machine.Continue(e.ResponseID)
	if follow {
		s.followUp(e.ResponseID)
	}
}

// emitResult sends one tool result. It runs on the dispatcher's goroutines
// and, for unknown tools, on the dispatch goroutine.
func (s *session) emitResult(res tools.Result) {
	out, err := res.Output()
	if err != nil {
		s.logger.Error("tool result not encodable", "call_id", res.CallID, "tool", res.Name, "error", err)
		out, _ = tools.Result{CallID: res.CallID, Failure: tools.ReasonExecutionFailed}.Output()
	}
	if err := s.send(protocol.NewFunctionCallOutput(res.CallID, out)); err != nil {
		s.logger.Warn("tool result discarded", "call_id", res.CallID, "tool", res.Name, "error", err)
		return
	}

	s.settle(res.CallID)
}

// settle marks a call as answered, or refused, and requests the follow-up once
// its response has no calls left.
func (s *session) settle(callID string) {
	s.mu.Lock()
	responseID, known := s.calls[callID]
	delete(s.calls, callID)
	follow := false
	if tr := s.responses[responseID]; known && tr != nil {
		tr.pending--
		follow = tr.pending == 0 && tr.done
		if follow {
			delete(s.responses, responseID)
		}
	}
	s.mu.Unlock()

	if follow {
		s.followUp(responseID)
	}
}

// followUp asks the agent to continue after its tool calls were answered,
// unless the turn that asked for them was interrupted.
func (s *session) followUp(responseID string) {
	if !s.machine.FollowUp(responseID) {
		s.logger.Debug("skipping follow-up for interrupted response", "response_id", responseID)
		return
	}
	if err := s.send(protocol.NewResponseCreate(nil)); err != nil {
		s.logger.Warn("follow-up response not requested", "response_id", responseID, "error", err)
	}
}

func (s *session) teardown(e ChannelClosedEvent) {
	s.dispatcher.Close()
	s.machine.Reset()

	s.mgr.mu.Lock()
	if s.mgr.sess == s {
		s.mgr.sess = nil
	}
	s.mgr.mu.Unlock()

	if e.Err != nil {
		s.logger.Error("realtime session lost", "error", e.Err)
		s.mgr.notifyFatal(e.Err)
		return
	}
	s.logger.Info("realtime session closed")
}
