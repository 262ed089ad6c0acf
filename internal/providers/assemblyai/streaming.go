package assemblyai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"callscribe/internal/domain"
	"callscribe/internal/metrics"
	"callscribe/internal/ports"
)

const (
	defaultStreamingURL = "wss://streaming.assemblyai.com/v3/ws"
	defaultEncoding     = "pcm_s16le"
	defaultStopTimeout  = 5 * time.Second
	defaultWriteTimeout = 5 * time.Second
	updateBuffer        = 64
	outboundBuffer      = 32
	closeWriteWait      = time.Second
)

// Config controls the AssemblyAI streaming websocket.
type Config struct {
	StreamingURL string
	SampleRate   int
	Encoding     string
	FormatTurns  bool
	StopTimeout  time.Duration
	WriteTimeout time.Duration
}

// Client implements ports.TranscriptionClient for AssemblyAI v3 streaming.
type Client struct {
	cfg     Config
	dialer  *websocket.Dialer
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewClient(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	if cfg.StreamingURL == "" {
		cfg.StreamingURL = defaultStreamingURL
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = domain.SampleRate
	}
	if cfg.Encoding == "" {
		cfg.Encoding = defaultEncoding
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		dialer:  websocket.DefaultDialer,
		logger:  logger.With("component", "streaming"),
		metrics: m,
		now:     time.Now,
	}
}

// Connect opens a session with token. The handshake must finish inside the token's
// validity window, otherwise the attempt fails with domain.ErrAuthExpired.
func (c *Client) Connect(ctx context.Context, token domain.StreamingToken) (ports.StreamingSession, error) {
	if strings.TrimSpace(token.Value) == "" {
		return nil, fmt.Errorf("%w: streaming token is empty", domain.ErrConnect)
	}
	if token.Expired(c.now()) {
		return nil, fmt.Errorf("%w: token expired at %s", domain.ErrAuthExpired, token.ExpiresAt().Format(time.RFC3339))
	}

	wsURL, err := buildStreamURL(c.cfg, token.Value)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithDeadline(ctx, token.ExpiresAt())
	defer cancel()

	conn, resp, err := c.dialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		if ctx.Err() == nil && (dialCtx.Err() != nil || token.Expired(c.now())) {
			return nil, fmt.Errorf("%w: %v", domain.ErrAuthExpired, err)
		}
		if resp != nil {
			return nil, fmt.Errorf("%w: handshake status %d: %v", domain.ErrConnect, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrConnect, err)
	}
	if token.Expired(c.now()) {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: handshake completed after token expiry", domain.ErrAuthExpired)
	}

	session := newSession(conn, c.cfg, c.logger, c.metrics)
	session.start()
	c.logger.Debug("streaming websocket connected")
	return session, nil
}

func buildStreamURL(cfg Config, token string) (string, error) {
	streamURL, err := url.Parse(strings.TrimSpace(cfg.StreamingURL))
	if err != nil {
		return "", fmt.Errorf("%w: invalid streaming url: %v", domain.ErrConnect, err)
	}
	switch streamURL.Scheme {
	case "https":
		streamURL.Scheme = "wss"
	case "http":
		streamURL.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("%w: unsupported streaming url scheme %q", domain.ErrConnect, streamURL.Scheme)
	}

	query := streamURL.Query()
	query.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	query.Set("encoding", cfg.Encoding)
	if cfg.FormatTurns {
		query.Set("format_turns", "true")
	}
	query.Set("token", token)
	streamURL.RawQuery = query.Encode()
	return streamURL.String(), nil
}

type control int

const (
	controlPause control = iota
	controlResume
	controlStop
)

type outboundMessage struct {
	kind int
	data []byte
}

// Session is one AssemblyAI streaming session. A single run goroutine owns the
// state machine and the transcript; the reader and writer goroutines only move bytes.
type Session struct {
	conn    *websocket.Conn
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	frames   chan domain.PcmFrame
	controls chan control
	inbound  chan serverMessage
	readErr  chan error
	writeErr chan error
	outbound chan outboundMessage
	updates  chan domain.TranscriptUpdate
	quit     chan struct{}
	kill     chan struct{}
	done     chan struct{}

	killOnce sync.Once
	wg       sync.WaitGroup

	// owned by run
	began  bool
	paused bool
	held   domain.PcmFrame
	text   *transcript
	grace  *time.Timer

	mu        sync.Mutex
	state     domain.SessionState
	err       error
	final     string
	sessionID string
	expiresAt time.Time
}

func newSession(conn *websocket.Conn, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Session {
	return &Session{
		conn:     conn,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		frames:   make(chan domain.PcmFrame),
		controls: make(chan control),
		inbound:  make(chan serverMessage),
		readErr:  make(chan error, 1),
		writeErr: make(chan error, 1),
		outbound: make(chan outboundMessage, outboundBuffer),
		updates:  make(chan domain.TranscriptUpdate, updateBuffer),
		quit:     make(chan struct{}),
		kill:     make(chan struct{}),
		done:     make(chan struct{}),
		text:     newTranscript(),
		state:    domain.SessionStateOpen,
	}
}

func (s *Session) start() {
	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	go s.run()
}

// SendFrame hands one frame to the session. Before the server's Begin only one
// frame is held; further calls block until Begin arrives or ctx ends.
func (s *Session) SendFrame(ctx context.Context, frame domain.PcmFrame) error {
	if len(frame) == 0 {
		return nil
	}
	select {
	case s.frames <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		if err := s.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w: session closed", domain.ErrTransportClosed)
	}
}

// Pause stops forwarding frames without touching the socket.
func (s *Session) Pause() {
	s.control(controlPause)
}

func (s *Session) Resume() {
	s.control(controlResume)
}

func (s *Session) control(c control) {
	select {
	case s.controls <- c:
	case <-s.done:
	}
}

// Stop asks the server to terminate and waits for its acknowledgement for at most
// the configured stop timeout. It is idempotent and only fails if the session failed.
func (s *Session) Stop(ctx context.Context) error {
	select {
	case s.controls <- controlStop:
	case <-s.done:
	case <-ctx.Done():
		_ = s.Close()
		return ctx.Err()
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		_ = s.Close()
		return ctx.Err()
	}

	if s.State() == domain.SessionStateFailed {
		return s.Err()
	}
	return nil
}

// Close discards the transport immediately.
func (s *Session) Close() error {
	s.killOnce.Do(func() { close(s.kill) })
	<-s.done
	return nil
}

func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Transcript returns the sealed text so far.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.final
}

func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Session) Updates() <-chan domain.TranscriptUpdate {
	return s.updates
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) run() {
	for {
		frames := s.frames
		if s.State() == domain.SessionStateOpen && s.held != nil {
			frames = nil
		}

		var grace <-chan time.Time
		if s.grace != nil {
			grace = s.grace.C
		}

		select {
		case frame := <-frames:
			s.handleFrame(frame)
		case msg := <-s.inbound:
			if s.handleMessage(msg) {
				return
			}
		case c := <-s.controls:
			s.handleControl(c)
		case err := <-s.readErr:
			state, cause := classifyReadErr(err)
			s.finish(state, cause)
			return
		case err := <-s.writeErr:
			s.finish(domain.SessionStateFailed, fmt.Errorf("%w: write failed: %v", domain.ErrTransportClosed, err))
			return
		case <-grace:
			s.logger.Warn("termination was not acknowledged, closing", "timeout", s.cfg.StopTimeout)
			s.finish(domain.SessionStateClosed, nil)
			return
		case <-s.kill:
			s.finish(domain.SessionStateClosed, nil)
			return
		}
	}
}

func (s *Session) handleFrame(frame domain.PcmFrame) {
	switch s.State() {
	case domain.SessionStateOpen:
		if !s.paused {
			s.held = frame
		}
	case domain.SessionStateStreaming:
		s.send(websocket.BinaryMessage, frame)
	}
}

func (s *Session) handleMessage(msg serverMessage) bool {
	switch m := msg.(type) {
	case beginMessage:
		if s.began {
			s.finish(domain.SessionStateFailed, fmt.Errorf("%w: duplicate Begin", domain.ErrProtocolViolation))
			return true
		}
		s.began = true
		s.mu.Lock()
		s.sessionID = m.ID
		s.expiresAt = m.ExpiresAt
		s.mu.Unlock()
		s.logger.Info("streaming session began", "session_id", m.ID, "expires_at", m.ExpiresAt)

		if s.State() != domain.SessionStateOpen {
			s.held = nil
			return false
		}
		if s.paused {
			s.held = nil
			s.setState(domain.SessionStatePausing)
			return false
		}
		s.setState(domain.SessionStateStreaming)
		if s.held != nil {
			s.send(websocket.BinaryMessage, s.held)
			s.held = nil
		}
	case turnMessage:
		if !s.began {
			s.finish(domain.SessionStateFailed, fmt.Errorf("%w: Turn before Begin", domain.ErrProtocolViolation))
			return true
		}
		if s.text.apply(m) {
			s.metrics.SegmentSealed()
		} else if !m.EndOfTurn {
			s.metrics.PartialUpdate()
		}
		s.publish()
	case terminationMessage:
		if !s.began {
			s.finish(domain.SessionStateFailed, fmt.Errorf("%w: Termination before Begin", domain.ErrProtocolViolation))
			return true
		}
		s.logger.Info("streaming session terminated", "audio_duration_seconds", m.AudioDuration)
		s.finish(domain.SessionStateClosed, nil)
		return true
	case errorMessage:
		s.logger.Warn("streaming server reported an error", "error", m.Text)
	}
	return false
}

func (s *Session) handleControl(c control) {
	state := s.State()
	switch c {
	case controlPause:
		s.paused = true
		s.held = nil
		if state == domain.SessionStateStreaming {
			s.setState(domain.SessionStatePausing)
		}
	case controlResume:
		s.paused = false
		if state == domain.SessionStatePausing {
			s.setState(domain.SessionStateStreaming)
		}
	case controlStop:
		if state == domain.SessionStateClosing {
			return
		}
		s.held = nil
		s.setState(domain.SessionStateClosing)
		s.send(websocket.TextMessage, terminatePayload)
		s.grace = time.NewTimer(s.cfg.StopTimeout)
	}
}

func (s *Session) publish() {
	update := s.text.snapshot()
	s.mu.Lock()
	s.final = update.Final
	s.mu.Unlock()

	select {
	case s.updates <- update:
	default:
		s.logger.Debug("transcript consumer is behind, dropping snapshot")
	}
}

func (s *Session) send(kind int, data []byte) {
	select {
	case s.outbound <- outboundMessage{kind: kind, data: data}:
	case <-s.kill:
	}
}

func (s *Session) setState(state domain.SessionState) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()
	s.logger.Debug("streaming session state changed", "from", prev, "to", state)
}

func (s *Session) finish(state domain.SessionState, err error) {
	if s.grace != nil {
		s.grace.Stop()
	}

	s.mu.Lock()
	s.state = state
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()

	close(s.quit)
	close(s.outbound)
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeWriteWait),
	)
	_ = s.conn.Close()
	s.wg.Wait()
	close(s.updates)

	s.metrics.SessionEnded(string(state))
	if err != nil {
		s.logger.Warn("streaming session ended", "state", state, "error", err)
	} else {
		s.logger.Info("streaming session ended", "state", state)
	}
	close(s.done)
}

func (s *Session) writeLoop() {
	defer s.wg.Done()

	failed := false
	for msg := range s.outbound {
		if failed {
			continue
		}
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if err := s.conn.WriteMessage(msg.kind, msg.data); err != nil {
			failed = true
			s.writeErr <- err
			continue
		}
		if msg.kind == websocket.BinaryMessage {
			s.metrics.FrameSent()
		}
	}
}

func (s *Session) readLoop() {
	defer s.wg.Done()

	for {
		kind, payload, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case s.readErr <- err:
			default:
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		msg, err := parseServerMessage(payload)
		if err != nil {
			s.metrics.MessageIgnored()
			s.logger.Debug("ignoring server message", "error", err)
			continue
		}

		select {
		case s.inbound <- msg:
		case <-s.quit:
			return
		}
	}
}

func classifyReadErr(err error) (domain.SessionState, error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
			return domain.SessionStateClosed, nil
		case websocket.CloseAbnormalClosure:
			return domain.SessionStateClosed, fmt.Errorf("%w: %v", domain.ErrTransportClosed, err)
		default:
			return domain.SessionStateFailed, fmt.Errorf("%w: server closed with code %d: %s", domain.ErrTransportClosed, closeErr.Code, closeErr.Text)
		}
	}
	return domain.SessionStateClosed, fmt.Errorf("%w: %v", domain.ErrTransportClosed, err)
}
