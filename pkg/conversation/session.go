// Package conversation runs a full-duplex voice conversation with a Gemini
// Live style speech service.
//
// A Session streams microphone audio to the service and plays the
// synthesized replies gaplessly, while staying responsive to barge-in.
// All session state is owned by one event-loop goroutine: device
// callbacks, the connection reader, timers and host calls post events to
// it, a pure transition function decides what happens, and the loop
// performs the resulting effects. Host callbacks are delivered in order on
// a separate goroutine.
//
// Example usage:
//
//	session, err := conversation.NewSession(
//	    conversation.WithAPIKey(os.Getenv("GOOGLE_API_KEY")),
//	    conversation.WithSystemInstruction("You are a helpful assistant."),
//	    conversation.WithTranscriptHandler(func(t conversation.Transcript) {
//	        fmt.Printf("%s: %s\n", t.Origin, t.Text)
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	if err := session.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	if err := session.StartListening(ctx); err != nil {
//	    log.Fatal(err)
//	}
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-livevoice/pkg/audioio"
	"github.com/teslashibe/go-livevoice/pkg/capture"
	"github.com/teslashibe/go-livevoice/pkg/metrics"
	"github.com/teslashibe/go-livevoice/pkg/playback"
	"github.com/teslashibe/go-livevoice/pkg/transport"
)

const (
	eventQueueSize = 64
	frameQueueSize = 32
)

// Session is one conversation with the service. It owns its connection,
// microphone stream and speaker output; nothing is shared between sessions.
type Session struct {
	id          string
	cfg         *Config
	logger      *slog.Logger
	setup       []byte
	adjustments []Adjustment

	ctx    context.Context
	cancel context.CancelFunc

	events   chan event
	frames   chan []byte
	captures chan captureCmd
	results  chan evCaptureResult
	done     chan struct{}
	capDone  chan struct{}
	notify   *notifier
	closing  sync.Once

	state atomic.Int32

	// Owned by the loop goroutine.
	m         machine
	followups []event
	conn      transport.Conn
	out       audioio.Output
	sched     *playback.Scheduler
	timer     *time.Timer
	poll      *time.Ticker
	pollC     <-chan time.Time
	pipeline  *capture.Pipeline
	dialStart time.Time
	awaiting  time.Time
}

type captureCmd struct {
	start bool
	ctx   context.Context
	gen   uint64
	ack   chan struct{}
}

// NewSession validates the configuration and starts an idle session.
// Credential and system instruction problems are returned as errors; other
// invalid values are replaced with defaults and reported through
// Adjustments and the config-adjusted callback.
func NewSession(opts ...Option) (*Session, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	id := uuid.NewString()
	logger := cfg.Logger.With("component", "conversation.session", "session_id", id)

	adj, err := cfg.normalize(logger)
	if err != nil {
		return nil, err
	}

	msg := buildSetup(cfg)
	if err := ValidateHandshake(msg); err != nil {
		return nil, err
	}
	setup, err := encode(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHandshake, err)
	}

	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = playback.DefaultPollInterval
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &transport.WebSocketDialer{HandshakeTimeout: cfg.HandshakeTimeout, Logger: logger}
	}
	if cfg.Capturer == nil {
		if cfg.Capturer, err = audioio.NewCapturer(cfg.Input, logger); err != nil {
			return nil, fmt.Errorf("create capturer: %w", err)
		}
	}
	if cfg.Renderer == nil {
		if cfg.Renderer, err = audioio.NewRenderer(cfg.Output.Backend, logger); err != nil {
			return nil, fmt.Errorf("create renderer: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:          id,
		cfg:         cfg,
		logger:      logger,
		setup:       setup,
		adjustments: adj,
		ctx:         ctx,
		cancel:      cancel,
		events:      make(chan event, eventQueueSize),
		frames:      make(chan []byte, frameQueueSize),
		captures:    make(chan captureCmd, 8),
		results:     make(chan evCaptureResult, 8),
		done:        make(chan struct{}),
		capDone:     make(chan struct{}),
		notify:      newNotifier(),
	}

	level := capture.NewLevelMonitor(cfg.LevelInterval, s.emitLevel)
	s.pipeline = capture.New(cfg.Capturer, cfg.Capture, s.onFrame, level, logger)

	if len(adj) > 0 {
		if cfg.EnableMetrics {
			for _, a := range adj {
				metrics.RecordConfigAdjustment(a.Field)
			}
		}
		if fn := cfg.OnConfigAdjusted; fn != nil {
			reported := append([]Adjustment(nil), adj...)
			s.notify.push(func() { fn(reported) })
		}
	}

	go s.run()
	go s.captureLoop()

	logger.Info("session created",
		"model", cfg.Model,
		"voice", cfg.Voice,
		"modalities", cfg.ResponseModalities,
		"adjustments", len(adj),
	)
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the current connection state.
func (s *Session) State() State { return State(s.state.Load()) }

// Adjustments returns the configuration values replaced during validation.
func (s *Session) Adjustments() []Adjustment {
	return append([]Adjustment(nil), s.adjustments...)
}

// Connect opens the connection and performs the handshake. It returns once
// the service acknowledged the setup, or with a classified error. If ctx
// ends first the attempt is abandoned and the session disconnected.
func (s *Session) Connect(ctx context.Context) error {
	// Skip the device when the loop would discard it anyway.
	switch st := s.State(); {
	case st.Active():
		return nil
	case st == StateConnecting || st == StateConnected:
		return ErrAlreadyConnecting
	}

	out, err := s.cfg.Renderer.Open(s.cfg.Output)
	if err != nil {
		return fmt.Errorf("conversation: open output: %w", err)
	}

	reply := make(chan error, 1)
	if !s.post(evConnect{reply: reply, out: out}) {
		_ = out.Close()
		return ErrSessionClosed
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		_ = s.Disconnect()
		return ctx.Err()
	}
}

// Disconnect releases the microphone and speaker, then closes the
// connection. Idempotent.
func (s *Session) Disconnect() error {
	return s.call(context.Background(), func(r chan<- error) event { return evDisconnect{reply: r} })
}

// StartListening acquires the microphone and starts streaming. It needs a
// completed handshake. Errors match ErrMicrophoneDenied or
// ErrMicrophoneUnavailable when the device could not be opened.
func (s *Session) StartListening(ctx context.Context) error {
	err := s.call(ctx, func(r chan<- error) event { return evStartListening{ctx: ctx, reply: r} })
	if ctx.Err() != nil && err == ctx.Err() {
		_ = s.StopListening()
	}
	return err
}

// StopListening releases the microphone. Playback is unaffected.
// Idempotent.
func (s *Session) StopListening() error {
	return s.call(context.Background(), func(r chan<- error) event { return evStopListening{reply: r} })
}

// Interrupt silences playback immediately. Audio that arrives afterwards
// plays normally. Capture is unaffected.
func (s *Session) Interrupt() error {
	return s.call(context.Background(), func(r chan<- error) event { return evInterrupt{reply: r} })
}

// SendText sends a complete user text turn.
func (s *Session) SendText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	return s.call(context.Background(), func(r chan<- error) event { return evSendText{text: text, reply: r} })
}

// Close disconnects and stops the session's goroutines. The session cannot
// be reused.
func (s *Session) Close() error {
	s.closing.Do(func() {
		reply := make(chan error, 1)
		if s.post(evClose{reply: reply}) {
			<-reply
		}
		<-s.done
		close(s.captures)
		<-s.capDone
		s.cancel()
		s.notify.close()
		s.logger.Info("session closed")
	})
	return nil
}

func (s *Session) call(ctx context.Context, mk func(chan<- error) event) error {
	reply := make(chan error, 1)
	if !s.post(mk(reply)) {
		return ErrSessionClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post hands ev to the loop. It reports false once the loop has exited.
func (s *Session) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// onFrame runs on the device thread and must not block.
func (s *Session) onFrame(data []byte) {
	select {
	case s.frames <- data:
	default:
		if s.cfg.EnableMetrics {
			metrics.RecordFrame(metrics.FrameDropped)
		}
	}
}

// emitLevel runs on the level sampler. The handler goes through the
// notifier because stopping capture waits for the sampler to exit.
func (s *Session) emitLevel(level float64) {
	if fn := s.cfg.OnLevel; fn != nil {
		s.notify.push(func() { fn(level) })
	}
}

func (s *Session) run() {
	defer close(s.done)
	for {
		var ev event
		select {
		case ev = <-s.events:
		case data := <-s.frames:
			ev = evFrame{data: data}
		case r := <-s.results:
			ev = r
		case <-s.pollC:
			ev = evPoll{}
		}
		if s.dispatch(ev) {
			return
		}
	}
}

// dispatch applies ev and any follow-up events raised while performing
// its effects. It reports true when the loop should stop.
func (s *Session) dispatch(ev event) bool {
	stop := false
	s.followups = append(s.followups, ev)
	for len(s.followups) > 0 {
		next := s.followups[0]
		s.followups = s.followups[1:]

		var effs []effect
		s.m, effs = transition(s.m, next)
		for _, e := range effs {
			if s.perform(e) {
				stop = true
			}
		}
	}
	return stop
}

func (s *Session) perform(e effect) bool {
	switch e := e.(type) {
	case effSetState:
		s.setState(e.state)
	case effAdoptOutput:
		s.out = e.out
		s.sched = playback.New(e.out, s.cfg.Playback, s.logger)
	case effDiscardOutput:
		if e.out != nil {
			_ = e.out.Close()
		}
	case effReleaseOutput:
		s.releaseOutput()
	case effDial:
		s.dialStart = time.Now()
		go s.dial(e.gen)
	case effAdoptConn:
		s.conn = e.conn
		go s.readLoop(e.gen, e.conn)
	case effCloseConn:
		s.closeConn(e.conn, e.code, e.reason)
	case effSendHandshake:
		s.logger.Debug("sending setup", "bytes", len(s.setup))
		if err := s.conn.Send(s.setup); err != nil {
			s.followups = append(s.followups, evClosed{gen: s.m.gen, err: err})
		}
	case effArmTimer:
		s.stopTimer()
		gen := e.gen
		s.timer = time.AfterFunc(s.cfg.HandshakeTimeout, func() {
			s.post(evHandshakeTimeout{gen: gen})
		})
	case effDisarmTimer:
		s.stopTimer()
	case effReply:
		if e.reply != nil {
			e.reply <- e.err
		}
	case effReportError:
		s.reportError(e.err)
	case effHandshakeResult:
		s.handshakeResult(e.err)
	case effSessionEnded:
		if s.cfg.EnableMetrics {
			metrics.RecordSessionEnd()
		}
	case effStartCapture:
		s.sendCapture(captureCmd{start: true, ctx: e.ctx, gen: e.gen})
	case effStopCapture:
		s.stopCapture()
	case effFlush:
		s.flush(e.source)
	case effEnqueue:
		s.enqueue(e.audio, e.rate)
	case effTurnComplete:
		if s.sched != nil {
			s.sched.MarkTurnComplete()
		}
		s.updatePolling()
	case effPump:
		if s.sched != nil {
			s.recordScheduled(s.sched.Pump())
		}
		s.updatePolling()
	case effTranscript:
		s.transcript(e.t)
	case effSendFrame:
		s.sendFrame(e.data)
	case effDropFrame:
		if s.cfg.EnableMetrics {
			metrics.RecordFrame(metrics.FrameDropped)
		}
	case effSendText:
		e.reply <- s.sendText(e.text)
	case effPassive:
		s.logger.Info("server message not acted on", "kinds", e.kinds)
	case effUnrecognized:
		s.logger.Warn("unrecognized server message")
		if s.cfg.EnableMetrics {
			metrics.RecordUnrecognizedMessage()
		}
	case effStop:
		s.stopPolling()
		return true
	}
	return false
}

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev == st {
		return
	}
	s.logger.Info("state changed", "from", prev.String(), "to", st.String())
	if fn := s.cfg.OnStatus; fn != nil {
		s.notify.push(func() { fn(st) })
	}
}

func (s *Session) reportError(err error) {
	s.logger.Error("session error", "error", err, "kind", kindOf(err))
	if s.cfg.EnableMetrics {
		kind := string(kindOf(err))
		if kind == "" {
			kind = "unknown"
		}
		metrics.RecordError(kind)
	}
	if fn := s.cfg.OnError; fn != nil {
		s.notify.push(func() { fn(err) })
	}
}

func (s *Session) handshakeResult(err error) {
	elapsed := time.Since(s.dialStart)
	if err != nil {
		s.logger.Warn("handshake failed", "error", err, "elapsed", elapsed)
		if s.cfg.EnableMetrics {
			metrics.RecordHandshake(metrics.StatusError, elapsed.Seconds())
		}
		return
	}
	s.logger.Info("handshake complete", "elapsed", elapsed)
	if s.cfg.EnableMetrics {
		metrics.RecordHandshake(metrics.StatusSuccess, elapsed.Seconds())
	}
}

func (s *Session) transcript(t Transcript) {
	s.logger.Debug("transcript", "origin", t.Origin, "text", t.Text)
	if t.Origin == OriginUser {
		s.awaiting = time.Now()
	}
	if fn := s.cfg.OnTranscript; fn != nil {
		s.notify.push(func() { fn(t) })
	}
}

// dial runs on its own goroutine.
func (s *Session) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	header, err := s.authHeader()
	if err != nil {
		s.post(evDialed{gen: gen, err: err})
		return
	}

	s.logger.Info("connecting", "endpoint", s.cfg.Endpoint, "model", s.cfg.Model)
	conn, err := s.cfg.Dialer.Dial(ctx, s.cfg.Endpoint, header)
	if !s.post(evDialed{gen: gen, conn: conn, err: err}) && conn != nil {
		_ = conn.Close(transport.CloseNormal, "session closed")
	}
}

func (s *Session) authHeader() (http.Header, error) {
	header := http.Header{}
	if ts := s.cfg.TokenSource; ts != nil {
		tok, err := ts.Token()
		if err != nil {
			return nil, fmt.Errorf("obtain token: %w", err)
		}
		header.Set("Authorization", "Bearer "+tok.AccessToken)
		return header, nil
	}
	header.Set("x-goog-api-key", s.cfg.APIKey)
	return header, nil
}

// readLoop runs on its own goroutine for the lifetime of conn.
func (s *Session) readLoop(gen uint64, conn transport.Conn) {
	for {
		data, err := conn.Receive()
		if err != nil {
			s.post(evClosed{gen: gen, err: err})
			return
		}
		msg, err := decodeServerMessage(data)
		if err != nil {
			s.logger.Warn("undecodable server message", "error", err, "bytes", len(data))
			if s.cfg.EnableMetrics {
				metrics.RecordUnrecognizedMessage()
			}
			continue
		}
		if !s.post(evInbound{gen: gen, msg: msg}) {
			return
		}
	}
}

// captureLoop serializes microphone start and stop so a stop requested
// while a start is in progress always runs after it.
func (s *Session) captureLoop() {
	defer close(s.capDone)
	for cmd := range s.captures {
		if !cmd.start {
			if err := s.pipeline.Stop(); err != nil {
				s.logger.Warn("release microphone", "error", err)
			}
			close(cmd.ack)
			continue
		}
		err := s.pipeline.Start(cmd.ctx)
		if err != nil {
			s.logger.Warn("microphone unavailable", "error", err)
		}
		select {
		case s.results <- evCaptureResult{gen: cmd.gen, err: err}:
		case <-s.done:
		}
	}
}

// sendCapture queues cmd for captureLoop. Results that arrive meanwhile
// are kept as follow-ups so captureLoop never stalls on the loop.
func (s *Session) sendCapture(cmd captureCmd) {
	for {
		select {
		case s.captures <- cmd:
			return
		case r := <-s.results:
			s.followups = append(s.followups, r)
		}
	}
}

// stopCapture returns once the microphone is released.
func (s *Session) stopCapture() {
	ack := make(chan struct{})
	s.sendCapture(captureCmd{ack: ack})
	for {
		select {
		case <-ack:
			return
		case r := <-s.results:
			s.followups = append(s.followups, r)
		}
	}
}

func (s *Session) closeConn(conn transport.Conn, code int, reason string) {
	if conn == nil {
		conn = s.conn
		s.conn = nil
	}
	if conn == nil {
		return
	}
	if err := conn.Close(code, reason); err != nil {
		s.logger.Debug("close connection", "error", err)
	}
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) sendFrame(data []byte) {
	if s.conn == nil {
		return
	}
	b, err := encode(audioMessage(data))
	if err == nil {
		err = s.conn.Send(b)
	}
	if err != nil {
		s.logger.Debug("frame not sent", "error", err)
		if s.cfg.EnableMetrics {
			metrics.RecordFrame(metrics.FrameDropped)
		}
		return
	}
	if s.cfg.EnableMetrics {
		metrics.RecordFrame(metrics.FrameSent)
	}
}

func (s *Session) sendText(text string) error {
	if s.conn == nil {
		return ErrNotReady
	}
	b, err := encode(textMessage(text))
	if err != nil {
		return fmt.Errorf("encode text: %w", err)
	}
	if err := s.conn.Send(b); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	s.awaiting = time.Now()
	s.logger.Debug("text sent", "chars", len(text))
	return nil
}

func (s *Session) enqueue(audio []byte, rate int) {
	if s.sched == nil {
		return
	}
	if want := s.out.SampleRate(); rate > 0 && want > 0 && rate != want {
		audio = audioio.EncodePCM16(audioio.Resample(audioio.DecodePCM16(audio), rate, want))
	}
	if !s.awaiting.IsZero() {
		if s.cfg.EnableMetrics {
			metrics.RecordResponseLatency(time.Since(s.awaiting).Seconds())
		}
		s.awaiting = time.Time{}
	}
	if s.cfg.EnableMetrics {
		metrics.RecordAudioChunk()
	}
	s.recordScheduled(s.sched.Enqueue(audio))
	s.updatePolling()
}

func (s *Session) recordScheduled(n int) {
	if n > 0 && s.cfg.EnableMetrics {
		metrics.RecordBuffersScheduled(n)
	}
}

func (s *Session) flush(source string) {
	if s.sched == nil {
		return
	}
	n := s.sched.Interrupt()
	s.updatePolling()
	s.logger.Debug("playback interrupted", "source", source, "cancelled", n)
	if s.cfg.EnableMetrics {
		metrics.RecordInterruption(source)
	}
}

func (s *Session) releaseOutput() {
	if s.sched != nil {
		s.sched.Interrupt()
		s.sched = nil
	}
	s.stopPolling()
	if s.out != nil {
		if err := s.out.Close(); err != nil {
			s.logger.Debug("close output", "error", err)
		}
		s.out = nil
	}
}

func (s *Session) updatePolling() {
	if s.sched != nil && s.sched.NeedsPolling() {
		if s.poll == nil {
			s.poll = time.NewTicker(s.cfg.PollInterval)
			s.pollC = s.poll.C
		}
		return
	}
	s.stopPolling()
}

func (s *Session) stopPolling() {
	if s.poll != nil {
		s.poll.Stop()
		s.poll = nil
		s.pollC = nil
	}
}
