package conversation

import (
	"context"

	"github.com/teslashibe/go-livevoice/pkg/audioio"
	"github.com/teslashibe/go-livevoice/pkg/metrics"
	"github.com/teslashibe/go-livevoice/pkg/transport"
)

// State is the connection state of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReady
	StateListening
	StateProcessing

	// StateError is Disconnected after a failure.
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReady:
		return "ready"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Active reports whether the handshake has completed and the connection is
// usable.
func (s State) Active() bool {
	return s == StateReady || s == StateListening || s == StateProcessing
}

// Origin tags who produced a transcript.
type Origin string

const (
	OriginUser      Origin = "user"
	OriginAssistant Origin = "assistant"
)

// Transcript is a piece of recognized or generated text.
type Transcript struct {
	Text   string `json:"text"`
	Origin Origin `json:"origin"`
}

// machine is the session's pure state. It is only ever replaced by
// transition.
type machine struct {
	state State

	// gen identifies the current connection attempt. Events tagged with an
	// older generation are stale.
	gen uint64

	handshook bool

	// connectReply is resolved when the handshake succeeds or fails.
	connectReply chan<- error

	capturing  bool
	acquiring  bool
	captureGen uint64
	listeners  []chan<- error

	closed bool
}

// Events posted to the session loop.
type event interface{ isEvent() }

type (
	evConnect struct {
		reply chan<- error
		out   audioio.Output
	}
	evDialed struct {
		gen  uint64
		conn transport.Conn
		err  error
	}
	evHandshakeTimeout struct{ gen uint64 }
	evInbound          struct {
		gen uint64
		msg *inbound
	}
	evClosed struct {
		gen uint64
		err error
	}
	evStartListening struct {
		ctx   context.Context
		reply chan<- error
	}
	evCaptureResult struct {
		gen uint64
		err error
	}
	evStopListening struct{ reply chan<- error }
	evFrame         struct{ data []byte }
	evInterrupt     struct{ reply chan<- error }
	evSendText      struct {
		text  string
		reply chan<- error
	}
	evDisconnect struct{ reply chan<- error }
	evClose      struct{ reply chan<- error }
	evPoll       struct{}
)

func (evConnect) isEvent()          {}
func (evDialed) isEvent()           {}
func (evHandshakeTimeout) isEvent() {}
func (evInbound) isEvent()          {}
func (evClosed) isEvent()           {}
func (evStartListening) isEvent()   {}
func (evCaptureResult) isEvent()    {}
func (evStopListening) isEvent()    {}
func (evFrame) isEvent()            {}
func (evInterrupt) isEvent()        {}
func (evSendText) isEvent()         {}
func (evDisconnect) isEvent()       {}
func (evClose) isEvent()            {}
func (evPoll) isEvent()             {}

// Effects requested by transition and performed by the session.
type effect interface{ isEffect() }

type (
	effSetState    struct{ state State }
	effAdoptOutput struct{ out audioio.Output }
	// effDiscardOutput closes an output that was never adopted.
	effDiscardOutput struct{ out audioio.Output }
	effReleaseOutput struct{}
	effDial          struct{ gen uint64 }
	effAdoptConn     struct {
		gen  uint64
		conn transport.Conn
	}
	// effCloseConn closes conn, or the current connection when conn is nil.
	effCloseConn struct {
		conn   transport.Conn
		code   int
		reason string
	}
	effSendHandshake struct{}
	effArmTimer      struct{ gen uint64 }
	effDisarmTimer   struct{}
	effReply         struct {
		reply chan<- error
		err   error
	}
	effReportError     struct{ err error }
	effHandshakeResult struct{ err error }
	effSessionEnded    struct{}
	effStartCapture    struct {
		ctx context.Context
		gen uint64
	}
	effStopCapture struct{}
	effFlush       struct{ source string }
	effEnqueue     struct {
		audio []byte
		rate  int
	}
	effTurnComplete struct{}
	effPump         struct{}
	effTranscript   struct{ t Transcript }
	effSendFrame    struct{ data []byte }
	effDropFrame    struct{}
	effSendText     struct {
		text  string
		reply chan<- error
	}
	effPassive      struct{ kinds []string }
	effUnrecognized struct{}
	effStop         struct{}
)

func (effSetState) isEffect()        {}
func (effAdoptOutput) isEffect()     {}
func (effDiscardOutput) isEffect()   {}
func (effReleaseOutput) isEffect()   {}
func (effDial) isEffect()            {}
func (effAdoptConn) isEffect()       {}
func (effCloseConn) isEffect()       {}
func (effSendHandshake) isEffect()   {}
func (effArmTimer) isEffect()        {}
func (effDisarmTimer) isEffect()     {}
func (effReply) isEffect()           {}
func (effReportError) isEffect()     {}
func (effHandshakeResult) isEffect() {}
func (effSessionEnded) isEffect()    {}
func (effStartCapture) isEffect()    {}
func (effStopCapture) isEffect()     {}
func (effFlush) isEffect()           {}
func (effEnqueue) isEffect()         {}
func (effTurnComplete) isEffect()    {}
func (effPump) isEffect()            {}
func (effTranscript) isEffect()      {}
func (effSendFrame) isEffect()       {}
func (effDropFrame) isEffect()       {}
func (effSendText) isEffect()        {}
func (effPassive) isEffect()         {}
func (effUnrecognized) isEffect()    {}
func (effStop) isEffect()            {}

// hasConn reports whether the current generation owns an open connection.
func (m machine) hasConn() bool {
	return m.state == StateConnected || m.state.Active()
}

// transition computes the next machine and the effects that realize it. It
// performs no I/O.
func transition(m machine, ev event) (machine, []effect) {
	if m.closed {
		return m, rejectClosed(ev)
	}

	switch ev := ev.(type) {
	case evConnect:
		return onConnect(m, ev)
	case evDialed:
		return onDialed(m, ev)
	case evHandshakeTimeout:
		if ev.gen != m.gen || m.state != StateConnected {
			return m, nil
		}
		return fail(m, &ConnectionError{Kind: KindHandshakeTimeout, Reason: "no setup acknowledgement"}, "handshake timeout")
	case evInbound:
		if ev.gen != m.gen || !m.hasConn() {
			return m, nil
		}
		return onInbound(m, ev.msg)
	case evClosed:
		if ev.gen != m.gen || !m.hasConn() {
			return m, nil
		}
		return onClosed(m, ev.err)
	case evStartListening:
		return onStartListening(m, ev)
	case evCaptureResult:
		return onCaptureResult(m, ev)
	case evStopListening:
		return onStopListening(m, ev)
	case evFrame:
		if m.capturing && (m.state == StateListening || m.state == StateProcessing) {
			return m, []effect{effSendFrame{data: ev.data}}
		}
		return m, []effect{effDropFrame{}}
	case evInterrupt:
		return m, []effect{effFlush{source: metrics.SourceHost}, effReply{reply: ev.reply}}
	case evSendText:
		if !m.state.Active() {
			return m, []effect{effReply{reply: ev.reply, err: ErrNotReady}}
		}
		return m, []effect{effSendText{text: ev.text, reply: ev.reply}}
	case evDisconnect:
		m, effs := teardown(m, "client disconnect")
		return m, append(effs, effReply{reply: ev.reply})
	case evClose:
		m, effs := teardown(m, "session closed")
		m.closed = true
		return m, append(effs, effReply{reply: ev.reply}, effStop{})
	case evPoll:
		return m, []effect{effPump{}}
	}
	return m, nil
}

func rejectClosed(ev event) []effect {
	switch ev := ev.(type) {
	case evConnect:
		return []effect{effDiscardOutput{out: ev.out}, effReply{reply: ev.reply, err: ErrSessionClosed}}
	case evDialed:
		if ev.conn != nil {
			return []effect{effCloseConn{conn: ev.conn, code: transport.CloseNormal, reason: "session closed"}}
		}
	case evStartListening:
		return []effect{effReply{reply: ev.reply, err: ErrSessionClosed}}
	case evStopListening:
		return []effect{effReply{reply: ev.reply}}
	case evInterrupt:
		return []effect{effReply{reply: ev.reply}}
	case evSendText:
		return []effect{effReply{reply: ev.reply, err: ErrSessionClosed}}
	case evDisconnect:
		return []effect{effReply{reply: ev.reply}}
	case evClose:
		return []effect{effReply{reply: ev.reply}}
	}
	return nil
}

func onConnect(m machine, ev evConnect) (machine, []effect) {
	switch {
	case m.state == StateConnecting || m.state == StateConnected:
		return m, []effect{effDiscardOutput{out: ev.out}, effReply{reply: ev.reply, err: ErrAlreadyConnecting}}
	case m.state.Active():
		return m, []effect{effDiscardOutput{out: ev.out}, effReply{reply: ev.reply}}
	}

	m.gen++
	m.state = StateConnecting
	m.handshook = false
	m.connectReply = ev.reply
	return m, []effect{
		effAdoptOutput{out: ev.out},
		effSetState{state: StateConnecting},
		effDial{gen: m.gen},
	}
}

func onDialed(m machine, ev evDialed) (machine, []effect) {
	if ev.gen != m.gen || m.state != StateConnecting {
		if ev.conn != nil {
			return m, []effect{effCloseConn{conn: ev.conn, code: transport.CloseNormal, reason: "stale connection"}}
		}
		return m, nil
	}
	if ev.err != nil {
		return fail(m, classifyTransport(ev.err), "")
	}

	m.state = StateConnected
	return m, []effect{
		effAdoptConn{gen: m.gen, conn: ev.conn},
		effSetState{state: StateConnected},
		effSendHandshake{},
		effArmTimer{gen: m.gen},
	}
}

func onInbound(m machine, in *inbound) (machine, []effect) {
	var effs []effect

	if in.err != nil {
		err := classifyPayload(in.err)
		if !m.handshook {
			return fail(m, err, "handshake rejected")
		}
		effs = append(effs, effReportError{err: err})
	}

	if in.setupComplete && !m.handshook {
		m.handshook = true
		m.state = StateReady
		effs = append(effs,
			effDisarmTimer{},
			effSetState{state: StateReady},
			effHandshakeResult{},
			effReply{reply: m.connectReply},
		)
		m.connectReply = nil
	}

	if !m.handshook {
		if in.hasContent || in.inputTranscript != "" {
			effs = append(effs, effPassive{kinds: []string{"content before setup"}})
		}
		return m, effs
	}

	if in.inputTranscript != "" {
		effs = append(effs, effTranscript{t: Transcript{Text: in.inputTranscript, Origin: OriginUser}})
	}
	if in.interrupted {
		effs = append(effs, effFlush{source: metrics.SourceRemote})
	}

	if len(in.parts) > 0 || in.outputTranscript != "" {
		if m.state == StateReady || m.state == StateListening {
			m.state = StateProcessing
			effs = append(effs, effSetState{state: StateProcessing})
		}
	}
	for _, p := range in.parts {
		if p.text != "" {
			effs = append(effs, effTranscript{t: Transcript{Text: p.text, Origin: OriginAssistant}})
		}
		if len(p.audio) > 0 {
			effs = append(effs, effEnqueue{audio: p.audio, rate: p.rate})
		}
	}
	if in.outputTranscript != "" {
		effs = append(effs, effTranscript{t: Transcript{Text: in.outputTranscript, Origin: OriginAssistant}})
	}

	if in.turnComplete {
		effs = append(effs, effTurnComplete{})
		if m.state == StateProcessing {
			m.state = StateReady
			if m.capturing {
				m.state = StateListening
			}
			effs = append(effs, effSetState{state: m.state})
		}
	}

	if len(in.passive) > 0 {
		effs = append(effs, effPassive{kinds: in.passive})
	}
	if !in.recognized() {
		effs = append(effs, effUnrecognized{})
	}
	return m, effs
}

func onClosed(m machine, err error) (machine, []effect) {
	cerr := classifyTransport(err)
	if m.handshook && cerr.Kind == KindConnectionClosed && cerr.Code == transport.CloseNormal {
		m, effs := release(m)
		m.state = StateDisconnected
		return m, append(effs, effSetState{state: StateDisconnected})
	}
	return fail(m, cerr, "")
}

// fail moves to StateError, releasing everything. The error rejects a
// pending Connect, or is reported when the handshake already completed.
// closeReason, when set, closes the connection from this side.
func fail(m machine, err *ConnectionError, closeReason string) (machine, []effect) {
	reply := m.connectReply
	handshook := m.handshook
	m, effs := release(m)
	if closeReason != "" {
		effs = append(effs, effCloseConn{code: transport.CloseNormal, reason: closeReason})
	} else {
		effs = append(effs, effCloseConn{code: transport.CloseNormal})
	}
	m.state = StateError
	effs = append(effs, effSetState{state: StateError})
	if !handshook {
		effs = append(effs, effHandshakeResult{err: err})
	}
	if reply != nil {
		effs = append(effs, effReply{reply: reply, err: err})
	} else {
		effs = append(effs, effReportError{err: err})
	}
	return m, effs
}

// release stops capture and playback and invalidates the connection
// generation. Audio resources go before the connection.
func release(m machine) (machine, []effect) {
	effs := []effect{effDisarmTimer{}}
	effs = append(effs, stopCapture(&m)...)
	effs = append(effs, effReleaseOutput{})
	if m.handshook {
		effs = append(effs, effSessionEnded{})
	}
	m.gen++
	m.handshook = false
	m.connectReply = nil
	return m, effs
}

// teardown is Disconnect: release, close and settle in Disconnected.
func teardown(m machine, reason string) (machine, []effect) {
	if m.state == StateDisconnected {
		return m, nil
	}
	reply := m.connectReply
	m, effs := release(m)
	effs = append(effs, effCloseConn{code: transport.CloseNormal, reason: reason})
	if reply != nil {
		effs = append(effs, effReply{reply: reply, err: &ConnectionError{Kind: KindConnectionClosed, Reason: reason}})
	}
	m.state = StateDisconnected
	return m, append(effs, effSetState{state: StateDisconnected})
}

func stopCapture(m *machine) []effect {
	var effs []effect
	for _, l := range m.listeners {
		effs = append(effs, effReply{reply: l, err: ErrListeningStopped})
	}
	m.listeners = nil
	if m.acquiring || m.capturing {
		effs = append(effs, effStopCapture{})
	}
	m.acquiring = false
	m.capturing = false
	m.captureGen++
	return effs
}

func onStartListening(m machine, ev evStartListening) (machine, []effect) {
	if !m.state.Active() {
		return m, []effect{effReply{reply: ev.reply, err: ErrNotReady}}
	}
	if m.capturing {
		return m, []effect{effReply{reply: ev.reply}}
	}
	m.listeners = append(append([]chan<- error(nil), m.listeners...), ev.reply)
	if m.acquiring {
		return m, nil
	}
	m.acquiring = true
	m.captureGen++
	return m, []effect{effStartCapture{ctx: ev.ctx, gen: m.captureGen}}
}

func onCaptureResult(m machine, ev evCaptureResult) (machine, []effect) {
	if ev.gen != m.captureGen || !m.acquiring {
		// Whoever invalidated this start already queued a stop behind it.
		return m, nil
	}
	m.acquiring = false

	var effs []effect
	for _, l := range m.listeners {
		effs = append(effs, effReply{reply: l, err: ev.err})
	}
	m.listeners = nil
	if ev.err != nil {
		return m, effs
	}

	m.capturing = true
	if m.state == StateReady {
		m.state = StateListening
		effs = append(effs, effSetState{state: StateListening})
	}
	return m, effs
}

func onStopListening(m machine, ev evStopListening) (machine, []effect) {
	effs := stopCapture(&m)
	if m.state == StateListening {
		m.state = StateReady
		effs = append(effs, effSetState{state: StateReady})
	}
	return m, append(effs, effReply{reply: ev.reply})
}
