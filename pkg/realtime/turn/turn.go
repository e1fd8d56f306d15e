// Package turn tracks who holds the floor in a live voice session.
//
// The machine only moves along the fixed cycle
//
//	idle → listening → speech_detected → processing → responding → listening
//
// plus the edge from processing/responding back to listening taken on interrupt
// or when a response finishes without producing output.
// Inputs that do not match the current state are logged and ignored.
package turn

import (
	"log/slog"
	"strings"
	"sync"
)

type State string

const (
	Idle           State = "idle"
	Listening      State = "listening"
	SpeechDetected State = "speech_detected"
	Processing     State = "processing"
	Responding     State = "responding"
)

func (s State) String() string { return string(s) }

// TransitionFunc observes a state change. It runs with no lock held.
type TransitionFunc func(from, to State)

type Machine struct {
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	turn       int
	responseID string
	// response that ended by requesting tools; its follow-up is pending
	continuing string
	cancelled  map[string]struct{}
	cancelNext bool
	observers  []TransitionFunc
}

func New(logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		logger:    logger,
		state:     Idle,
		cancelled: make(map[string]struct{}),
	}
}

func (m *Machine) OnTransition(fn TransitionFunc) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Turn returns the number of user turns started so far.
func (m *Machine) Turn() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.turn
}

// ResponseID returns the response bound to the current turn, if any.
func (m *Machine) ResponseID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.responseID
}

// Ready handles the session-ready acknowledgment.
func (m *Machine) Ready() {
	m.step("ready", func() (State, bool) {
		if m.state != Idle {
			return m.state, false
		}
		return Listening, true
	})
}

func (m *Machine) SpeechStarted() {
	m.step("speech_started", func() (State, bool) {
		if m.state != Listening {
			return m.state, false
		}
		m.turn++
		m.responseID = ""
		m.continuing = ""
		return SpeechDetected, true
	})
}

func (m *Machine) SpeechStopped() {
	m.step("speech_stopped", func() (State, bool) {
		if m.state != SpeechDetected {
			return m.state, false
		}
		return Processing, true
	})
}

// ResponseCreated binds responseID to the current turn. It never changes state.
func (m *Machine) ResponseCreated(responseID string) {
	responseID = strings.TrimSpace(responseID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimUnbound(responseID) {
		return
	}
	if (m.state != Processing && m.state != Responding) || responseID == "" {
		m.logger.Debug("response not bound to turn", "state", m.state, "response_id", responseID)
		return
	}
	if m.responseID == "" {
		m.responseID = responseID
	}
}

// AudioDelta moves processing to responding on the first delta of a turn.
func (m *Machine) AudioDelta(responseID string) {
	responseID = strings.TrimSpace(responseID)
	m.step("audio_delta", func() (State, bool) {
		if m.claimUnbound(responseID) {
			return m.state, false
		}
		if _, dead := m.cancelled[responseID]; dead && responseID != "" {
			return m.state, false
		}
		switch m.state {
		case Processing:
			if m.responseID == "" {
				m.responseID = responseID
			}
			return Responding, true
		case Responding:
			// Later deltas, or the first delta of a follow-up response.
			if m.responseID == "" {
				m.responseID = responseID
			}
			return m.state, true
		default:
			return m.state, false
		}
	})
}

// ResponseDone closes the agent turn. A done for a response other than the
// bound one is ignored so a late cancellation cannot end a newer turn. A
// response that finishes while still processing produced no output and hands
// the floor back as well.
func (m *Machine) ResponseDone(responseID string) {
	responseID = strings.TrimSpace(responseID)
	m.step("response_done", func() (State, bool) {
		if m.state != Responding && m.state != Processing {
			return m.state, false
		}
		if m.responseID != "" && responseID != "" && responseID != m.responseID {
			return m.state, false
		}
		m.responseID = ""
		m.continuing = ""
		return Listening, true
	})
}

// Continue handles a response that ended by requesting tools. The turn stays
// open for the follow-up response, which binds on its first delta. Until the
// turn ends, an interrupt cancels responseID as well.
func (m *Machine) Continue(responseID string) {
	responseID = strings.TrimSpace(responseID)
	m.step("continue", func() (State, bool) {
		if m.state != Responding && m.state != Processing {
			return m.state, false
		}
		if m.responseID != "" && responseID != "" && responseID != m.responseID {
			return m.state, false
		}
		if responseID == "" {
			responseID = m.responseID
		}
		if responseID != "" {
			m.continuing = responseID
		}
		m.responseID = ""
		return m.state, true
	})
}

// Interrupt forces listening from processing or responding. It reports the
// response to cancel; ok is false when there was nothing to interrupt. While a
// turn waits on tool results, the response that requested them is reported
// and cancelled, so its follow-up is never requested.
func (m *Machine) Interrupt() (responseID string, ok bool) {
	m.step("interrupt", func() (State, bool) {
		if m.state != Processing && m.state != Responding {
			return m.state, false
		}
		if m.continuing != "" {
			m.cancelled[m.continuing] = struct{}{}
		}
		responseID = m.responseID
		switch {
		case responseID != "":
			m.cancelled[responseID] = struct{}{}
		case m.continuing != "":
			responseID = m.continuing
		default:
			m.cancelNext = true
		}
		m.responseID = ""
		m.continuing = ""
		ok = true
		return Listening, true
	})
	return responseID, ok
}

// Cancelled reports whether responseID belongs to an interrupted turn.
func (m *Machine) Cancelled(responseID string) bool {
	responseID = strings.TrimSpace(responseID)
	if responseID == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.cancelled[responseID]
	return ok
}

// claimUnbound marks responseID cancelled when an interrupt landed before the
// response was bound. Callers hold m.mu.
func (m *Machine) claimUnbound(responseID string) bool {
	if !m.cancelNext || responseID == "" || m.state != Listening {
		return false
	}
	if _, seen := m.cancelled[responseID]; seen {
		return true
	}
	m.cancelNext = false
	m.cancelled[responseID] = struct{}{}
	return true
}

// ForgetUnbound drops a pending unbound cancellation. Call it before the
// caller asks for a new response so that response is not claimed by mistake.
func (m *Machine) ForgetUnbound() {
	m.mu.Lock()
	m.cancelNext = false
	m.mu.Unlock()
}

// FollowUp records that the follow-up for a tool-requesting response is about
// to be requested. It reports false when that response was interrupted, in
// which case nothing should be requested.
func (m *Machine) FollowUp(responseID string) bool {
	responseID = strings.TrimSpace(responseID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dead := m.cancelled[responseID]; dead && responseID != "" {
		return false
	}
	if m.continuing == responseID {
		m.continuing = ""
	}
	m.cancelNext = false
	return true
}

// Reset returns the machine to idle when the channel ends.
func (m *Machine) Reset() {
	m.step("reset", func() (State, bool) {
		m.responseID = ""
		m.continuing = ""
		m.cancelNext = false
		return Idle, true
	})
}

// step applies fn under the lock and notifies observers after releasing it.
// fn returns the next state and whether the input was valid in this state.
func (m *Machine) step(input string, fn func() (State, bool)) {
	m.mu.Lock()
	from := m.state
	to, valid := fn()
	if !valid {
		m.mu.Unlock()
		m.logger.Debug("turn input ignored", "input", input, "state", from)
		return
	}
	m.state = to
	var observers []TransitionFunc
	if from != to {
		observers = append(observers, m.observers...)
	}
	m.mu.Unlock()

	for _, fn := range observers {
		fn(from, to)
	}
}
