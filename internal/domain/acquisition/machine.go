// Package acquisition drives a wearable heart rate sensor session and decides when to relay.
//
// While monitoring, two tickers run independently. The send tick relays the current value
// when it is fresh; the timeout tick clears a value that has gone stale. A session that keeps
// skipping sends stops itself.
package acquisition

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
)

const subscriberBuffer = 64

// Machine is the acquisition state machine for one owner.
type Machine struct {
	ownerID string
	sensor  Sensor
	relay   Relay

	timeoutWindow time.Duration
	sendEvery     time.Duration
	timeoutEvery  time.Duration
	maxSkips      int
	now           func() time.Time
	errSink       func(error)
	log           logger.Logger

	mu           sync.Mutex
	state        State
	gen          uint64
	session      Session
	currentValue int
	lastUpdateAt time.Time
	receivedAny  bool
	clearedSent  bool
	skips        int
	stop         chan struct{}
	done         chan struct{}

	subMu sync.Mutex
	subs  map[chan Event]struct{}
}

// New creates an idle Machine.
func New(ownerID string, sensor Sensor, relay Relay, opts ...Option) *Machine {
	m := &Machine{
		ownerID:       ownerID,
		sensor:        sensor,
		relay:         relay,
		timeoutWindow: 15 * time.Second,
		sendEvery:     3 * time.Second,
		timeoutEvery:  5 * time.Second,
		maxSkips:      5,
		now:           time.Now,
		errSink:       func(error) {},
		subs:          make(map[chan Event]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.Get().Named("acquisition")
	}
	return m
}

// Start requests a sensor session. The machine enters Monitoring once the sensor reports
// SessionRunning.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	if !m.sensor.Available() {
		m.mu.Unlock()
		return ErrSensorUnavailable
	}
	m.gen++
	gen := m.gen
	m.setStateLocked(StateStarting)
	m.mu.Unlock()

	// The sensor may call back into the machine before StartSession returns.
	sess, err := m.sensor.StartSession(ctx, m)

	m.mu.Lock()
	if err != nil {
		if m.gen == gen && m.state == StateStarting {
			m.setStateLocked(StateIdle)
		}
		m.mu.Unlock()
		m.log.Warn(ctx, "sensor session failed to start", logger.Error(err))
		return fmt.Errorf("start session: %w", err)
	}
	if m.gen != gen || m.state == StateIdle {
		// Stopped while starting.
		m.mu.Unlock()
		sess.End()
		return nil
	}
	m.session = sess
	m.mu.Unlock()
	return nil
}

// Stop ends the session and waits for both tickers to be torn down. Stop in Idle is a no-op.
func (m *Machine) Stop() {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return
	}
	done, sess := m.teardownLocked()
	m.mu.Unlock()

	if sess != nil {
		sess.End()
	}
	if done != nil {
		<-done
	}
}

// OnSessionStateChanged implements SessionSink.
func (m *Machine) OnSessionStateChanged(state SessionState, err error) {
	switch state {
	case SessionRunning:
		m.mu.Lock()
		if m.state == StateStarting {
			m.enterMonitoringLocked()
		}
		m.mu.Unlock()
	case SessionEnded, SessionFailed:
		if err != nil {
			m.errSink(err)
			m.log.Warn(context.Background(), "sensor session ended", logger.String("state", state.String()), logger.Error(err))
		}
		m.mu.Lock()
		if m.state == StateIdle {
			m.mu.Unlock()
			return
		}
		done, _ := m.teardownLocked()
		m.mu.Unlock()
		if done != nil {
			<-done
		}
	}
}

// OnSampleReceived implements SessionSink. Out of range readings are tagged invalid and
// never touch the current value.
func (m *Machine) OnSampleReceived(bpm int, at time.Time) {
	if at.IsZero() {
		at = m.now()
	}
	m.mu.Lock()
	if m.state != StateMonitoring {
		m.mu.Unlock()
		return
	}
	if !model.ValidBPM(bpm) {
		m.mu.Unlock()
		metrics.RecordSensorSample("invalid")
		m.publish(Event{Kind: EventInvalid, BPM: bpm, At: at})
		return
	}
	m.currentValue = bpm
	m.lastUpdateAt = at
	m.receivedAny = true
	m.clearedSent = false
	m.mu.Unlock()

	metrics.RecordSensorSample("valid")
	m.publish(Event{Kind: EventValue, BPM: bpm, At: at})
	m.publish(Event{Kind: EventBeat, BPM: bpm, At: at})
}

// Status returns a snapshot.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		State:            m.state,
		CurrentValue:     m.currentValue,
		LastUpdateAt:     m.lastUpdateAt,
		DetectionStatus:  DetectionNoReading,
		ConsecutiveSkips: m.skips,
	}
	if m.currentValue != 0 {
		st.DetectionStatus = DetectionReading
	}
	return st
}

// Subscribe returns a channel of events and a function that cancels the subscription.
// Slow subscribers miss events rather than block the machine.
func (m *Machine) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, ch)
			m.subMu.Unlock()
			close(ch)
		})
	}
}

func (m *Machine) publish(ev Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (m *Machine) setStateLocked(s State) {
	m.state = s
	m.publish(Event{Kind: EventState, State: s, At: m.now()})
}

func (m *Machine) resetLocked() {
	m.currentValue = 0
	m.lastUpdateAt = time.Time{}
	m.receivedAny = false
	m.clearedSent = false
	m.skips = 0
}

func (m *Machine) enterMonitoringLocked() {
	m.resetLocked()
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.setStateLocked(StateMonitoring)
	go m.run(m.gen, m.stop, m.done)
}

// teardownLocked moves the machine to Idle and returns the loop's done channel and the
// session to end. The caller ends the session and waits outside the lock.
func (m *Machine) teardownLocked() (chan struct{}, Session) {
	m.setStateLocked(StateStopping)
	m.gen++
	done := m.done
	if m.stop != nil {
		close(m.stop)
	}
	sess := m.session
	m.stop, m.done, m.session = nil, nil, nil
	m.resetLocked()
	m.setStateLocked(StateIdle)
	return done, sess
}

func (m *Machine) run(gen uint64, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	send := time.NewTicker(m.sendEvery)
	defer send.Stop()
	timeout := time.NewTicker(m.timeoutEvery)
	defer timeout.Stop()

	for {
		select {
		case <-stop:
			return
		case <-send.C:
			if m.sendTick(gen) {
				return
			}
		case <-timeout.C:
			m.timeoutTick(gen)
		}
	}
}

// sendTick relays the current value if it is fresh. It reports true when the machine
// stopped itself.
func (m *Machine) sendTick(gen uint64) bool {
	now := m.now()
	m.mu.Lock()
	if m.gen != gen || m.state != StateMonitoring {
		m.mu.Unlock()
		return true
	}
	fresh := m.currentValue != 0 && now.Sub(m.lastUpdateAt) <= m.timeoutWindow
	sample := model.HeartbeatSample{OwnerID: m.ownerID, BPM: m.currentValue, CapturedAt: m.lastUpdateAt}
	m.mu.Unlock()

	var sendErr error
	if fresh {
		sendErr = m.relay.Send(sample)
		if sendErr != nil {
			m.errSink(sendErr)
			m.log.Debug(context.Background(), "relay hand-off failed", logger.Error(sendErr))
		}
	}

	m.mu.Lock()
	if m.gen != gen || m.state != StateMonitoring {
		m.mu.Unlock()
		return true
	}
	if fresh && sendErr == nil {
		m.skips = 0
		m.mu.Unlock()
		return false
	}
	m.skips++
	if m.skips < m.maxSkips {
		m.mu.Unlock()
		return false
	}
	skips := m.skips
	_, sess := m.teardownLocked()
	m.mu.Unlock()

	if sess != nil {
		sess.End()
	}
	metrics.RecordAcquisitionAutoStop()
	m.log.Info(context.Background(), "auto-stopped after consecutive skips", logger.Int("skips", skips))
	return true
}

// timeoutTick clears a stale value and sends one clear envelope per staleness episode.
func (m *Machine) timeoutTick(gen uint64) {
	now := m.now()
	m.mu.Lock()
	if m.gen != gen || m.state != StateMonitoring {
		m.mu.Unlock()
		return
	}
	if !m.receivedAny || m.clearedSent || now.Sub(m.lastUpdateAt) <= m.timeoutWindow {
		m.mu.Unlock()
		return
	}
	m.currentValue = 0
	m.clearedSent = true
	m.mu.Unlock()

	m.publish(Event{Kind: EventCleared, At: now})
	if err := m.relay.SendCleared(m.ownerID, now); err != nil {
		m.errSink(err)
		m.log.Debug(context.Background(), "relay clear hand-off failed", logger.Error(err))
	}
}
