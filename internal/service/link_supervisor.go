package service

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qubelab/qube-monitor/internal/models"
	"github.com/qubelab/qube-monitor/internal/protocol"
	serialport "github.com/qubelab/qube-monitor/internal/serial"
	"github.com/qubelab/qube-monitor/pkg/config"
	appErrors "github.com/qubelab/qube-monitor/pkg/errors"
)

// livenessProbe is written to the bridge during self-tests. The bridge
// ignores unknown input, so the write only proves the handle accepts bytes.
const livenessProbe = "HEALTH_CHECK\n"

// LinkSupervisor owns the serial handle and keeps the link usable across the
// session without operator intervention. Two loops run while a session is
// active: the read loop drains lines into the aggregator, the health loop
// watches timers and forces reconnection when the link looks dead. Every I/O
// failure is caught, logged, and converted into a state transition; none are
// allowed to terminate a loop or the process.
type LinkSupervisor struct {
	cfg    config.SerialConfig
	opener serialport.Opener

	aggregator *StatusAggregator
	eventLog   *EventLog
	notifier   Notifier
	metrics    *MetricsService
	logger     *zap.Logger

	mu               sync.Mutex
	port             serialport.Port
	portName         string
	state            models.LinkState
	manualDisconnect bool
	running          bool
	stop             chan struct{}
	loopsDone        chan struct{}
	reconnectCh      chan struct{}

	lastHeartbeat time.Time
	lastReconnect time.Time
	lastSelfTest  time.Time

	now func() time.Time
}

// NewLinkSupervisor constructs the supervisor. The metrics service may be nil.
func NewLinkSupervisor(cfg config.SerialConfig, opener serialport.Opener, aggregator *StatusAggregator, eventLog *EventLog, notifier Notifier, metrics *MetricsService, logger *zap.Logger) *LinkSupervisor {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkSupervisor{
		cfg:        cfg,
		opener:     opener,
		aggregator: aggregator,
		eventLog:   eventLog,
		notifier:   notifier,
		metrics:    metrics,
		logger:     logger,
		state:      models.LinkDisconnected,
		now:        time.Now,
	}
}

// ListPorts enumerates serial devices currently present on the host.
func (s *LinkSupervisor) ListPorts() ([]string, error) {
	ports, err := s.opener.List()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "failed to enumerate serial ports")
	}
	return ports, nil
}

// Connect opens the named port and starts the read and health loops. Any
// previous session is fully torn down first.
func (s *LinkSupervisor) Connect(portName string) error {
	if portName == "" {
		s.notifier.OnConnectionStatus("No port selected", "red")
		return appErrors.Clone(appErrors.ErrConfiguration, "no serial port selected")
	}

	s.teardown()

	s.setState(models.LinkConnecting, "Connecting to "+portName, "orange", models.LogInfo)

	port, err := s.opener.Open(portName, s.cfg.BaudRate, s.cfg.ReadTimeout)
	if err != nil {
		s.eventLog.Log(fmt.Sprintf("Connection to %s failed: %v", portName, err), models.LogError)
		s.setState(models.LinkDisconnected, "Connection failed", "red", models.LogError)
		return appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "failed to open serial port")
	}

	s.mu.Lock()
	s.port = port
	s.portName = portName
	s.manualDisconnect = false
	now := s.now()
	s.lastHeartbeat = now
	s.lastReconnect = now
	s.lastSelfTest = now
	s.startLoopsLocked()
	s.mu.Unlock()

	s.setState(models.LinkConnected, "Connected to "+portName, "green", models.LogInfo)
	s.logger.Info("serial link connected", zap.String("port", portName))
	return nil
}

// Disconnect stops both loops and closes the handle. It is safe to call at
// any time, from any state, and always succeeds. The manual-disconnect flag
// suppresses the health loop's auto-reconnect until the next Connect.
func (s *LinkSupervisor) Disconnect() {
	s.mu.Lock()
	s.manualDisconnect = true
	s.mu.Unlock()

	s.teardown()
	s.setState(models.LinkDisconnected, "Not connected", "gray", models.LogInfo)
	s.logger.Info("serial link disconnected")
}

// teardown stops the loops with a bounded wait and closes any open handle.
// A loop that fails to exit in time is abandoned; closing the handle makes
// its next I/O call fail and the loop exits on that error.
func (s *LinkSupervisor) teardown() {
	s.mu.Lock()
	var done chan struct{}
	if s.running {
		close(s.stop)
		done = s.loopsDone
		s.running = false
	}
	port := s.port
	s.port = nil
	s.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-time.After(s.cfg.StopTimeout):
			s.logger.Warn("loops did not stop in time, closing handle anyway")
		}
	}
	if port != nil {
		if err := port.Close(); err != nil {
			s.logger.Warn("error closing serial port", zap.Error(err))
		}
	}
}

// IsConnected reports whether a handle is open and the link is in Connected.
func (s *LinkSupervisor) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == models.LinkConnected && s.port != nil && s.port.IsOpen()
}

// Info returns a snapshot of the connection state.
func (s *LinkSupervisor) Info() models.LinkInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := models.LinkInfo{
		Port:      s.portName,
		State:     s.state,
		Connected: s.state == models.LinkConnected && s.port != nil && s.port.IsOpen(),
	}
	if !s.lastHeartbeat.IsZero() {
		info.HeartbeatAge = s.now().Sub(s.lastHeartbeat).Seconds()
	}
	return info
}

// Inject feeds a raw line into the processing pipeline, bypassing the
// physical handle. Used by the radio simulator and by tests.
func (s *LinkSupervisor) Inject(rawLine string) {
	s.processLine(rawLine)
}

func (s *LinkSupervisor) startLoopsLocked() {
	s.stop = make(chan struct{})
	s.loopsDone = make(chan struct{})
	s.reconnectCh = make(chan struct{}, 1)
	s.running = true

	var wg sync.WaitGroup
	wg.Add(2)
	stop := s.stop
	reconnectCh := s.reconnectCh
	go func() {
		defer wg.Done()
		s.readLoop(stop, reconnectCh)
	}()
	go func() {
		defer wg.Done()
		s.healthLoop(stop, reconnectCh)
	}()
	done := s.loopsDone
	go func() {
		wg.Wait()
		close(done)
	}()
}

// readLoop blocks on the next line with a bounded wait so stop requests are
// observed promptly. A malformed line never terminates the loop; a handle
// fault hands control to the health loop for reconnection.
func (s *LinkSupervisor) readLoop(stop <-chan struct{}, reconnectCh chan<- struct{}) {
	s.logger.Debug("read loop started")
	defer s.logger.Debug("read loop stopped")

	for {
		select {
		case <-stop:
			return
		default:
		}

		s.mu.Lock()
		port := s.port
		s.mu.Unlock()

		if port == nil || !port.IsOpen() {
			// Reconnection in progress; idle until the health loop restores
			// the handle.
			select {
			case <-stop:
				return
			case <-time.After(s.cfg.ReadTimeout):
			}
			continue
		}

		line, err := port.ReadLine()
		if err != nil {
			if errors.Is(err, serialport.ErrNoData) {
				continue
			}
			s.mu.Lock()
			stale := s.port != port
			s.mu.Unlock()
			if stale {
				// A reconnect swapped the handle out from under this read;
				// the close error belongs to the old handle, not the link.
				continue
			}
			s.eventLog.Log(fmt.Sprintf("Serial read failed: %v", err), models.LogError)
			select {
			case reconnectCh <- struct{}{}:
			default:
			}
			select {
			case <-stop:
				return
			case <-time.After(s.cfg.ReadTimeout):
			}
			continue
		}
		if line == "" {
			continue
		}
		s.processLine(line)
	}
}

func (s *LinkSupervisor) processLine(line string) {
	now := s.now()

	s.mu.Lock()
	s.lastHeartbeat = now
	s.mu.Unlock()

	s.metrics.ObserveLineReceived()

	event, err := protocol.Decode(line, now)
	if err != nil {
		var reject *protocol.RejectError
		reason := "unknown"
		if errors.As(err, &reject) {
			reason = string(reject.Reason)
		}
		s.metrics.ObserveLineRejected(reason)
		s.eventLog.Log(fmt.Sprintf("Rejected line (%s): %q", reason, line), models.LogError)
		return
	}

	outcome := s.aggregator.Apply(event)
	if outcome == OutcomeChanged {
		s.metrics.ObserveStatusChange(event.Code)
	}
	s.logger.Debug("line applied",
		zap.Int("student_id", event.StudentID),
		zap.String("code", string(event.Code)),
		zap.String("outcome", string(outcome)))
}

// healthLoop checks link health on a fixed interval and owns all
// reconnection decisions.
func (s *LinkSupervisor) healthLoop(stop <-chan struct{}, reconnectCh <-chan struct{}) {
	s.logger.Debug("health loop started")
	defer s.logger.Debug("health loop stopped")

	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-reconnectCh:
			if !s.manuallyDisconnected() {
				s.eventLog.Log("Read failure, reconnecting", models.LogHealth)
				s.reconnect()
			}
		case <-ticker.C:
			s.healthCheck()
		}
	}
}

func (s *LinkSupervisor) healthCheck() {
	s.mu.Lock()
	if s.manualDisconnect {
		s.mu.Unlock()
		return
	}
	now := s.now()
	port := s.port
	sinceReconnect := now.Sub(s.lastReconnect)
	sinceSelfTest := now.Sub(s.lastSelfTest)
	silence := now.Sub(s.lastHeartbeat)
	s.mu.Unlock()

	// Unconditional refresh: the bridge is known to wedge silently on some
	// hosts after long sessions.
	if sinceReconnect > s.cfg.ForcedRefresh {
		s.eventLog.Log("Forced link refresh", models.LogHealth)
		s.reconnect()
		return
	}

	if port == nil || !port.IsOpen() {
		s.eventLog.Log("Connection lost, reconnecting", models.LogHealth)
		s.reconnect()
		return
	}

	if sinceSelfTest > s.cfg.SelfTestInterval {
		if !s.selfTest(port) {
			s.eventLog.Log("Link self-test failed, reconnecting", models.LogHealth)
			s.reconnect()
			return
		}
		s.mu.Lock()
		s.lastSelfTest = s.now()
		s.mu.Unlock()
	}

	if silence > s.cfg.HeartbeatReconnect {
		s.eventLog.Log(fmt.Sprintf("No data for %.0fs, reconnecting", silence.Seconds()), models.LogHealth)
		s.reconnect()
		return
	}
	if silence > s.cfg.HeartbeatWarn {
		s.eventLog.Log(fmt.Sprintf("Heartbeat warning: %.0fs since last message", silence.Seconds()), models.LogHealth)
	}
}

// selfTest proves the handle still accepts writes and the device is still
// enumerated by the host.
func (s *LinkSupervisor) selfTest(port serialport.Port) bool {
	if _, err := port.Write([]byte(livenessProbe)); err != nil {
		s.logger.Debug("liveness write failed", zap.Error(err))
		return false
	}

	ports, err := s.opener.List()
	if err != nil {
		s.logger.Debug("port enumeration failed", zap.Error(err))
		return false
	}
	s.mu.Lock()
	name := s.portName
	s.mu.Unlock()
	for _, candidate := range ports {
		if candidate == name {
			return true
		}
	}
	return false
}

// reconnect closes any existing handle and reopens the selected port. On
// failure the link goes to Disconnected but the health loop keeps running
// and retries on its next tick.
func (s *LinkSupervisor) reconnect() {
	s.mu.Lock()
	name := s.portName
	old := s.port
	s.port = nil
	s.mu.Unlock()

	if name == "" {
		return
	}

	s.metrics.ObserveReconnect()
	s.setState(models.LinkReconnecting, "Reconnecting to "+name, "orange", models.LogHealth)

	if old != nil {
		if err := old.Close(); err != nil {
			s.logger.Debug("error closing stale handle", zap.Error(err))
		}
	}

	port, err := s.opener.Open(name, s.cfg.BaudRate, s.cfg.ReadTimeout)
	if err != nil {
		s.eventLog.Log(fmt.Sprintf("Reconnection to %s failed: %v", name, err), models.LogError)
		s.setState(models.LinkDisconnected, "Reconnection failed", "red", models.LogError)
		return
	}

	s.mu.Lock()
	if s.manualDisconnect {
		// Disconnect landed while the port was reopening; the fresh handle
		// must not outlive the operator's decision.
		s.mu.Unlock()
		if err := port.Close(); err != nil {
			s.logger.Debug("error closing handle opened during disconnect", zap.Error(err))
		}
		return
	}
	s.port = port
	now := s.now()
	s.lastHeartbeat = now
	s.lastReconnect = now
	s.lastSelfTest = now
	s.mu.Unlock()

	s.setState(models.LinkConnected, "Reconnected to "+name, "green", models.LogHealth)
	s.logger.Info("serial link reconnected", zap.String("port", name))
}

func (s *LinkSupervisor) manuallyDisconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manualDisconnect
}

// setState records the transition and emits it to the presentation port and
// the event log.
func (s *LinkSupervisor) setState(state models.LinkState, text, severity string, category models.LogCategory) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	s.metrics.ObserveLinkState(state)
	s.notifier.OnConnectionStatus(text, severity)
	s.eventLog.Log(text, category)
}
