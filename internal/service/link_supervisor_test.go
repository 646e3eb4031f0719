package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qubelab/qube-monitor/internal/models"
	serialport "github.com/qubelab/qube-monitor/internal/serial"
	"github.com/qubelab/qube-monitor/pkg/config"
)

type fakePort struct {
	name string

	mu       sync.Mutex
	lines    []string
	readErr  error
	writes   int
	writeErr error
	closed   bool
}

func (p *fakePort) push(lines ...string) {
	p.mu.Lock()
	p.lines = append(p.lines, lines...)
	p.mu.Unlock()
}

func (p *fakePort) failReads(err error) {
	p.mu.Lock()
	p.readErr = err
	p.mu.Unlock()
}

func (p *fakePort) ReadLine() (string, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", errors.New("port closed")
	}
	if p.readErr != nil {
		err := p.readErr
		p.mu.Unlock()
		return "", err
	}
	if len(p.lines) == 0 {
		p.mu.Unlock()
		// Mimic a quiet link: the real handle blocks for the read timeout.
		time.Sleep(time.Millisecond)
		return "", serialport.ErrNoData
	}
	line := p.lines[0]
	p.lines = p.lines[1:]
	p.mu.Unlock()
	return line, nil
}

func (p *fakePort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.writes++
	return len(data), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePort) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

func (p *fakePort) Name() string { return p.name }

func (p *fakePort) writeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

func (p *fakePort) isClosed() bool {
	return !p.IsOpen()
}

type fakeOpener struct {
	mu        sync.Mutex
	available []string
	openErr   error
	opened    []*fakePort
}

func (o *fakeOpener) Open(name string, baudRate int, readTimeout time.Duration) (serialport.Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.openErr != nil {
		return nil, o.openErr
	}
	port := &fakePort{name: name}
	o.opened = append(o.opened, port)
	return port, nil
}

func (o *fakeOpener) List() ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.available))
	copy(out, o.available)
	return out, nil
}

func (o *fakeOpener) failOpens(err error) {
	o.mu.Lock()
	o.openErr = err
	o.mu.Unlock()
}

func (o *fakeOpener) setAvailable(ports ...string) {
	o.mu.Lock()
	o.available = ports
	o.mu.Unlock()
}

func (o *fakeOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opened)
}

func (o *fakeOpener) portAt(i int) *fakePort {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened[i]
}

// Timers irrelevant to a test are pushed out to an hour so only the behavior
// under test can fire.
func quietSerialConfig() config.SerialConfig {
	return config.SerialConfig{
		BaudRate:           115200,
		ReadTimeout:        5 * time.Millisecond,
		HealthInterval:     10 * time.Millisecond,
		ForcedRefresh:      time.Hour,
		SelfTestInterval:   time.Hour,
		HeartbeatWarn:      time.Hour,
		HeartbeatReconnect: time.Hour,
		StopTimeout:        time.Second,
	}
}

func newTestSupervisor(t *testing.T, cfg config.SerialConfig, opener *fakeOpener) (*LinkSupervisor, *StatusAggregator, *EventLog, *recordingNotifier) {
	t.Helper()
	notifier := &recordingNotifier{}
	eventLog := NewEventLog(config.MonitorConfig{}, NopNotifier{}, zap.NewNop())
	agg := NewStatusAggregator(config.MonitorConfig{}, eventLog, NopNotifier{}, zap.NewNop())
	agg.UpdateAllowList("123456:Jane Doe\n234567:Sam")
	sup := NewLinkSupervisor(cfg, opener, agg, eventLog, notifier, nil, zap.NewNop())
	t.Cleanup(sup.Disconnect)
	return sup, agg, eventLog, notifier
}

func TestConnectRejectsEmptyPortName(t *testing.T) {
	opener := &fakeOpener{}
	sup, _, _, notifier := newTestSupervisor(t, quietSerialConfig(), opener)

	err := sup.Connect("")
	require.Error(t, err)
	assert.Equal(t, 0, opener.openCount())
	assert.Contains(t, notifier.connStatuses, "No port selected")
}

func TestConnectOpenFailureStaysDisconnected(t *testing.T) {
	opener := &fakeOpener{}
	opener.failOpens(errors.New("device busy"))
	sup, _, eventLog, _ := newTestSupervisor(t, quietSerialConfig(), opener)

	err := sup.Connect("/dev/ttyUSB0")
	require.Error(t, err)
	assert.Equal(t, models.LinkDisconnected, sup.Info().State)
	assert.False(t, sup.IsConnected())

	stats := eventLog.Stats()
	assert.Greater(t, stats[models.LogError], 0)
}

func TestConnectedLinesReachTheAggregator(t *testing.T) {
	opener := &fakeOpener{}
	sup, agg, _, _ := newTestSupervisor(t, quietSerialConfig(), opener)

	require.NoError(t, sup.Connect("/dev/ttyUSB0"))
	assert.True(t, sup.IsConnected())

	opener.portAt(0).push("L,123456,R")

	assert.Eventually(t, func() bool {
		view := agg.SortedView()
		return len(view) == 1 && view[0].Code == models.StatusHelpNeeded
	}, time.Second, 5*time.Millisecond)
}

func TestMalformedLinesNeverKillTheReadLoop(t *testing.T) {
	opener := &fakeOpener{}
	sup, agg, _, _ := newTestSupervisor(t, quietSerialConfig(), opener)

	require.NoError(t, sup.Connect("/dev/ttyUSB0"))

	port := opener.portAt(0)
	for i := 0; i < 100; i++ {
		port.push("garbage noise !!!")
	}
	port.push("L,123456,V")

	assert.Eventually(t, func() bool {
		return len(agg.SortedView()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.True(t, sup.IsConnected())
	assert.Equal(t, 1, opener.openCount(), "no reconnect for malformed lines")
}

func TestForcedRefreshReconnectsEvenWhenHealthy(t *testing.T) {
	cfg := quietSerialConfig()
	cfg.ForcedRefresh = 30 * time.Millisecond
	opener := &fakeOpener{}
	sup, _, _, _ := newTestSupervisor(t, cfg, opener)

	require.NoError(t, sup.Connect("/dev/ttyUSB0"))

	assert.Eventually(t, func() bool {
		return opener.openCount() >= 2
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, sup.IsConnected, time.Second, 5*time.Millisecond)
	assert.True(t, opener.portAt(0).isClosed(), "stale handle closed on refresh")
}

func TestForcedRefreshCausesExactlyOneReconnect(t *testing.T) {
	cfg := quietSerialConfig()
	cfg.ForcedRefresh = 60 * time.Millisecond
	opener := &fakeOpener{}
	sup, _, eventLog, _ := newTestSupervisor(t, cfg, opener)

	require.NoError(t, sup.Connect("/dev/ttyUSB0"))

	assert.Eventually(t, func() bool {
		return opener.openCount() == 2
	}, time.Second, 5*time.Millisecond)

	// The read loop observes the swapped-out handle's close error; it must
	// not escalate it into another reconnect or a visible error entry.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 2, opener.openCount(), "one refresh, one reconnect")
	assert.Equal(t, 0, eventLog.Stats()[models.LogError])
	assert.True(t, sup.IsConnected())
}

func TestHeartbeatSilenceTriggersReconnect(t *testing.T) {
	cfg := quietSerialConfig()
	cfg.HeartbeatWarn = 20 * time.Millisecond
	cfg.HeartbeatReconnect = 40 * time.Millisecond
	opener := &fakeOpener{}
	sup, _, _, _ := newTestSupervisor(t, cfg, opener)

	require.NoError(t, sup.Connect("/dev/ttyUSB0"))

	assert.Eventually(t, func() bool {
		return opener.openCount() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestSelfTestFailureTriggersReconnect(t *testing.T) {
	cfg := quietSerialConfig()
	cfg.SelfTestInterval = 20 * time.Millisecond
	opener := &fakeOpener{}
	opener.setAvailable("/dev/ttyUSB9") // connected port absent from the host list
	sup, _, _, _ := newTestSupervisor(t, cfg, opener)

	require.NoError(t, sup.Connect("/dev/ttyUSB0"))

	assert.Eventually(t, func() bool {
		return opener.openCount() >= 2
	}, time.Second, 5*time.Millisecond)
	assert.Greater(t, opener.portAt(0).writeCount(), 0, "liveness probe written before the verdict")
}

func TestSelfTestPassesWhenDeviceStillEnumerated(t *testing.T) {
	cfg := quietSerialConfig()
	cfg.SelfTestInterval = 20 * time.Millisecond
	opener := &fakeOpener{}
	opener.setAvailable("/dev/ttyUSB0")
	sup, _, _, _ := newTestSupervisor(t, cfg, opener)

	require.NoError(t, sup.Connect("/dev/ttyUSB0"))

	assert.Eventually(t, func() bool {
		return opener.portAt(0).writeCount() >= 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, opener.openCount(), "passing self-tests never reconnect")
}

func TestReadFailureTriggersReconnect(t *testing.T) {
	opener := &fakeOpener{}
	sup, _, _, _ := newTestSupervisor(t, quietSerialConfig(), opener)

	require.NoError(t, sup.Connect("/dev/ttyUSB0"))
	opener.portAt(0).failReads(errors.New("input/output error"))

	assert.Eventually(t, func() bool {
		return opener.openCount() >= 2
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, sup.IsConnected, time.Second, 5*time.Millisecond)
}

func TestReconnectFailureKeepsRetryingUntilPortReturns(t *testing.T) {
	cfg := quietSerialConfig()
	cfg.HeartbeatReconnect = 20 * time.Millisecond
	opener := &fakeOpener{}
	sup, _, _, _ := newTestSupervisor(t, cfg, opener)

	require.NoError(t, sup.Connect("/dev/ttyUSB0"))

	opener.failOpens(errors.New("device gone"))
	assert.Eventually(t, func() bool {
		return sup.Info().State == models.LinkDisconnected
	}, time.Second, 5*time.Millisecond)

	opener.failOpens(nil)
	assert.Eventually(t, sup.IsConnected, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, opener.openCount(), 2)
}

func TestManualDisconnectSuppressesAutoReconnect(t *testing.T) {
	cfg := quietSerialConfig()
	cfg.HeartbeatReconnect = 20 * time.Millisecond
	opener := &fakeOpener{}
	sup, _, _, _ := newTestSupervisor(t, cfg, opener)

	require.NoError(t, sup.Connect("/dev/ttyUSB0"))
	sup.Disconnect()

	assert.Equal(t, models.LinkDisconnected, sup.Info().State)
	assert.True(t, opener.portAt(0).isClosed())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, opener.openCount(), "no reconnect after manual disconnect")
}

func TestDisconnectDuringReconnectClosesFreshHandle(t *testing.T) {
	opener := &fakeOpener{}
	sup, _, _, _ := newTestSupervisor(t, quietSerialConfig(), opener)

	require.NoError(t, sup.Connect("/dev/ttyUSB0"))
	sup.Disconnect()

	// A reconnect racing the disconnect reopens the port after teardown ran;
	// the fresh handle must be closed, not installed.
	sup.reconnect()

	require.Equal(t, 2, opener.openCount())
	assert.True(t, opener.portAt(1).isClosed())
	assert.False(t, sup.IsConnected())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	opener := &fakeOpener{}
	sup, _, _, _ := newTestSupervisor(t, quietSerialConfig(), opener)

	sup.Disconnect()
	sup.Disconnect()
	assert.Equal(t, models.LinkDisconnected, sup.Info().State)
}

func TestReconnectAfterManualDisconnectStartsFresh(t *testing.T) {
	opener := &fakeOpener{}
	sup, agg, _, _ := newTestSupervisor(t, quietSerialConfig(), opener)

	require.NoError(t, sup.Connect("/dev/ttyUSB0"))
	sup.Disconnect()
	require.NoError(t, sup.Connect("/dev/ttyUSB0"))

	opener.portAt(1).push("L,234567,G")
	assert.Eventually(t, func() bool {
		return len(agg.SortedView()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestInjectBypassesTheHandle(t *testing.T) {
	opener := &fakeOpener{}
	sup, agg, _, _ := newTestSupervisor(t, quietSerialConfig(), opener)

	sup.Inject("L,123456,V")

	view := agg.SortedView()
	require.Len(t, view, 1)
	assert.Equal(t, models.StatusQuestion, view[0].Code)
	assert.Greater(t, sup.Info().HeartbeatAge, -1.0)
}

func TestRejectedLinesAreLoggedAsErrors(t *testing.T) {
	opener := &fakeOpener{}
	sup, _, eventLog, _ := newTestSupervisor(t, quietSerialConfig(), opener)

	sup.Inject("L,42,R")

	stats := eventLog.Stats()
	assert.Equal(t, 1, stats[models.LogError])
}

func TestListPortsWrapsOpenerErrors(t *testing.T) {
	opener := &fakeOpener{}
	opener.setAvailable("/dev/ttyUSB0", "/dev/ttyACM1")
	sup, _, _, _ := newTestSupervisor(t, quietSerialConfig(), opener)

	ports, err := sup.ListPorts()
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/ttyUSB0", "/dev/ttyACM1"}, ports)
}
