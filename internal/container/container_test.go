package container

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"tastytrade-brokerage/config"
	"tastytrade-brokerage/host"
	"tastytrade-brokerage/infrastructure/logger"
	"tastytrade-brokerage/infrastructure/monitor"
)

const testConfig = `
env: sandbox
account: 5WT00001
gateway:
  sessionToken: tok
orders:
  maxContracts: 10
log:
  level: info
  outputs: [stdout]
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "brokerage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o644))
	return path
}

type recordingHost struct {
	mu       sync.Mutex
	messages []host.BrokerageMessage
}

func (h *recordingHost) OnOrderEvents([]host.OrderEvent) {}

func (h *recordingHost) OnMessage(msg host.BrokerageMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}

func buildContainer(t *testing.T, opts ...Option) *Container {
	t.Helper()
	c, err := New(writeConfig(t), opts...)
	require.NoError(t, err)
	require.NoError(t, c.Build())
	return c
}

func TestBuildWiresComponents(t *testing.T) {
	c := buildContainer(t)

	require.NotNil(t, c.Brokerage())
	assert.Equal(t, "https://api.cert.tastyworks.com", c.REST().BaseURL)
	assert.Equal(t, "wss://streamer.cert.tastyworks.com", c.accountStream.URL)
	assert.Equal(t, []string{"5WT00001"}, c.accountStream.Accounts)
	assert.NotNil(t, c.REST().Limiter)

	var names []string
	for _, comp := range c.lifecycle.components {
		names = append(names, comp.Name())
	}
	assert.Equal(t, []string{"brokerage", "config_watcher"}, names, "no metrics server without an address")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("env: sandbox\n"), 0o644))
	_, err := New(path)
	require.Error(t, err)
}

func TestApplyRuntimeChangesLogLevel(t *testing.T) {
	c := buildContainer(t)
	assert.Equal(t, zapcore.InfoLevel, c.Logger().Level())

	cfg := c.Config()
	cfg.Runtime.LogLevel = "warn"
	cfg.Runtime.IgnoreUnknownAssets = true
	c.applyRuntime(cfg)

	assert.Equal(t, zapcore.WarnLevel, c.Logger().Level())
}

func TestAlertsReachHost(t *testing.T) {
	h := &recordingHost{}
	c := buildContainer(t, WithHost(h))

	require.NoError(t, c.Alerts().SendWarning("HistoryTimeout", "partial history", nil))
	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.messages, 1)
	assert.Equal(t, "HistoryTimeout", h.messages[0].Code)
}

type fakeComponent struct {
	name     string
	startErr error
	log      *[]string
}

func (f *fakeComponent) Name() string { return f.name }

func (f *fakeComponent) Start(context.Context) error {
	*f.log = append(*f.log, "start "+f.name)
	return f.startErr
}

func (f *fakeComponent) Stop() error {
	*f.log = append(*f.log, "stop "+f.name)
	return nil
}

func (f *fakeComponent) Health() error { return nil }

func TestLifecycleStartStopOrder(t *testing.T) {
	var log []string
	m := NewLifecycleManager()
	m.Register(&fakeComponent{name: "a", log: &log})
	m.Register(&fakeComponent{name: "b", log: &log})

	require.NoError(t, m.StartAll(context.Background()))
	require.NoError(t, m.StopAll())
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, log)
}

func TestLifecycleRollsBackOnFailure(t *testing.T) {
	var log []string
	m := NewLifecycleManager()
	m.Register(&fakeComponent{name: "a", log: &log})
	m.Register(&fakeComponent{name: "b", log: &log, startErr: errors.New("boom")})
	m.Register(&fakeComponent{name: "c", log: &log})

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start b")
	assert.Equal(t, []string{"start a", "start b", "stop a"}, log)

	require.NoError(t, m.StopAll())
	assert.Len(t, log, 3, "nothing left to stop")
}

func TestMetricsServerComponent(t *testing.T) {
	var srv *http.Server
	comp := &httpServerComponent{
		name:    "metrics_server",
		handler: monitor.New(monitor.DefaultConfig()).Handler(),
		addr:    "127.0.0.1:0",
		logger:  logger.NewNop(),
		server:  &srv,
	}
	require.Error(t, comp.Health())
	require.NoError(t, comp.Start(context.Background()))
	defer comp.Stop()
	require.NoError(t, comp.Health())

	resp, err := http.Get("http://" + srv.Addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "tasty_brokerage_orders_placed_total"))
}

func TestConfigWatchComponent(t *testing.T) {
	path := writeConfig(t)
	comp := &configWatchComponent{path: path, logger: logger.NewNop(), apply: func(config.AppConfig) {}}

	require.Error(t, comp.Health())
	require.NoError(t, comp.Start(context.Background()))
	require.NoError(t, comp.Health())
	require.NoError(t, comp.Stop())
	require.NoError(t, comp.Stop())
}
