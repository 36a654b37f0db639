package container

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"tastytrade-brokerage/brokerage"
	"tastytrade-brokerage/config"
	"tastytrade-brokerage/infrastructure/logger"
)

// Lifecycle 生命周期接口
type Lifecycle interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Health() error
}

// LifecycleManager 按注册顺序启动，逆序停止
type LifecycleManager struct {
	components []Lifecycle
	started    int
	mu         sync.Mutex
}

func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{}
}

func (m *LifecycleManager) Register(component Lifecycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component)
}

// StartAll 任一组件失败时回滚已启动的组件
func (m *LifecycleManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, component := range m.components {
		if err := component.Start(ctx); err != nil {
			var rollback []error
			for j := i - 1; j >= 0; j-- {
				if stopErr := m.components[j].Stop(); stopErr != nil {
					rollback = append(rollback, stopErr)
				}
			}
			m.started = 0
			return errors.Join(fmt.Errorf("start %s: %w", component.Name(), err), errors.Join(rollback...))
		}
		m.started = i + 1
	}
	return nil
}

// StopAll 逆序停止已启动的组件，汇总全部错误
func (m *LifecycleManager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for i := m.started - 1; i >= 0; i-- {
		if err := m.components[i].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", m.components[i].Name(), err))
		}
	}
	m.started = 0
	return errors.Join(errs...)
}

func (m *LifecycleManager) CheckHealth() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, component := range m.components {
		if err := component.Health(); err != nil {
			return fmt.Errorf("%s unhealthy: %w", component.Name(), err)
		}
	}
	return nil
}

// httpServerComponent /metrics 服务；先同步 Listen，端口占用在 Start 时就报错。
type httpServerComponent struct {
	name    string
	handler http.Handler
	addr    string
	logger  *logger.Logger
	server  **http.Server
	started bool
	mu      sync.Mutex
}

func (h *httpServerComponent) Name() string { return h.name }

func (h *httpServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return nil
	}
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", h.addr, err)
	}

	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           h.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	*h.server = srv

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.LogError(err, map[string]interface{}{
				"component": h.name,
				"action":    "serve",
			})
		}
	}()
	h.logger.Info("http server listening", zap.String("component", h.name), zap.String("addr", ln.Addr().String()))

	h.started = true
	return nil
}

func (h *httpServerComponent) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started || *h.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := (*h.server).Shutdown(ctx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", h.name, err)
	}

	h.logger.Info("http server stopped", zap.String("component", h.name))
	h.started = false
	return nil
}

func (h *httpServerComponent) Health() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return fmt.Errorf("%s not started", h.name)
	}
	return nil
}

// brokerageComponent 券商连接：启动时完成推送握手与账户快照
type brokerageComponent struct {
	brk *brokerage.Brokerage
}

func (b *brokerageComponent) Name() string { return "brokerage" }

func (b *brokerageComponent) Start(ctx context.Context) error {
	return b.brk.Connect(ctx)
}

func (b *brokerageComponent) Stop() error {
	b.brk.Disconnect()
	return nil
}

func (b *brokerageComponent) Health() error {
	if !b.brk.IsConnected() {
		return brokerage.ErrNotConnected
	}
	return nil
}

// configWatchComponent 监听配置文件并热更新运行时参数
type configWatchComponent struct {
	path   string
	logger *logger.Logger
	apply  func(config.AppConfig)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan error
}

func (w *configWatchComponent) Name() string { return "config_watcher" }

func (w *configWatchComponent) Start(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return nil
	}
	watcher, err := config.NewWatcher(w.path, 0, w.logger)
	if err != nil {
		return err
	}
	// 与启动 ctx 解耦，由 Stop 结束
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan error, 1)
	go func() {
		w.done <- watcher.Run(ctx, w.apply)
	}()
	return nil
}

func (w *configWatchComponent) Stop() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (w *configWatchComponent) Health() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel == nil {
		return fmt.Errorf("config watcher not running")
	}
	select {
	case err := <-w.done:
		w.done <- err
		return fmt.Errorf("config watcher stopped: %w", err)
	default:
		return nil
	}
}
