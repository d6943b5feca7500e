package discovery

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"diskwatch/internal/logging"
)

// netlinkWakeup listens for block device uevents and nudges the discovery
// loop so newly attached media is picked up before the next poll tick.
// Failing to connect is non-fatal; discovery falls back to polling alone.
type netlinkWakeup struct {
	logger *slog.Logger
	wake   chan<- struct{}

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

func newNetlinkWakeup(logger *slog.Logger, wake chan<- struct{}) *netlinkWakeup {
	return &netlinkWakeup{
		logger: logging.NewComponentLogger(logger, "netlink-wakeup"),
		wake:   wake,
	}
}

func (m *netlinkWakeup) Start(ctx context.Context) {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		m.logger.Warn("failed to connect to netlink socket; relying on poll interval alone",
			logging.Error(err),
		)
		return
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.monitorLoop(ctx, conn, quit)
	m.logger.Info("netlink wakeup started")
}

func (m *netlinkWakeup) Stop() {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false
}

func (m *netlinkWakeup) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, blockDeviceMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			m.logger.Debug("block device event",
				logging.String("action", string(uevent.Action)),
				logging.String("kobj", uevent.KObj),
			)
			select {
			case m.wake <- struct{}{}:
			default:
				// A wakeup is already pending.
			}
		case err := <-errs:
			m.logger.Warn("netlink monitor error", logging.Error(err))
		}
	}
}

// blockDeviceMatcher matches add, remove, and change events for block
// devices, which covers plugging, unplugging, and media swaps.
func blockDeviceMatcher() netlink.Matcher {
	action := "add|remove|change"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "block",
		},
	})
	return rules
}
