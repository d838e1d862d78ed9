package wsession

import (
	"sync"
	"time"
)

const DefaultHeartbeatInterval = 30 * time.Second

// heartbeat sends a liveness probe on a fixed interval while the transport is open. It is purely
// interval based: acknowledgments are consumed by the manager and never reset the ticker.
type heartbeat struct {
	interval time.Duration
	logger   Logger
	metrics  *Metrics

	mu    sync.Mutex
	stopC chan struct{}
}

func newHeartbeat(logger Logger, interval time.Duration, metrics *Metrics) *heartbeat {
	return &heartbeat{
		interval: interval,
		logger:   logger.WithField("component", "heartbeat"),
		metrics:  metrics,
	}
}

// Start begins ticking. On every tick probe is called if, and only if, isOpen reports true;
// probes are never queued for a closed transport. Calling Start while running restarts the
// ticker. A zero interval disables the heartbeat.
func (h *heartbeat) Start(isOpen func() bool, probe func() error) {
	if h.interval <= 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopLocked()
	stopC := make(chan struct{})
	h.stopC = stopC

	go h.run(stopC, isOpen, probe)
}

// Stop cancels the ticker. It does not wait for an in-flight probe, so it is safe to call
// while holding locks the probe needs.
func (h *heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopLocked()
}

func (h *heartbeat) stopLocked() {
	if h.stopC != nil {
		close(h.stopC)
		h.stopC = nil
	}
}

func (h *heartbeat) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.stopC != nil
}

func (h *heartbeat) run(stopC chan struct{}, isOpen func() bool, probe func() error) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopC:
			return
		case <-ticker.C:
			select {
			case <-stopC:
				return
			default:
			}

			if !isOpen() {
				h.logger.Debugln("transport not open, skipping probe")
				continue
			}
			if err := probe(); err != nil {
				h.logger.Warnf("cannot send liveness probe: %s", err)
				continue
			}
			h.metrics.heartbeatSent()
		}
	}
}
