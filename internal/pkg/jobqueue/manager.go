package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/FiscalFox/internal/pkg/env"
)

// ManagerConfig controls the status poller.
type ManagerConfig struct {
	Workers       int
	RetryDelay    time.Duration
	SweepInterval time.Duration
	PendingAge    time.Duration
	SweepBatch    int
}

// LoadManagerConfig reads the poller settings from the environment.
func LoadManagerConfig() ManagerConfig {
	return ManagerConfig{
		Workers:       env.GetEnvInt("FISCAL_POLL_WORKERS", 2),
		RetryDelay:    env.GetEnvDuration("FISCAL_POLL_RETRY_DELAY", 30*time.Second),
		SweepInterval: env.GetEnvDuration("FISCAL_POLL_SWEEP_INTERVAL", 5*time.Minute),
		PendingAge:    env.GetEnvDuration("FISCAL_POLL_PENDING_AGE", 10*time.Minute),
		SweepBatch:    env.GetEnvInt("FISCAL_POLL_SWEEP_BATCH", 100),
	}
}

// Manager owns the status check queue and the sweep that re-schedules
// documents nobody is polling anymore.
type Manager struct {
	cfg         ManagerConfig
	queue       *Queue
	poller      *StatusPoller
	checker     StatusChecker
	sweepTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

var (
	globalManager *Manager
	managerMu     sync.RWMutex
)

// NewManager wires the queue with the status check handler.
func NewManager(client *redis.Client, checker StatusChecker, cfg ManagerConfig) *Manager {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if cfg.PendingAge <= 0 {
		cfg.PendingAge = 10 * time.Minute
	}

	queue := NewQueue(client, cfg.Workers, cfg.RetryDelay)
	// The marker outlives every retry; finished jobs release it earlier.
	poller := NewStatusPoller(queue, client, BackoffWindow(queue.retryDelay, DefaultMaxRetries)+queue.retryDelay)
	queue.RegisterHandler(JobTypeFiscalStatusCheck, NewStatusCheckHandler(checker, poller.Release))

	return &Manager{
		cfg:     cfg,
		queue:   queue,
		poller:  poller,
		checker: checker,
		stopCh:  make(chan struct{}),
	}
}

// InitializeManager sets the process-wide manager.
func InitializeManager(m *Manager) {
	managerMu.Lock()
	defer managerMu.Unlock()
	globalManager = m
}

// GetManager returns the process-wide manager, nil when polling is disabled.
func GetManager() *Manager {
	managerMu.RLock()
	defer managerMu.RUnlock()
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Poller returns the enqueue side used by the fiscal service.
func (m *Manager) Poller() *StatusPoller {
	return m.poller
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting status poller")

	m.queue.Start()

	m.sweepTicker = time.NewTicker(m.cfg.SweepInterval)
	m.wg.Add(1)
	go m.pendingSweepWorker()

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping status poller...")

	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}

	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

func (m *Manager) pendingSweepWorker() {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Pending sweep every %s (age > %s)", m.cfg.SweepInterval, m.cfg.PendingAge)

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Pending sweep stopping")
			return
		case <-m.sweepTicker.C:
			if n, err := m.SweepPendingOnce(context.Background()); err != nil {
				log.Errorf("[JobQueue Manager] Pending sweep error: %v", err)
			} else if n > 0 {
				log.Infof("[JobQueue Manager] Scheduled %d pending documents", n)
			}
		}
	}
}

// SweepPendingOnce schedules a status check for every document that has been
// waiting for longer than the configured age.
func (m *Manager) SweepPendingOnce(ctx context.Context) (int, error) {
	docs, err := m.checker.PendingDocuments(ctx, m.cfg.PendingAge, m.cfg.SweepBatch)
	if err != nil {
		return 0, err
	}
	scheduled := 0
	for _, doc := range docs {
		if err := m.poller.EnqueueStatusCheck(ctx, doc.ID); err != nil {
			log.Warnf("[JobQueue Manager] Could not schedule document %d: %v", doc.ID, err)
			continue
		}
		scheduled++
	}
	return scheduled, nil
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
