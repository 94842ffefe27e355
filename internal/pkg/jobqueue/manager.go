package jobqueue

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/tramitex/permisos/internal/pkg/database"
	"github.com/tramitex/permisos/internal/pkg/env"
	"github.com/tramitex/permisos/internal/pkg/notify"
	"github.com/tramitex/permisos/internal/pkg/payments"
)

// Manager manages the global job queue and background tasks
type Manager struct {
	queue        *Queue
	reaperTicker *time.Ticker
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex
	running      bool

	repo payments.Repository
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton). It wires the
// queue, the event processor and the notification path together: the queue
// doubles as the processor's permit enqueuer and notifier, so permit and
// mail work always flows back through Redis instead of running inline.
func GetManager() *Manager {
	managerOnce.Do(func() {
		workerCount := env.GetEnvInt("QUEUE_WORKERS", 5)
		maxAttempts := env.GetEnvInt("PAYMENT_MAX_ATTEMPTS", payments.DefaultMaxProcessAttempts)

		queue := NewQueue(workerCount)
		repo := payments.NewRepository(database.GetDB())

		alerter := notify.NewMailAlerterFromEnv()
		processor := payments.NewEventProcessor(repo, queue, queue, alerter, maxAttempts)
		queue.SetEventProcessor(processor)
		queue.SetNotifier(notify.NewMailNotifier(repo))

		globalManager = &Manager{
			queue:  queue,
			stopCh: make(chan struct{}),
			repo:   repo,
		}
	})
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	// Start the job queue
	m.queue.Start()

	// Reaper re-enqueues events that were acknowledged but whose processing
	// job was lost (crash between ack and completion).
	reaperInterval := env.GetEnvDuration("EVENT_REAPER_INTERVAL", 2*time.Minute)
	m.reaperTicker = time.NewTicker(reaperInterval)
	m.wg.Add(1)
	go m.reaperWorker(reaperInterval)

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.reaperTicker != nil {
		m.reaperTicker.Stop()
	}

	// Signal workers to stop
	close(m.stopCh)
	m.stopCh = nil
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	// Stop the job queue
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// reaperWorker runs periodically to re-enqueue stuck webhook events
func (m *Manager) reaperWorker(interval time.Duration) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started event reaper (interval: %s)", interval)

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Event reaper stopping")
			return
		case <-m.reaperTicker.C:
			if err := m.reapStuckEventsOnce(); err != nil {
				log.Errorf("[JobQueue Manager] Event reaper error: %v", err)
			}
		}
	}
}

func (m *Manager) reapStuckEventsOnce() error {
	cutoff := time.Now().Add(-payments.StuckEventThreshold)
	events, err := m.repo.ListStuckWebhookEvents(cutoff, 100)
	if err != nil {
		return err
	}
	for _, event := range events {
		log.Warnf("[JobQueue Manager] Re-enqueueing stuck webhook event %d (%s)", event.ID, event.ProviderEventID)
		if err := m.queue.EnqueueProcessPaymentEvent(event.ID); err != nil {
			log.Errorf("[JobQueue Manager] Failed to re-enqueue event %d: %v", event.ID, err)
		}
	}
	return nil
}

// ReapStuckEventsOnce exposes a manual trigger for a single reaper pass (ops use).
func (m *Manager) ReapStuckEventsOnce() error {
	return m.reapStuckEventsOnce()
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
