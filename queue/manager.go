package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/uber-go/tally"
	uuid "github.com/satori/go.uuid"
	"go.uber.org/atomic"

	"github.com/angelasoler/hypertube/utils/log"
)

// DownloadQueue and ConversionQueue are the two queues named in spec
// section 4.8.
const (
	DownloadQueue   = "download"
	ConversionQueue = "conversion"
)

// Handler processes one dequeued message's payload. Returning an error
// marks the message FAILED rather than retrying it automatically --
// retrying belongs to the caller's own job-level semantics (see
// job.Manager.ResumeIncomplete).
type Handler func(ctx context.Context, payload string) error

// Config configures a Manager's worker pools and TTL bookkeeping.
// Grounded on lib/persistedretry.Config, trimmed to this package's
// simpler single-attempt-per-dequeue execution model (no separate
// retry queue/backoff: redelivery is handled by re-enqueueing, not by
// this package retrying in place).
type Config struct {
	NumWorkers          int           `yaml:"num_workers"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	DefaultTTL          time.Duration `yaml:"default_ttl"`
	ExpirySweepInterval time.Duration `yaml:"expiry_sweep_interval"`
	MaxFailures         int           `yaml:"max_failures"`
}

func (c Config) applyDefaults() Config {
	if c.NumWorkers == 0 {
		c.NumWorkers = 4
	}
	if c.PollInterval == 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.DefaultTTL == 0 {
		c.DefaultTTL = time.Hour
	}
	if c.ExpirySweepInterval == 0 {
		c.ExpirySweepInterval = 30 * time.Second
	}
	if c.MaxFailures == 0 {
		c.MaxFailures = 3
	}
	return c
}

// Manager owns the fixed worker pools for every registered queue and the
// background TTL sweep. Grounded on lib/persistedretry.manager: fixed
// worker goroutines pulling from a Store, a ticker-driven background
// loop, and crash recovery of in-flight work at registration time (the
// analogue of markPendingTasksAsFailed).
type Manager struct {
	config Config
	stats  tally.Scope
	store  Store

	mu       sync.Mutex
	handlers map[string]Handler

	wg        sync.WaitGroup
	sweepOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	closed    atomic.Bool
}

// NewManager creates a Manager backed by store.
func NewManager(config Config, stats tally.Scope, store Store) *Manager {
	config = config.applyDefaults()
	return &Manager{
		config:   config,
		stats:    stats.Tagged(map[string]string{"module": "queue"}),
		store:    store,
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}
}

// Register recovers any work left PROCESSING on queueName by a prior
// crash, then starts config.NumWorkers goroutines consuming it with
// handler. Safe to call once per queue name; the expiry sweep loop is
// started lazily on the first call regardless of queue name.
func (m *Manager) Register(queueName string, handler Handler) error {
	if m.closed.Load() {
		return fmt.Errorf("queue: manager closed")
	}

	m.mu.Lock()
	m.handlers[queueName] = handler
	m.mu.Unlock()

	if err := m.recover(queueName); err != nil {
		return fmt.Errorf("queue: recover %s: %w", queueName, err)
	}

	for i := 0; i < m.config.NumWorkers; i++ {
		m.wg.Add(1)
		go m.worker(queueName, handler)
	}

	m.sweepOnce.Do(func() {
		m.wg.Add(1)
		go m.expirySweepLoop()
	})

	return nil
}

// recover re-delivers messages orphaned by a crash: requeued if they
// still have failure budget left, marked FAILED otherwise. Spec section
// 4.8: "crash mid-job => message is re-delivered".
func (m *Manager) recover(queueName string) error {
	inFlight, err := m.store.ListInFlight(queueName)
	if err != nil {
		return err
	}
	for _, msg := range inFlight {
		if msg.Failures >= m.config.MaxFailures {
			if err := m.store.MarkFailed(msg.ID, "exceeded max failures during crash recovery"); err != nil {
				return err
			}
			continue
		}
		if err := m.store.Requeue(msg.ID); err != nil {
			return err
		}
	}
	return nil
}

// Enqueue durably adds payload to queueName with the given priority
// (clamped to [1,10]) and ttl (defaulting to config.DefaultTTL when
// zero).
func (m *Manager) Enqueue(queueName, payload string, priority int, ttl time.Duration) error {
	if ttl == 0 {
		ttl = m.config.DefaultTTL
	}
	now := time.Now()
	msg := &Message{
		ID:        uuid.NewV4().String(),
		Queue:     queueName,
		Payload:   payload,
		Priority:  clampPriority(priority),
		Status:    StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := m.store.Enqueue(msg); err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	m.stats.Tagged(map[string]string{"queue": queueName}).Counter("messages_enqueued").Inc(1)
	return nil
}

// EnqueueDownload implements job.Enqueuer, enqueueing jobID onto the
// download queue.
func (m *Manager) EnqueueDownload(jobID string, priority int) error {
	return m.Enqueue(DownloadQueue, jobID, priority, 0)
}

// EnqueueConversion enqueues jobID onto the conversion queue.
func (m *Manager) EnqueueConversion(jobID string, priority int) error {
	return m.Enqueue(ConversionQueue, jobID, priority, 0)
}

func clampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 10 {
		return 10
	}
	return p
}

// Close signals every worker and the sweep loop to stop, and waits for
// them to exit.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		close(m.done)
		m.wg.Wait()
	})
}

func (m *Manager) worker(queueName string, handler Handler) {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		default:
		}

		msg, err := m.store.Dequeue(queueName, time.Now())
		if err == ErrEmpty {
			select {
			case <-m.done:
				return
			case <-time.After(m.config.PollInterval):
			}
			continue
		}
		if err != nil {
			log.With("queue", queueName).Errorf("queue: dequeue failed: %s", err)
			select {
			case <-m.done:
				return
			case <-time.After(m.config.PollInterval):
			}
			continue
		}

		m.exec(msg, handler)
	}
}

func (m *Manager) exec(msg *Message, handler Handler) {
	queueStats := m.stats.Tagged(map[string]string{"queue": msg.Queue})

	if err := handler(context.Background(), msg.Payload); err != nil {
		if markErr := m.store.MarkFailed(msg.ID, err.Error()); markErr != nil {
			log.With("queue", msg.Queue, "message_id", msg.ID).Errorf("queue: mark failed: %s", markErr)
		}
		queueStats.Counter("message_failures").Inc(1)
		log.With("queue", msg.Queue, "message_id", msg.ID).Errorf("queue: handler failed: %s", err)
		return
	}

	if err := m.store.MarkDone(msg.ID); err != nil {
		log.With("queue", msg.Queue, "message_id", msg.ID).Errorf("queue: mark done: %s", err)
		return
	}
	queueStats.Counter("messages_processed").Inc(1)
}

func (m *Manager) expirySweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.ExpirySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			n, err := m.store.ExpirePending(time.Now())
			if err != nil {
				log.Errorf("queue: expiry sweep failed: %s", err)
				continue
			}
			if n > 0 {
				m.stats.Counter("messages_expired").Inc(n)
				log.Infof("queue: expired %d stale messages", n)
			}
		}
	}
}
