// ABOUTME: Outbound notification contract and fire-and-forget dispatch
// ABOUTME: Failed sends are logged and never propagated to the caller

package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueFull is logged when the dispatcher drops a message
var ErrQueueFull = errors.New("notification queue full")

// Message is a single outbound notification. Body is Markdown; senders that
// support HTML render it, others send it as plain text.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers one message synchronously.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender logs messages instead of delivering them. Used when mail is disabled.
type LogSender struct {
	Logger *slog.Logger
}

// Send logs the recipient and subject. The body is not logged since it may
// carry a recovery code.
func (s LogSender) Send(ctx context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification not delivered (mail disabled)", "to", msg.To, "subject", msg.Subject)
	return nil
}

// Dispatcher sends messages in the background with a bounded queue.
type Dispatcher struct {
	sender  Sender
	logger  *slog.Logger
	timeout time.Duration
	queue   chan Message
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
}

// DispatcherConfig tunes the background sender
type DispatcherConfig struct {
	QueueSize   int
	Workers     int
	SendTimeout time.Duration
}

// NewDispatcher starts cfg.Workers goroutines draining the queue into sender.
func NewDispatcher(sender Sender, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		sender:  sender,
		logger:  logger.With("component", "notify"),
		timeout: cfg.SendTimeout,
		queue:   make(chan Message, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Dispatch queues msg and returns immediately. It never fails; a full or
// closed queue drops the message with a log line.
func (d *Dispatcher) Dispatch(msg Message) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("dropping notification after shutdown", "to", msg.To)
		return
	}
	select {
	case d.queue <- msg:
	default:
		d.logger.Error("dropping notification", "to", msg.To, "error", ErrQueueFull)
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for msg := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.sender.Send(ctx, msg); err != nil {
			d.logger.Error("notification delivery failed", "to", msg.To, "subject", msg.Subject, "error", err)
		}
		cancel()
	}
}

// Close stops accepting messages and waits for queued ones to be sent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}
