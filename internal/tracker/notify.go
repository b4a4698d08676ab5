package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// Sink delivers notifications. Delivery is best effort.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// LogSink writes notifications to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Notify(ctx context.Context, n Notification) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info(n.Title, "body", n.Body, "key", n.Key, "action", n.Action)
	return nil
}

// CmdRunner runs an external command. Interface for testing.
type CmdRunner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner implements CmdRunner with exec.CommandContext.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %s: %w", name, strings.TrimSpace(string(out)), err)
	}
	return nil
}

// DesktopSink shows OS toasts via notify-send on Linux and osascript on
// macOS. Other platforms return an error, which the dispatcher logs.
type DesktopSink struct {
	Runner CmdRunner
	GOOS   string
}

// NewDesktopSink returns a DesktopSink for the running platform.
func NewDesktopSink() *DesktopSink {
	return &DesktopSink{Runner: ExecRunner{}, GOOS: runtime.GOOS}
}

func (s *DesktopSink) Notify(ctx context.Context, n Notification) error {
	switch s.GOOS {
	case "linux":
		return s.Runner.Run(ctx, "notify-send", "--app-name=glwatch", n.Title, n.Body)
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s", strconv.Quote(n.Body), strconv.Quote(n.Title))
		return s.Runner.Run(ctx, "osascript", "-e", script)
	}
	return fmt.Errorf("desktop notifications not supported on %s", s.GOOS)
}

// Broadcaster fans notifications out to in-process subscribers such as the
// web event stream and the dashboard. Slow subscribers miss notifications
// rather than block delivery.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Notification
	nextID int
}

// NewBroadcaster returns a Broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Notification)}
}

// Subscribe returns a channel of notifications and a cancel func that
// unsubscribes and closes the channel.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Notification, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Notification, buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Broadcaster) Notify(ctx context.Context, n Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- n:
		default:
		}
	}
	return nil
}

// Dispatcher delivers notifications to sinks on its own goroutine, so Emit
// never waits for a sink. When the queue is full, or the Dispatcher is
// closed, the notification is dropped with a warning.
type Dispatcher struct {
	sinks  []Sink
	queue  chan Notification
	logger *slog.Logger

	mu     sync.Mutex
	closed bool

	startOnce sync.Once
	done      chan struct{}
}

// NewDispatcher returns a Dispatcher with a queue of the given size.
func NewDispatcher(queueSize int, logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sinks:  sinks,
		queue:  make(chan Notification, queueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start launches the delivery goroutine. It is idempotent.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		go d.run(ctx)
	})
}

// Emit queues n for delivery and returns immediately.
func (d *Dispatcher) Emit(n Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("notification after close, dropping", "key", n.Key, "action", n.Action)
		return
	}
	select {
	case d.queue <- n:
	default:
		d.logger.Warn("notification queue full, dropping", "key", n.Key, "action", n.Action)
	}
}

// Close stops accepting notifications, delivers what is queued, and waits
// for delivery to finish. Later Emits are dropped.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.startOnce.Do(func() {
		go d.run(context.Background())
	})
	<-d.done
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for n := range d.queue {
		for _, s := range d.sinks {
			if err := s.Notify(ctx, n); err != nil {
				d.logger.Warn("notification delivery failed", "key", n.Key, "error", err)
			}
		}
	}
}
