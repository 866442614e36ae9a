package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/signal-api/internal/config"
	"github.com/phrazzld/signal-api/internal/domain"
	"github.com/phrazzld/signal-api/internal/store"
)

// ErrBroadcasterStopped is returned by calls made after Stop.
var ErrBroadcasterStopped = errors.New("broadcaster stopped")

// Broadcaster persists progress events and fans them out to live
// subscriptions. Create it with NewBroadcaster and call Start before use.
type Broadcaster struct {
	log    store.ProgressStore
	logger *slog.Logger
	cfg    config.BroadcastConfig

	// publishMu orders the log append with the hand-off to the loop, so the
	// loop sees events in the same order as their sequence numbers.
	publishMu sync.Mutex

	cmds chan func()
	quit chan struct{}
	wg   sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once

	// subs is owned by the loop goroutine.
	subs map[string]map[string]*Subscription
}

// NewBroadcaster creates a broadcaster over the given progress log.
func NewBroadcaster(log store.ProgressStore, logger *slog.Logger, cfg config.BroadcastConfig) *Broadcaster {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 15 * time.Second
	}
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = 3 * cfg.HeartbeatInterval
	}

	return &Broadcaster{
		log:    log,
		logger: logger.With("component", "broadcaster"),
		cfg:    cfg,
		cmds:   make(chan func(), 256),
		quit:   make(chan struct{}),
		subs:   make(map[string]map[string]*Subscription),
	}
}

// Start launches the broadcaster goroutine.
func (b *Broadcaster) Start() {
	b.startOnce.Do(func() {
		b.wg.Add(1)
		go b.loop()
		b.logger.Info("broadcaster started",
			"queue_size", b.cfg.QueueSize,
			"replay_limit", b.cfg.ReplayLimit,
			"heartbeat_interval", b.cfg.HeartbeatInterval.String())
	})
}

// Stop ends the broadcaster goroutine and closes every subscription.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		close(b.quit)
		b.wg.Wait()
		b.logger.Info("broadcaster stopped")
	})
}

func (b *Broadcaster) loop() {
	defer b.wg.Done()

	heartbeat := time.NewTicker(b.cfg.HeartbeatInterval / 2)
	defer heartbeat.Stop()
	sweep := time.NewTicker(b.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case cmd := <-b.cmds:
			cmd()
		case now := <-heartbeat.C:
			b.sendHeartbeats(now)
		case now := <-sweep.C:
			b.sweep(now)
		case <-b.quit:
			for taskID, clients := range b.subs {
				for _, sub := range clients {
					sub.close()
				}
				delete(b.subs, taskID)
			}
			return
		}
	}
}

// submit hands cmd to the loop goroutine.
func (b *Broadcaster) submit(ctx context.Context, cmd func()) error {
	select {
	case <-b.quit:
		return ErrBroadcasterStopped
	default:
	}

	select {
	case b.cmds <- cmd:
		return nil
	case <-b.quit:
		return ErrBroadcasterStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish appends event to the progress log, which assigns its Seq, and then
// delivers it to the live subscriptions of its task. Subscribers are served
// even if the append fails; the append error is returned.
func (b *Broadcaster) Publish(ctx context.Context, event *domain.ProgressEvent) error {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	appendErr := b.log.Append(ctx, event)
	if appendErr != nil {
		b.logger.ErrorContext(ctx, "failed to persist progress event",
			"task_id", event.TaskID,
			"event_type", string(event.Kind),
			"error", appendErr)
		appendErr = fmt.Errorf("failed to persist progress event: %w", appendErr)
	}

	msg := liveMessage(event)
	err := b.submit(ctx, func() { b.deliver(msg) })
	if appendErr != nil {
		return appendErr
	}
	return err
}

func (b *Broadcaster) deliver(msg Message) {
	now := time.Now()
	for _, sub := range b.subs[msg.TaskID] {
		if !sub.offer(msg, now) {
			b.logger.Warn("subscription queue full, dropping message",
				"task_id", msg.TaskID,
				"client_id", sub.ClientID,
				"event", msg.Event,
				"seq", msg.Seq)
		}
	}
}

// Subscribe attaches a viewer to taskID. The returned subscription first
// carries a connected message and up to ReplayLimit recent events, oldest
// first, followed by live events. An existing subscription with the same
// client id is closed and replaced.
func (b *Broadcaster) Subscribe(ctx context.Context, taskID, clientID string) (*Subscription, error) {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	var history []*domain.ProgressEvent
	if b.cfg.ReplayLimit > 0 {
		recent, err := b.log.Recent(ctx, taskID, b.cfg.ReplayLimit)
		if err != nil {
			b.logger.WarnContext(ctx, "failed to load progress history",
				"task_id", taskID,
				"error", err)
		} else {
			history = recent
		}
	}

	now := time.Now()
	sub := newSubscription(taskID, clientID, b.cfg.QueueSize, now)

	err := b.submit(ctx, func() {
		clients := b.subs[taskID]
		if clients == nil {
			clients = make(map[string]*Subscription)
			b.subs[taskID] = clients
		}
		if old, ok := clients[clientID]; ok {
			old.close()
			b.logger.Info("replaced subscription", "task_id", taskID, "client_id", clientID)
		}
		clients[clientID] = sub

		sub.offer(connectedMessage(taskID, clientID, now), now)
		for i := len(history) - 1; i >= 0; i-- {
			if !sub.offer(historicalMessage(history[i]), now) {
				break
			}
		}
		b.logger.Debug("subscription registered",
			"task_id", taskID,
			"client_id", clientID,
			"replayed", len(history))
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Unsubscribe removes sub and closes its Done channel. Removing a
// subscription that was already replaced or swept is a no-op.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	err := b.submit(context.Background(), func() { b.remove(sub, "unsubscribed") })
	if err != nil {
		sub.close()
	}
}

func (b *Broadcaster) remove(sub *Subscription, reason string) {
	clients := b.subs[sub.TaskID]
	if clients[sub.ClientID] == sub {
		delete(clients, sub.ClientID)
		if len(clients) == 0 {
			delete(b.subs, sub.TaskID)
		}
		b.logger.Debug("subscription removed",
			"task_id", sub.TaskID,
			"client_id", sub.ClientID,
			"reason", reason)
	}
	sub.close()
}

func (b *Broadcaster) sendHeartbeats(now time.Time) {
	for _, clients := range b.subs {
		for _, sub := range clients {
			if now.Sub(sub.idleSince()) >= b.cfg.HeartbeatInterval {
				sub.offer(heartbeatMessage(sub.TaskID, now), now)
			}
		}
	}
}

func (b *Broadcaster) sweep(now time.Time) {
	for _, clients := range b.subs {
		for _, sub := range clients {
			if now.Sub(sub.LastSent()) > b.cfg.LivenessTimeout {
				b.logger.Info("removing dead subscription",
					"task_id", sub.TaskID,
					"client_id", sub.ClientID,
					"last_sent", sub.LastSent())
				b.remove(sub, "liveness timeout")
			}
		}
	}
}

// ConnectionCount returns the number of live subscriptions for taskID.
func (b *Broadcaster) ConnectionCount(ctx context.Context, taskID string) (int, error) {
	reply := make(chan int, 1)
	if err := b.submit(ctx, func() { reply <- len(b.subs[taskID]) }); err != nil {
		return 0, err
	}
	return b.await(ctx, reply)
}

// TotalConnections returns the number of live subscriptions across tasks.
func (b *Broadcaster) TotalConnections(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	err := b.submit(ctx, func() {
		total := 0
		for _, clients := range b.subs {
			total += len(clients)
		}
		reply <- total
	})
	if err != nil {
		return 0, err
	}
	return b.await(ctx, reply)
}

func (b *Broadcaster) await(ctx context.Context, reply <-chan int) (int, error) {
	select {
	case n := <-reply:
		return n, nil
	case <-b.quit:
		return 0, ErrBroadcasterStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
