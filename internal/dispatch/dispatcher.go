package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"contextbus/internal/config"
	"contextbus/internal/correlation"
	"contextbus/internal/logger"
	buserrors "contextbus/pkg/errors"
	"contextbus/pkg/metrics"
	"contextbus/pkg/models"
	"contextbus/pkg/tracing"
)

type queueItem struct {
	env        *models.MessageEnvelope
	enqueuedAt time.Time
}

// Dispatcher pulls accepted messages off a bounded priority queue and
// fans them out to every matching consumer in parallel. Scheduling is
// strict-priority with a fairness floor: after FairnessFloor consecutive
// picks that left a lower class waiting, the lowest waiting class gets
// the next turn.
type Dispatcher struct {
	registry *Registry
	engine   *Engine

	mu     sync.Mutex
	queues [4][]queueItem
	size   int
	streak int

	signal          chan struct{}
	maxSize         int
	workers         int
	consumerTimeout time.Duration
	fairnessFloor   int
	logger          logger.Logger

	wg sync.WaitGroup
}

func NewDispatcher(registry *Registry, engine *Engine, cfg config.DispatchConfig, log logger.Logger) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	maxSize := cfg.QueueSize
	if maxSize <= 0 {
		maxSize = 1024
	}
	floor := cfg.FairnessFloor
	if floor <= 0 {
		floor = 8
	}

	return &Dispatcher{
		registry:        registry,
		engine:          engine,
		signal:          make(chan struct{}, 1),
		maxSize:         maxSize,
		workers:         workers,
		consumerTimeout: cfg.ConsumerTimeout,
		fairnessFloor:   floor,
		logger:          log,
	}
}

// Enqueue implements the publisher's sink. A full queue rejects rather
// than blocks so ingress backpressure surfaces to the producer.
func (d *Dispatcher) Enqueue(ctx context.Context, env *models.MessageEnvelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	if d.size >= d.maxSize {
		d.mu.Unlock()
		return fmt.Errorf("dispatch queue full (%d messages)", d.maxSize)
	}
	weight := env.EffectivePriority().Weight()
	d.queues[weight] = append(d.queues[weight], queueItem{env: env, enqueuedAt: time.Now()})
	d.size++
	size := d.size
	d.mu.Unlock()

	metrics.SetDispatchQueueSize(size)
	d.wake()
	return nil
}

func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
}

// Wait blocks until every worker has drained after context cancellation.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.size
}

func (d *Dispatcher) wake() {
	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()

	for {
		item, ok := d.next(ctx)
		if !ok {
			return
		}
		metrics.ObserveQueueWait(time.Since(item.enqueuedAt))
		d.dispatch(ctx, item.env)
	}
}

func (d *Dispatcher) next(ctx context.Context) (queueItem, bool) {
	for {
		d.mu.Lock()
		item, ok := d.pickLocked()
		remaining := d.size
		d.mu.Unlock()

		if ok {
			metrics.SetDispatchQueueSize(remaining)
			if remaining > 0 {
				d.wake()
			}
			return item, true
		}

		select {
		case <-ctx.Done():
			return queueItem{}, false
		case <-d.signal:
		}
	}
}

// pickLocked chooses the next message. Caller holds d.mu.
func (d *Dispatcher) pickLocked() (queueItem, bool) {
	highest, lowest := -1, -1
	for weight := 3; weight >= 0; weight-- {
		if len(d.queues[weight]) > 0 {
			if highest == -1 {
				highest = weight
			}
			lowest = weight
		}
	}
	if highest == -1 {
		return queueItem{}, false
	}

	chosen := highest
	if d.streak >= d.fairnessFloor && lowest < highest {
		chosen = lowest
	}

	item := d.queues[chosen][0]
	d.queues[chosen] = d.queues[chosen][1:]
	d.size--

	// The streak counts picks that skipped over a waiting lower class.
	if lowest < chosen {
		d.streak++
	} else {
		d.streak = 0
	}
	return item, true
}

func (d *Dispatcher) dispatch(ctx context.Context, env *models.MessageEnvelope) {
	ctx = correlation.ContextFor(ctx, env)

	ctx, span := tracing.GetTracer("contextbus").Start(ctx, "dispatch")
	defer span.End()

	// Deliverability is re-checked at the moment of dispatch: a message
	// that expired while queued is dropped, not dead lettered.
	if env.Expired(time.Now()) {
		metrics.ExpiredMessagesTotal.WithLabelValues(env.TenantID, env.EventType, "dispatch").Inc()
		d.logger.InfowCtx(ctx, "Message expired in queue, dropping",
			"ttl_seconds", env.TTLSeconds,
		)
		return
	}

	consumers, filterErrs := d.registry.ConsumersFor(ctx, env)
	for _, err := range filterErrs {
		d.logger.WarnwCtx(ctx, "Subscription filter error, consumer skipped",
			"error", err,
		)
	}
	if len(consumers) == 0 {
		d.logger.DebugwCtx(ctx, "No consumers bound for event type")
		return
	}

	var wg sync.WaitGroup
	for _, consumer := range consumers {
		wg.Add(1)
		go func(c Consumer) {
			defer wg.Done()
			d.deliver(ctx, c, env)
		}(consumer)
	}
	wg.Wait()
}

// deliver runs one consumer's first attempt. Failures hand off to the
// retry engine; each consumer's timeline is independent of its peers.
func (d *Dispatcher) deliver(ctx context.Context, consumer Consumer, env *models.MessageEnvelope) {
	start := time.Now()
	err := invokeConsumer(ctx, consumer, env, d.consumerTimeout)

	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.ConsumeTotal.WithLabelValues(env.TenantID, env.EventType, status).Inc()
	metrics.ObserveConsumeDuration(env.EventType, status, time.Since(start))

	if err != nil {
		d.logger.WarnwCtx(ctx, "Delivery failed",
			"consumer_id", consumer.ID(),
			"error", err,
		)
		d.engine.OnFailure(ctx, env, consumer.ID(), err)
		return
	}

	d.logger.DebugwCtx(ctx, "Message delivered",
		"consumer_id", consumer.ID(),
	)
}

// invokeConsumer calls Handle with a deadline and panic isolation. A
// timeout is a transient fault; a panic is unrecoverable and skips
// straight to the dead letter queue.
func invokeConsumer(ctx context.Context, consumer Consumer, env *models.MessageEnvelope, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- buserrors.RecoverPanic(r)
			}
		}()
		done <- consumer.Handle(ctx, env)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			return buserrors.ErrConsumerRetryable.WithCause(err)
		}
		return err
	case <-ctx.Done():
		return buserrors.ErrConsumerRetryable.WithCause(ctx.Err())
	}
}
