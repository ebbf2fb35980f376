package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/lessonpath/internal/model"
)

const saveTimeout = 5 * time.Second

// autosaveBuffer coalesces progress writes. Only the latest state is kept;
// scheduling again resets the delay, and maxWait caps how long a pending
// write can be pushed back. One writer goroutine issues every store call,
// so writes never overlap or reorder.
type autosaveBuffer struct {
	save    func(ctx context.Context, p model.Progress) error
	saved   func(p model.Progress)
	delay   time.Duration
	maxWait time.Duration
	log     zerolog.Logger

	mu      sync.Mutex
	latest  *model.Progress
	pending time.Time

	kick    chan struct{}
	flushes chan chan error
	stop    chan struct{}
	done    chan struct{}
}

func newAutosaveBuffer(save func(context.Context, model.Progress) error, saved func(model.Progress),
	delay, maxWait time.Duration, log zerolog.Logger) *autosaveBuffer {
	if maxWait < delay {
		maxWait = delay
	}
	return &autosaveBuffer{
		save:    save,
		saved:   saved,
		delay:   delay,
		maxWait: maxWait,
		log:     log,
		kick:    make(chan struct{}, 1),
		flushes: make(chan chan error),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// start runs the writer until close. ctx bounds every store call.
func (b *autosaveBuffer) start(ctx context.Context) {
	go b.run(ctx)
}

// schedule replaces the pending state and (re)arms the delay.
func (b *autosaveBuffer) schedule(p model.Progress) {
	b.mu.Lock()
	b.latest = &p
	if b.pending.IsZero() {
		b.pending = time.Now()
	}
	b.mu.Unlock()

	select {
	case b.kick <- struct{}{}:
	default:
	}
}

// flush writes the latest state now, bypassing the delay.
func (b *autosaveBuffer) flush() error {
	reply := make(chan error, 1)
	select {
	case b.flushes <- reply:
		return <-reply
	case <-b.done:
		return nil
	}
}

// close stops the writer. Pending state not flushed before close is dropped.
func (b *autosaveBuffer) close() {
	select {
	case <-b.stop:
	default:
		close(b.stop)
	}
	<-b.done
}

func (b *autosaveBuffer) run(ctx context.Context) {
	defer close(b.done)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	var fire <-chan time.Time

	for {
		select {
		case <-b.kick:
			timer.Stop()
			timer.Reset(b.wait())
			fire = timer.C

		case <-fire:
			fire = nil
			_ = b.write(ctx)

		case reply := <-b.flushes:
			timer.Stop()
			fire = nil
			reply <- b.write(ctx)

		case <-b.stop:
			timer.Stop()
			return
		}
	}
}

func (b *autosaveBuffer) wait() time.Duration {
	b.mu.Lock()
	pending := b.pending
	b.mu.Unlock()

	wait := b.delay
	if pending.IsZero() {
		return wait
	}
	if ceiling := time.Until(pending.Add(b.maxWait)); ceiling < wait {
		wait = max(ceiling, 0)
	}
	return wait
}

func (b *autosaveBuffer) write(ctx context.Context) error {
	b.mu.Lock()
	p := b.latest
	b.latest = nil
	b.pending = time.Time{}
	b.mu.Unlock()

	if p == nil {
		return nil
	}

	saveCtx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()

	if err := b.save(saveCtx, *p); err != nil {
		b.log.Warn().Err(err).Msg("Autosave failed, will retry on next schedule")

		// Keep the failed state unless something newer arrived meanwhile.
		b.mu.Lock()
		if b.latest == nil {
			b.latest = p
			b.pending = time.Now()
		}
		b.mu.Unlock()
		return err
	}

	if b.saved != nil {
		b.saved(*p)
	}
	return nil
}
