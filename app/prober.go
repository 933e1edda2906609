package app

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/rs/zerolog"

	"github.com/meterpay/meterpay/adapters/metrics"
	"github.com/meterpay/meterpay/ports"
)

// Prober finds a schedulable slot near a desired execution time when the
// external scheduler is congested. Probes back off exponentially with seeded
// jitter so many streams sharing one scheduler do not collide on the same
// candidate slots.
type Prober struct {
	sched   ports.Scheduler
	rand    ports.Random
	logger  zerolog.Logger
	metrics *metrics.Collector
}

// NewProber creates a prober.
func NewProber(sched ports.Scheduler, rand ports.Random, logger zerolog.Logger, collector *metrics.Collector) *Prober {
	return &Prober{
		sched:   sched,
		rand:    rand,
		logger:  logger,
		metrics: collector,
	}
}

// FindSlot returns the nearest time at or after desired where the scheduler
// has capacity for resourceBudget. The fast path returns desired itself.
// Otherwise candidates are desired + 2^i + jitter seconds for i in
// [0, maxProbes); the jitter seed is rehashed each attempt so concurrent
// probers diverge. Returns ErrNoCapacityFound when the budget is exhausted.
func (p *Prober) FindSlot(ctx context.Context, desired time.Time, resourceBudget int64, maxProbes int) (time.Time, error) {
	p.metrics.ProbeAttempts.Inc()
	ok, err := p.sched.HasCapacity(ctx, desired, resourceBudget)
	if err != nil {
		return time.Time{}, &ScheduleCreationError{Reason: "capacity check failed", Err: err}
	}
	if ok {
		return desired, nil
	}

	seed, err := p.rand.Bytes(8)
	if err != nil {
		return time.Time{}, &ScheduleCreationError{Reason: "jitter seed unavailable", Err: err}
	}

	for i := 0; i < maxProbes; i++ {
		delay := int64(1) << uint(i) // seconds
		jitter := int64(rehash(seed, i) % uint64(delay+1))
		candidate := desired.Add(time.Duration(delay+jitter) * time.Second)

		p.metrics.ProbeAttempts.Inc()
		ok, err := p.sched.HasCapacity(ctx, candidate, resourceBudget)
		if err != nil {
			return time.Time{}, &ScheduleCreationError{Reason: "capacity check failed", Err: err}
		}
		if ok {
			p.logger.Debug().
				Time("desired", desired).
				Time("chosen", candidate).
				Int("probe", i).
				Msg("capacity found after probing")
			return candidate, nil
		}
	}

	return time.Time{}, ErrNoCapacityFound
}

// rehash derives the jitter seed for probe attempt i. Hashing (seed, i)
// instead of reusing the raw seed keeps distinct probing sequences from
// marching in lockstep.
func rehash(seed []byte, i int) uint64 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(i))
	h := sha256.New()
	h.Write(seed)
	h.Write(buf[:])
	return binary.BigEndian.Uint64(h.Sum(nil)[:8])
}
