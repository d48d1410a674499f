package reconciler

import (
	"math/rand"
	"time"
)

type Rand interface {
	Intn(n int) int
}

type PlannerConfig struct {
	// Recheck window for a successfully checked, undelivered shipment.
	// Both zero means "immediately eligible again" (cadence left to the
	// external scheduler).
	RecheckMinDelay time.Duration
	RecheckMaxDelay time.Duration

	// Delay before re-asking the carrier about a tracking number with no
	// events yet. Default: 30 minutes.
	NoObservationDelay time.Duration

	Backoff1 time.Duration // default: 5 minutes
	Backoff2 time.Duration // default: 15 minutes
	Backoff3 time.Duration // default: 30 minutes
	Backoff4 time.Duration // default: 60 minutes
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		RecheckMinDelay: 0,
		RecheckMaxDelay: 0,

		NoObservationDelay: 30 * time.Minute,

		Backoff1: 5 * time.Minute,
		Backoff2: 15 * time.Minute,
		Backoff3: 30 * time.Minute,
		Backoff4: 60 * time.Minute,
	}
}

type Planner struct {
	cfg PlannerConfig
	r   Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	if cfg.RecheckMinDelay < 0 {
		cfg.RecheckMinDelay = 0
	}
	if cfg.RecheckMaxDelay < cfg.RecheckMinDelay {
		cfg.RecheckMaxDelay = cfg.RecheckMinDelay
	}
	if cfg.NoObservationDelay <= 0 {
		cfg.NoObservationDelay = def.NoObservationDelay
	}
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

func DefaultPlanner() *Planner {
	return NewPlanner(DefaultPlannerConfig(), nil)
}

// RecheckDelay spreads rechecks across the configured window so a large batch
// does not come due all at once.
func (p *Planner) RecheckDelay() time.Duration {
	min := p.cfg.RecheckMinDelay
	max := p.cfg.RecheckMaxDelay
	if max == min {
		return min
	}
	secMin := int(min.Seconds())
	secMax := int(max.Seconds())
	return time.Duration(secMin+p.r.Intn(secMax-secMin+1)) * time.Second
}

func (p *Planner) NoObservationDelay() time.Duration {
	return p.cfg.NoObservationDelay
}

// BackoffDelay is the ladder for consecutive failed cycles of one shipment.
func (p *Planner) BackoffDelay(nextFailCount int32) time.Duration {
	switch {
	case nextFailCount <= 1:
		return p.cfg.Backoff1
	case nextFailCount == 2:
		return p.cfg.Backoff2
	case nextFailCount == 3:
		return p.cfg.Backoff3
	default:
		return p.cfg.Backoff4
	}
}
