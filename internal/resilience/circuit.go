package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrCircuitOpen is returned when a call is rejected without being made.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerConfig controls a circuit breaker protecting one external service.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before allowing a
	// probe call. Default: 60s.
	ResetTimeout time.Duration

	// OnStateChange is called with ("closed"|"open") on transitions.
	OnStateChange func(state string)
}

// Breaker is a consecutive-failure circuit breaker. Once open it rejects
// calls until ResetTimeout has elapsed, then allows a probe; the probe's
// outcome re-closes or re-opens the circuit.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	open     bool
	failures int
	openedAt time.Time
	nowFunc  func() time.Time
}

// NewBreaker creates a circuit breaker with the given config.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	return &Breaker{cfg: cfg, nowFunc: time.Now}
}

// Allow reports whether a call may proceed right now. An open circuit past
// its reset timeout admits one probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return nil
	}
	if b.nowFunc().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		// Probe window; stay open until the probe reports back.
		return nil
	}
	return ErrCircuitOpen
}

// Record feeds a call outcome into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.open {
			b.setOpen(false)
		}
		b.failures = 0
		return
	}

	b.failures++
	b.openedAt = b.nowFunc()
	if !b.open && b.failures >= b.cfg.FailureThreshold {
		b.setOpen(true)
	}
}

// Open reports the current state.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

func (b *Breaker) setOpen(open bool) {
	b.open = open
	if b.cfg.OnStateChange == nil {
		return
	}
	if open {
		b.cfg.OnStateChange("open")
	} else {
		b.cfg.OnStateChange("closed")
	}
}
