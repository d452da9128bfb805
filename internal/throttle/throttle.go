package throttle

import (
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultWindow      = time.Minute
	defaultMaxRequests = 60
	defaultSweepPeriod = time.Minute
)

// record holds the request timestamps of one client. Operations on a record
// are atomic as a whole: trim, decide and append happen under its mutex.
type record struct {
	mu    sync.Mutex
	times []time.Time
}

// Throttler is a sliding-window per-client rate limiter.
type Throttler struct {
	logger zerolog.Logger

	window      time.Duration
	maxRequests int
	sweepPeriod time.Duration

	clients *xsync.Map[string, *record]

	shutdown chan struct{}
	once     sync.Once

	// test hook
	now func() time.Time
}

type Config struct {
	Window      time.Duration
	MaxRequests int
	SweepPeriod time.Duration
}

func New(config Config) *Throttler {
	if config.Window <= 0 {
		config.Window = defaultWindow
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = defaultMaxRequests
	}
	if config.SweepPeriod <= 0 {
		config.SweepPeriod = defaultSweepPeriod
	}

	return &Throttler{
		logger:      log.With().Str("module", "throttle").Logger(),
		window:      config.Window,
		maxRequests: config.MaxRequests,
		sweepPeriod: config.SweepPeriod,
		clients:     xsync.NewMap[string, *record](),
		shutdown:    make(chan struct{}),
		now:         time.Now,
	}
}

// Start launches the periodic sweep reclaiming memory for idle clients.
func (t *Throttler) Start() {
	go func() {
		ticker := time.NewTicker(t.sweepPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-t.shutdown:
				return
			case <-ticker.C:
				t.sweep()
			}
		}
	}()
}

func (t *Throttler) Stop() {
	t.once.Do(func() {
		close(t.shutdown)
	})
}

// Admit decides whether a request from client may proceed. On rejection it
// returns the number of whole seconds the client should wait before
// retrying, computed from the oldest timestamp still inside the window.
func (t *Throttler) Admit(client string) (allowed bool, retryAfter int) {
	rec, _ := t.clients.LoadOrStore(client, &record{})

	rec.mu.Lock()
	defer rec.mu.Unlock()

	now := t.now()
	cutoff := now.Add(-t.window)

	kept := rec.times[:0]
	for _, ts := range rec.times {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	rec.times = kept

	if len(rec.times) >= t.maxRequests {
		oldest := rec.times[0]
		wait := oldest.Add(t.window).Sub(now)
		return false, int(math.Ceil(wait.Seconds()))
	}

	rec.times = append(rec.times, now)
	return true, 0
}

func (t *Throttler) sweep() {
	cutoff := t.now().Add(-t.window)
	removed := 0

	t.clients.Range(func(client string, _ *record) bool {
		t.clients.Compute(client, func(rec *record, loaded bool) (*record, xsync.ComputeOp) {
			if !loaded {
				return rec, xsync.CancelOp
			}

			rec.mu.Lock()
			defer rec.mu.Unlock()

			kept := rec.times[:0]
			for _, ts := range rec.times {
				if ts.After(cutoff) {
					kept = append(kept, ts)
				}
			}
			rec.times = kept

			if len(rec.times) == 0 {
				removed++
				return rec, xsync.DeleteOp
			}
			return rec, xsync.CancelOp
		})
		return true
	})

	if removed > 0 {
		t.logger.Debug().Int("removed", removed).Msg("sweep removed idle clients")
	}
}

// Clients returns the number of tracked client records.
func (t *Throttler) Clients() int {
	return t.clients.Size()
}

// ClientID derives the throttling identifier for a request: the first
// X-Forwarded-For value, then X-Real-IP, then the peer address.
func ClientID(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		if first != "" {
			return first
		}
	}

	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		return rip
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
