package liquidation

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/coruscant-bank/beskar-liquidation/pkg/logger"
	"github.com/coruscant-bank/beskar-liquidation/pkg/metrics"
)

// Lease enforces at-most-one-worker-per-loanId across the liquidation
// worker pool (and, eventually, across replicas of this service) using a
// Redis SETNX-with-TTL lock, heartbeat-renewed for the life of the
// liquidation and released with an owner-token check so a worker can
// never release a lease it no longer holds.
type Lease struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

func NewLease(addr, password string, db int, ttl time.Duration, log *logger.Logger) *Lease {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Lease{client: client, ttl: ttl, log: log.Named("lease")}
}

func (l *Lease) Close() error {
	return l.client.Close()
}

func leaseKey(loanID string) string {
	return fmt.Sprintf("lease:%s", loanID)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// Held represents one acquired lease. Callers must call Release when the
// work it guards is done, and should stop doing that work the moment
// ctx is cancelled (the heartbeat failed to renew).
type Held struct {
	lease   *Lease
	loanID  string
	owner   string
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

// Acquire attempts to take the lease for loanID, returning ok=false
// without blocking if another worker already holds it.
func (l *Lease) Acquire(ctx context.Context, loanID string) (*Held, bool, error) {
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, leaseKey(loanID), owner, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		metrics.LeaseContentionTotal.Inc()
		return nil, false, nil
	}

	heldCtx, cancel := context.WithCancel(context.Background())
	h := &Held{
		lease:   l,
		loanID:  loanID,
		owner:   owner,
		ctx:     heldCtx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	go h.heartbeat()
	return h, true, nil
}

// heartbeat renews the lease at ttl/3 intervals until Release cancels it
// or a renewal fails to find our own owner token (another worker stole
// the lease after our TTL lapsed, which should not happen under normal
// operation but is treated as a hard stop rather than ignored).
func (h *Held) heartbeat() {
	defer close(h.stopped)
	interval := h.lease.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			res, err := renewScript.Run(h.ctx, h.lease.client, []string{leaseKey(h.loanID)}, h.owner, h.lease.ttl.Milliseconds()).Result()
			if err != nil {
				if h.ctx.Err() == nil {
					h.lease.log.WithError(err).WithField("loanId", h.loanID).Warn("lease renewal failed")
				}
				continue
			}
			if n, ok := res.(int64); !ok || n == 0 {
				h.lease.log.WithField("loanId", h.loanID).Warn("lost lease ownership during renewal")
				h.cancel()
				return
			}
		}
	}
}

// Done reports a channel that closes when the lease is known to be lost
// (heartbeat failed) so the worker holding it can abandon the attempt.
func (h *Held) Done() <-chan struct{} {
	return h.ctx.Done()
}

// Context returns a context cancelled the moment the lease is lost, so
// callers can thread it through retry loops instead of polling Done.
func (h *Held) Context() context.Context {
	return h.ctx
}

// Release gives up the lease, deleting the Redis key only if it still
// carries our own owner token.
func (h *Held) Release() error {
	h.cancel()
	<-h.stopped

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return releaseScript.Run(ctx, h.lease.client, []string{leaseKey(h.loanID)}, h.owner).Err()
}
