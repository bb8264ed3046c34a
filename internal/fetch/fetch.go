package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/Ericmiano/K-BANK/internal/api"
	"github.com/Ericmiano/K-BANK/internal/domain"
	"github.com/Ericmiano/K-BANK/internal/logging"
)

type bankAPI interface {
	DashboardStats(ctx context.Context) (*domain.AccountSnapshot, error)
	Transactions(ctx context.Context, q api.TransactionsQuery) (*domain.TransactionPage, error)
}

const defaultMaxRetries = 3

// Loader fetches server-derived view state with a bounded retry budget.
// Overlapping loads race: only the most recently issued request may publish
// its result, completions of superseded requests are discarded.
type Loader struct {
	api        bankAPI
	maxRetries uint64
	newBackOff func() backoff.BackOff

	seq   atomic.Int64
	mu    sync.Mutex
	state *domain.ViewState
}

type Option func(*Loader)

func WithMaxRetries(n uint64) Option {
	return func(l *Loader) { l.maxRetries = n }
}

// WithBackOff overrides the delay policy between retry attempts.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(l *Loader) { l.newBackOff = fn }
}

func New(bank bankAPI, opts ...Option) *Loader {
	l := &Loader{
		api:        bank,
		maxRetries: defaultMaxRetries,
		newBackOff: defaultBackOff,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return b
}

// Load issues the dashboard-summary and transaction-page calls in parallel
// and merges them into one ViewState. Transient failures are retried up to
// the budget; exhaustion surfaces as ErrStateUnavailable. Non-transient
// failures propagate immediately without retry. A load superseded by a newer
// one returns ErrSuperseded and leaves the published state untouched.
func (l *Loader) Load(ctx context.Context, q api.TransactionsQuery) (*domain.ViewState, error) {
	id := l.seq.Add(1)
	log := logging.FromContext(ctx)

	var (
		snapshot *domain.AccountSnapshot
		page     *domain.TransactionPage
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return l.withRetry(gctx, "dashboard_stats", func() error {
			s, err := l.api.DashboardStats(gctx)
			if err != nil {
				return err
			}
			snapshot = s
			return nil
		})
	})
	g.Go(func() error {
		return l.withRetry(gctx, "transactions", func() error {
			p, err := l.api.Transactions(gctx, q)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, domain.ErrNetworkUnavailable) {
			log.Error("view state load failed after retries", "error", err)
			return nil, fmt.Errorf("Load: %w", domain.ErrStateUnavailable)
		}
		return nil, fmt.Errorf("Load: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seq.Load() != id {
		log.Debug("discarding stale view state", "request_id", id)
		return nil, domain.ErrSuperseded
	}

	vs := &domain.ViewState{
		Snapshot: *snapshot,
		History:  *page,
		LoadedAt: time.Now().UTC(),
	}
	l.state = vs
	return vs, nil
}

// Current returns the last committed view state, or nil before the first
// successful load.
func (l *Loader) Current() *domain.ViewState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// withRetry retries transient failures only. Anything else is terminal for
// the attempt and is returned as-is, so validation or authorization errors
// never burn the retry budget.
func (l *Loader) withRetry(ctx context.Context, op string, call func() error) error {
	log := logging.FromContext(ctx)
	attempt := 0

	policy := backoff.WithContext(backoff.WithMaxRetries(l.newBackOff(), l.maxRetries), ctx)
	return backoff.Retry(func() error {
		err := call()
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrNetworkUnavailable) {
			return backoff.Permanent(err)
		}
		attempt++
		log.Warn("transient failure, will retry",
			"op", op,
			"attempt", attempt,
			"error", err,
		)
		return err
	}, policy)
}
