package fetch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ericmiano/K-BANK/internal/api"
	"github.com/Ericmiano/K-BANK/internal/domain"
)

type mockBankAPI struct {
	mu         sync.Mutex
	statsCalls int
	txCalls    int

	stats func(call int) (*domain.AccountSnapshot, error)
	tx    func(call int, q api.TransactionsQuery) (*domain.TransactionPage, error)
}

func (m *mockBankAPI) DashboardStats(context.Context) (*domain.AccountSnapshot, error) {
	m.mu.Lock()
	m.statsCalls++
	call := m.statsCalls
	m.mu.Unlock()

	if m.stats == nil {
		return &domain.AccountSnapshot{AccountNumber: "KB123", Balance: decimal.NewFromInt(1000)}, nil
	}
	return m.stats(call)
}

func (m *mockBankAPI) Transactions(_ context.Context, q api.TransactionsQuery) (*domain.TransactionPage, error) {
	m.mu.Lock()
	m.txCalls++
	call := m.txCalls
	m.mu.Unlock()

	if m.tx == nil {
		return &domain.TransactionPage{Page: q.Page}, nil
	}
	return m.tx(call, q)
}

func (m *mockBankAPI) calls() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statsCalls, m.txCalls
}

func fastBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(time.Millisecond)
}

func newTestLoader(bank *mockBankAPI) *Loader {
	return New(bank, WithMaxRetries(3), WithBackOff(fastBackOff))
}

func TestLoadMergesParallelResults(t *testing.T) {
	bank := &mockBankAPI{}
	l := newTestLoader(bank)

	vs, err := l.Load(context.Background(), api.TransactionsQuery{Page: 1, Limit: 20})
	require.NoError(t, err)

	assert.Equal(t, "KB123", vs.Snapshot.AccountNumber)
	assert.Equal(t, 1, vs.History.Page)
	assert.Same(t, vs, l.Current())
}

func TestRetryBudgetExhaustion(t *testing.T) {
	bank := &mockBankAPI{
		stats: func(int) (*domain.AccountSnapshot, error) {
			return nil, fmt.Errorf("dashboard: %w", domain.ErrNetworkUnavailable)
		},
	}
	l := newTestLoader(bank)

	_, err := l.Load(context.Background(), api.TransactionsQuery{Page: 1})
	require.ErrorIs(t, err, domain.ErrStateUnavailable)

	// Initial attempt plus exactly three retries, never more.
	statsCalls, _ := bank.calls()
	assert.Equal(t, 4, statsCalls)
	assert.Nil(t, l.Current())
}

func TestTransientFailureEventuallySucceeds(t *testing.T) {
	bank := &mockBankAPI{
		stats: func(call int) (*domain.AccountSnapshot, error) {
			if call <= 2 {
				return nil, fmt.Errorf("dashboard: %w", domain.ErrNetworkUnavailable)
			}
			return &domain.AccountSnapshot{AccountNumber: "KB123", Balance: decimal.NewFromInt(750)}, nil
		},
	}
	l := newTestLoader(bank)

	vs, err := l.Load(context.Background(), api.TransactionsQuery{Page: 1})
	require.NoError(t, err)
	assert.True(t, vs.Snapshot.Balance.Equal(decimal.NewFromInt(750)))

	statsCalls, _ := bank.calls()
	assert.Equal(t, 3, statsCalls)
}

func TestNonTransientFailureNotRetried(t *testing.T) {
	rejection := &domain.RemoteRejectedError{Status: 400, Reason: "bad filter"}
	bank := &mockBankAPI{
		tx: func(int, api.TransactionsQuery) (*domain.TransactionPage, error) {
			return nil, rejection
		},
	}
	l := newTestLoader(bank)

	_, err := l.Load(context.Background(), api.TransactionsQuery{Page: 1})

	var rejected *domain.RemoteRejectedError
	require.ErrorAs(t, err, &rejected)
	_, txCalls := bank.calls()
	assert.Equal(t, 1, txCalls)
}

func TestUnauthorizedNotRetried(t *testing.T) {
	bank := &mockBankAPI{
		stats: func(int) (*domain.AccountSnapshot, error) {
			return nil, fmt.Errorf("dashboard: %w", domain.ErrUnauthorized)
		},
	}
	l := newTestLoader(bank)

	_, err := l.Load(context.Background(), api.TransactionsQuery{Page: 1})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	statsCalls, _ := bank.calls()
	assert.Equal(t, 1, statsCalls)
}

func TestStaleResponseDiscarded(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	bank := &mockBankAPI{
		tx: func(call int, q api.TransactionsQuery) (*domain.TransactionPage, error) {
			if call == 1 {
				close(entered)
				<-release
			}
			return &domain.TransactionPage{Page: q.Page}, nil
		},
	}
	l := newTestLoader(bank)

	resultA := make(chan error, 1)
	go func() {
		_, err := l.Load(context.Background(), api.TransactionsQuery{Page: 1})
		resultA <- err
	}()

	// Request B goes out while A is still in flight and resolves first.
	<-entered
	vsB, err := l.Load(context.Background(), api.TransactionsQuery{Page: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, vsB.History.Page)

	close(release)
	errA := <-resultA
	require.ErrorIs(t, errA, domain.ErrSuperseded)

	// The published state reflects B, not the late-arriving A.
	assert.Equal(t, 2, l.Current().History.Page)
}
