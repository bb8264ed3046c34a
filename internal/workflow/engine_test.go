package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ericmiano/K-BANK/internal/api"
	"github.com/Ericmiano/K-BANK/internal/domain"
)

type mockBank struct {
	mu            sync.Mutex
	transferCalls int
	depositCalls  int
	transferErr   error
	depositErr    error
	lastTransfer  api.TransferSubmission
	lastDeposit   api.DepositSubmission
}

func (m *mockBank) SubmitTransfer(_ context.Context, sub api.TransferSubmission) (*api.TransferReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transferCalls++
	m.lastTransfer = sub
	if m.transferErr != nil {
		return nil, m.transferErr
	}
	return &api.TransferReceipt{Message: "Transfer successful", TransactionID: "t1"}, nil
}

func (m *mockBank) InitiateDeposit(_ context.Context, sub api.DepositSubmission) (*api.DepositReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depositCalls++
	m.lastDeposit = sub
	if m.depositErr != nil {
		return nil, m.depositErr
	}
	return &api.DepositReceipt{Message: "STK Push sent to your phone", CheckoutRequestID: "chk1", TransactionID: "t2"}, nil
}

// blockingBank parks each submission until released and records the
// submission context's error at release time.
type blockingBank struct {
	mockBank
	entered chan struct{}
	release chan struct{}
	ctxErr  error
}

func newBlockingBank() *blockingBank {
	return &blockingBank{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (b *blockingBank) SubmitTransfer(ctx context.Context, sub api.TransferSubmission) (*api.TransferReceipt, error) {
	b.entered <- struct{}{}
	<-b.release
	b.ctxErr = ctx.Err()
	return b.mockBank.SubmitTransfer(ctx, sub)
}

func (b *blockingBank) InitiateDeposit(ctx context.Context, sub api.DepositSubmission) (*api.DepositReceipt, error) {
	b.entered <- struct{}{}
	<-b.release
	b.ctxErr = ctx.Err()
	return b.mockBank.InitiateDeposit(ctx, sub)
}

type mockLoader struct {
	mu      sync.Mutex
	current *domain.ViewState
	loads   int
	loaded  chan struct{}
}

func newMockLoader(balance int64) *mockLoader {
	return &mockLoader{
		current: &domain.ViewState{
			Snapshot: domain.AccountSnapshot{
				AccountNumber: "KB123",
				Balance:       decimal.NewFromInt(balance),
			},
		},
		loaded: make(chan struct{}, 8),
	}
}

func (m *mockLoader) Load(context.Context, api.TransactionsQuery) (*domain.ViewState, error) {
	m.mu.Lock()
	m.loads++
	m.mu.Unlock()

	select {
	case m.loaded <- struct{}{}:
	default:
	}
	return m.current, nil
}

func (m *mockLoader) Current() *domain.ViewState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *mockLoader) loadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads
}

type mockQueue struct {
	mu     sync.Mutex
	pushed []domain.Notification
}

func (m *mockQueue) Push(message string, severity domain.Severity) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := domain.Notification{
		ID:       fmt.Sprintf("n%d", len(m.pushed)+1),
		Message:  message,
		Severity: severity,
	}
	m.pushed = append(m.pushed, n)
	return n.ID
}

func (m *mockQueue) all() []domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Notification, len(m.pushed))
	copy(out, m.pushed)
	return out
}

type mockSession struct {
	identity *domain.Identity
	ctx      context.Context
}

func (m *mockSession) CurrentIdentity() *domain.Identity { return m.identity }
func (m *mockSession) Context() context.Context          { return m.ctx }

func newTestEngine(t *testing.T, bank *mockBank, balance int64, opts ...Option) (*Engine, *mockLoader, *mockQueue) {
	t.Helper()

	loader := newMockLoader(balance)
	queue := &mockQueue{}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sess := &mockSession{
		identity: &domain.Identity{
			ID:            "u1",
			AccountNumber: "KB123",
			Role:          domain.RoleCustomer,
		},
		ctx: ctx,
	}

	opts = append([]Option{WithReconcileDelay(20 * time.Millisecond)}, opts...)
	return NewEngine(bank, sess, loader, queue, opts...), loader, queue
}

func waitForLoad(t *testing.T, loader *mockLoader) {
	t.Helper()
	select {
	case <-loader.loaded:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reconciliation")
	}
}

func TestTransferSuccessFlow(t *testing.T) {
	bank := &mockBank{}
	e, loader, queue := newTestEngine(t, bank, 1000)

	receipt, err := e.SubmitTransfer(context.Background(), domain.TransferRequest{
		DestinationAccount: "KB999",
		Amount:             decimal.NewFromInt(500),
		Description:        "rent",
	})
	require.NoError(t, err)
	require.Equal(t, "t1", receipt.TransactionID)

	assert.Equal(t, 1, bank.transferCalls)
	assert.Equal(t, "KB999", bank.lastTransfer.ToAccount)
	assert.True(t, bank.lastTransfer.Amount.Equal(decimal.NewFromInt(500)))

	waitForLoad(t, loader)

	notifications := queue.all()
	require.Len(t, notifications, 1)
	assert.Equal(t, domain.SeveritySuccess, notifications[0].Severity)

	assert.Nil(t, e.PendingTransfer())
	assert.Equal(t, StateIdle, e.State())
}

func TestTransferRemoteRejectionPreservesInput(t *testing.T) {
	bank := &mockBank{
		transferErr: &domain.RemoteRejectedError{Status: 400, Reason: "Recipient account not found"},
	}
	e, loader, queue := newTestEngine(t, bank, 1000)

	req := domain.TransferRequest{
		DestinationAccount: "KB404",
		Amount:             decimal.NewFromInt(100),
		Description:        "rent",
	}
	_, err := e.SubmitTransfer(context.Background(), req)
	require.Error(t, err)

	notifications := queue.all()
	require.Len(t, notifications, 1)
	assert.Equal(t, domain.SeverityError, notifications[0].Severity)
	assert.Contains(t, notifications[0].Message, "Recipient account not found")

	// Failed input is kept so the user can retry without re-entering it.
	pending := e.PendingTransfer()
	require.NotNil(t, pending)
	assert.Equal(t, req, *pending)

	assert.Zero(t, loader.loadCount(), "failed submissions do not reconcile")
	assert.Equal(t, StateIdle, e.State())
}

func TestTransferNetworkFailureDistinguishable(t *testing.T) {
	bank := &mockBank{
		transferErr: fmt.Errorf("POST /transactions/transfer: %w: connection refused", domain.ErrNetworkUnavailable),
	}
	e, _, queue := newTestEngine(t, bank, 1000)

	_, err := e.SubmitTransfer(context.Background(), domain.TransferRequest{
		DestinationAccount: "KB999",
		Amount:             decimal.NewFromInt(100),
		Description:        "rent",
	})
	require.ErrorIs(t, err, domain.ErrNetworkUnavailable)

	notifications := queue.all()
	require.Len(t, notifications, 1)
	assert.Contains(t, notifications[0].Message, "network")
}

func TestAbandonedCallerDoesNotCancelSubmission(t *testing.T) {
	newEngine := func(bank *blockingBank) (*Engine, *mockQueue) {
		loader := newMockLoader(1000)
		queue := &mockQueue{}
		sess := &mockSession{
			identity: &domain.Identity{ID: "u1", AccountNumber: "KB123"},
			ctx:      context.Background(),
		}
		return NewEngine(bank, sess, loader, queue, WithReconcileDelay(10*time.Millisecond)), queue
	}

	// The caller cancels while the bank call is in flight; the submission
	// must still run to completion and record its outcome.
	abandonMidFlight := func(t *testing.T, bank *blockingBank, cancel context.CancelFunc) {
		t.Helper()
		select {
		case <-bank.entered:
		case <-time.After(time.Second):
			t.Fatal("bank call never started")
		}
		cancel()
		close(bank.release)
	}

	t.Run("transfer", func(t *testing.T) {
		bank := newBlockingBank()
		e, queue := newEngine(bank)
		ctx, cancel := context.WithCancel(context.Background())

		type result struct {
			receipt *api.TransferReceipt
			err     error
		}
		done := make(chan result, 1)
		go func() {
			r, err := e.SubmitTransfer(ctx, domain.TransferRequest{
				DestinationAccount: "KB999",
				Amount:             decimal.NewFromInt(500),
				Description:        "rent",
			})
			done <- result{r, err}
		}()

		abandonMidFlight(t, bank, cancel)

		select {
		case res := <-done:
			require.NoError(t, res.err)
			assert.Equal(t, "t1", res.receipt.TransactionID)
		case <-time.After(time.Second):
			t.Fatal("submission never completed")
		}

		assert.NoError(t, bank.ctxErr, "cancelling the caller must not reach the bank call")
		assert.Equal(t, 1, bank.transferCalls)

		notifications := queue.all()
		require.Len(t, notifications, 1)
		assert.Equal(t, domain.SeveritySuccess, notifications[0].Severity)
	})

	t.Run("deposit", func(t *testing.T) {
		bank := newBlockingBank()
		e, queue := newEngine(bank)
		ctx, cancel := context.WithCancel(context.Background())

		type result struct {
			receipt *api.DepositReceipt
			err     error
		}
		done := make(chan result, 1)
		go func() {
			r, err := e.SubmitDeposit(ctx, domain.DepositRequest{
				PhoneNumber: "254700000000",
				Amount:      decimal.NewFromInt(100),
			})
			done <- result{r, err}
		}()

		abandonMidFlight(t, bank, cancel)

		select {
		case res := <-done:
			require.NoError(t, res.err)
			assert.Equal(t, "chk1", res.receipt.CheckoutRequestID)
		case <-time.After(time.Second):
			t.Fatal("submission never completed")
		}

		assert.NoError(t, bank.ctxErr, "cancelling the caller must not reach the bank call")
		assert.Equal(t, 1, bank.depositCalls)

		notifications := queue.all()
		require.Len(t, notifications, 1)
		assert.Equal(t, domain.SeveritySuccess, notifications[0].Severity)
	})
}

func TestDepositSchedulesSingleDelayedReconciliation(t *testing.T) {
	bank := &mockBank{}
	e, loader, queue := newTestEngine(t, bank, 1000)

	receipt, err := e.SubmitDeposit(context.Background(), domain.DepositRequest{
		PhoneNumber: "254700000000",
		Amount:      decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	assert.Equal(t, "chk1", receipt.CheckoutRequestID)
	assert.Equal(t, "KB123", bank.lastDeposit.AccountNumber, "deposits go to the session's own account")

	// The refresh is delayed, not immediate.
	assert.Zero(t, loader.loadCount())

	waitForLoad(t, loader)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, loader.loadCount(), "exactly one reconciliation, no repeated polling")

	notifications := queue.all()
	require.Len(t, notifications, 1)
	assert.Equal(t, domain.SeveritySuccess, notifications[0].Severity)
}

func TestDepositReconciliationCancelledOnSessionEnd(t *testing.T) {
	bank := &mockBank{}
	loader := newMockLoader(1000)
	queue := &mockQueue{}
	ctx, cancel := context.WithCancel(context.Background())

	sess := &mockSession{
		identity: &domain.Identity{ID: "u1", AccountNumber: "KB123"},
		ctx:      ctx,
	}
	e := NewEngine(bank, sess, loader, queue, WithReconcileDelay(50*time.Millisecond))

	_, err := e.SubmitDeposit(context.Background(), domain.DepositRequest{
		PhoneNumber: "254700000000",
		Amount:      decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	// Session ends before the timer fires.
	cancel()
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, loader.loadCount())
}

func TestDepositWithoutSession(t *testing.T) {
	bank := &mockBank{}
	loader := newMockLoader(1000)
	queue := &mockQueue{}
	e := NewEngine(bank, &mockSession{ctx: context.Background()}, loader, queue)

	_, err := e.SubmitDeposit(context.Background(), domain.DepositRequest{
		PhoneNumber: "254700000000",
		Amount:      decimal.NewFromInt(100),
	})
	require.ErrorIs(t, err, domain.ErrNoSession)
	assert.Zero(t, bank.depositCalls)
}

func TestStateTransitions(t *testing.T) {
	var (
		mu     sync.Mutex
		states []State
	)
	record := WithStateListener(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	t.Run("successful transfer", func(t *testing.T) {
		states = nil
		bank := &mockBank{}
		e, loader, _ := newTestEngine(t, bank, 1000, record)

		_, err := e.SubmitTransfer(context.Background(), domain.TransferRequest{
			DestinationAccount: "KB999",
			Amount:             decimal.NewFromInt(10),
			Description:        "x",
		})
		require.NoError(t, err)
		waitForLoad(t, loader)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []State{StateValidating, StateSubmitting, StateSucceeded, StateIdle}, states)
	})

	t.Run("validation failure", func(t *testing.T) {
		states = nil
		bank := &mockBank{}
		e, _, _ := newTestEngine(t, bank, 1000, record)

		_, err := e.SubmitTransfer(context.Background(), domain.TransferRequest{})
		require.Error(t, err)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []State{StateValidating, StateFailed, StateIdle}, states)
	})
}

func TestFailureMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "validation reason surfaces",
			err:  &domain.ValidationError{Field: "amount", Reason: "must be greater than zero"},
			want: "Transfer failed: must be greater than zero",
		},
		{
			name: "insufficient funds",
			err:  domain.ErrInsufficientFunds,
			want: "Transfer failed: insufficient funds",
		},
		{
			name: "missing balance explains itself",
			err:  fmt.Errorf("validateTransfer: %w", domain.ErrStateUnavailable),
			want: "Transfer failed: balance not loaded yet, refresh and retry",
		},
		{
			name: "remote reason surfaces",
			err:  &domain.RemoteRejectedError{Status: 400, Reason: "Recipient account is inactive"},
			want: "Transfer failed: Recipient account is inactive",
		},
		{
			name: "remote rejection without reason gets generic message",
			err:  &domain.RemoteRejectedError{Status: 400},
			want: "Transfer failed: the server rejected the request",
		},
		{
			name: "network failure",
			err:  fmt.Errorf("send: %w", domain.ErrNetworkUnavailable),
			want: "Transfer failed: network problem, please try again",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := failureMessage("Transfer", tt.err)
			assert.True(t, strings.HasPrefix(got, tt.want), "got %q", got)
		})
	}
}
