package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Ericmiano/K-BANK/internal/api"
	"github.com/Ericmiano/K-BANK/internal/domain"
	"github.com/Ericmiano/K-BANK/internal/logging"
)

// State is the per-submission lifecycle shared by both transaction kinds.
// Terminal states return to Idle once the outcome notification is pushed.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateSubmitting
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateValidating:
		return "validating"
	case StateSubmitting:
		return "submitting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

type bankAPI interface {
	SubmitTransfer(ctx context.Context, sub api.TransferSubmission) (*api.TransferReceipt, error)
	InitiateDeposit(ctx context.Context, sub api.DepositSubmission) (*api.DepositReceipt, error)
}

type notifier interface {
	Push(message string, severity domain.Severity) string
}

type reconciler interface {
	Load(ctx context.Context, q api.TransactionsQuery) (*domain.ViewState, error)
	Current() *domain.ViewState
}

type sessionInfo interface {
	CurrentIdentity() *domain.Identity
	Context() context.Context
}

const (
	defaultReconcileDelay = 5 * time.Second
	reconcilePageLimit    = 20
)

// Engine validates and submits transfers and M-Pesa deposits against the
// locally cached account snapshot before anything reaches the network.
// Methods are driven by a single UI goroutine; the state field reports the
// current submission's progress to renderers.
type Engine struct {
	api            bankAPI
	session        sessionInfo
	loader         reconciler
	queue          notifier
	reconcileDelay time.Duration

	mu           sync.Mutex
	state        State
	lastTransfer *domain.TransferRequest

	onTransition func(State)
}

type Option func(*Engine)

func WithReconcileDelay(d time.Duration) Option {
	return func(e *Engine) { e.reconcileDelay = d }
}

// WithStateListener registers a callback invoked on every state transition,
// outside the engine lock.
func WithStateListener(fn func(State)) Option {
	return func(e *Engine) { e.onTransition = fn }
}

func NewEngine(bank bankAPI, sess sessionInfo, loader reconciler, queue notifier, opts ...Option) *Engine {
	e := &Engine{
		api:            bank,
		session:        sess,
		loader:         loader,
		queue:          queue,
		reconcileDelay: defaultReconcileDelay,
		state:          StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// PendingTransfer returns the last failed transfer input, preserved so the
// user can retry without re-entering data. Nil after a success.
func (e *Engine) PendingTransfer() *domain.TransferRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTransfer
}

func (e *Engine) transition(s State) {
	e.mu.Lock()
	e.state = s
	fn := e.onTransition
	e.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}

// reconcile replaces locally assumed state with authoritative server state.
// A superseded result means a newer load already won, which is fine.
func (e *Engine) reconcile(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, err := e.loader.Load(ctx, api.TransactionsQuery{Page: 1, Limit: reconcilePageLimit})
	if err != nil && !errors.Is(err, domain.ErrSuperseded) {
		logging.FromContext(ctx).Warn("post-transaction reconciliation failed", "error", err)
	}
}

// failureMessage maps the error taxonomy to the human-readable reason shown
// in the notification feed. Remote rejections and network failures both end
// in StateFailed but stay distinguishable here.
func failureMessage(op string, err error) string {
	var validation *domain.ValidationError
	var rejected *domain.RemoteRejectedError

	switch {
	case errors.As(err, &validation):
		return fmt.Sprintf("%s failed: %s", op, validation.Reason)
	case errors.Is(err, domain.ErrInsufficientFunds):
		return op + " failed: insufficient funds"
	case errors.Is(err, domain.ErrStateUnavailable):
		return op + " failed: balance not loaded yet, refresh and retry"
	case errors.As(err, &rejected):
		reason := rejected.Reason
		if reason == "" {
			reason = "the server rejected the request"
		}
		return fmt.Sprintf("%s failed: %s", op, reason)
	case errors.Is(err, domain.ErrNetworkUnavailable):
		return op + " failed: network problem, please try again"
	case errors.Is(err, domain.ErrUnauthorized):
		return op + " failed: your session has expired"
	default:
		return op + " failed"
	}
}
