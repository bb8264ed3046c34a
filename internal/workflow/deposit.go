package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Ericmiano/K-BANK/internal/api"
	"github.com/Ericmiano/K-BANK/internal/domain"
	"github.com/Ericmiano/K-BANK/internal/logging"
)

// Deposit amounts accepted by the payment provider, inclusive both ends.
var (
	depositMin = decimal.NewFromInt(1)
	depositMax = decimal.NewFromInt(50000)
)

// SubmitDeposit initiates an M-Pesa deposit into the session's own account.
// The call only asks the provider to send a confirmation prompt to the
// phone; settlement happens out-of-band, so success here covers initiation
// only and a delayed reconciliation picks up the eventual balance change.
func (e *Engine) SubmitDeposit(ctx context.Context, req domain.DepositRequest) (*api.DepositReceipt, error) {
	log := logging.FromContext(ctx)
	e.transition(StateValidating)

	identity := e.session.CurrentIdentity()
	if identity == nil {
		e.failDeposit(domain.ErrNoSession)
		return nil, fmt.Errorf("SubmitDeposit: %w", domain.ErrNoSession)
	}

	if err := e.validateDeposit(req); err != nil {
		e.failDeposit(err)
		return nil, fmt.Errorf("SubmitDeposit: %w", err)
	}

	e.transition(StateSubmitting)

	receipt, err := e.api.InitiateDeposit(context.WithoutCancel(ctx), api.DepositSubmission{
		Phone:         req.PhoneNumber,
		Amount:        req.Amount,
		AccountNumber: identity.AccountNumber,
	})
	if err != nil {
		e.failDeposit(err)
		return nil, fmt.Errorf("SubmitDeposit: %w", err)
	}

	e.transition(StateSucceeded)
	e.queue.Push("Deposit initiated: approve the M-Pesa prompt on your phone", domain.SeveritySuccess)
	log.Info("mpesa deposit initiated",
		"amount", req.Amount,
		"checkout_request_id", receipt.CheckoutRequestID,
	)

	e.scheduleReconciliation()

	e.transition(StateIdle)
	return receipt, nil
}

func (e *Engine) validateDeposit(req domain.DepositRequest) error {
	if !domain.ValidPhone(req.PhoneNumber) {
		return &domain.ValidationError{Field: "phone", Reason: "must match the national format 254XXXXXXXXX"}
	}
	if req.Amount.LessThan(depositMin) || req.Amount.GreaterThan(depositMax) {
		return &domain.ValidationError{Field: "amount", Reason: "must be between 1 and 50000"}
	}
	return nil
}

func (e *Engine) failDeposit(err error) {
	e.transition(StateFailed)
	e.queue.Push(failureMessage("Deposit", err), domain.SeverityError)
	e.transition(StateIdle)
}

// scheduleReconciliation arms exactly one delayed refresh. The initiation
// response says nothing about settlement, and no further polling happens: if
// the user approves later than the delay, the balance stays stale until the
// next unrelated refresh. Logout before the timer fires cancels it.
func (e *Engine) scheduleReconciliation() {
	sessionCtx := e.session.Context()
	go func() {
		t := time.NewTimer(e.reconcileDelay)
		defer t.Stop()

		select {
		case <-sessionCtx.Done():
		case <-t.C:
			e.reconcile(sessionCtx)
		}
	}()
}
