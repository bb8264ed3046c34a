package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Ericmiano/K-BANK/internal/api"
	"github.com/Ericmiano/K-BANK/internal/domain"
	"github.com/Ericmiano/K-BANK/internal/logging"
)

// SubmitTransfer runs the transfer state machine: validate against the
// cached snapshot, submit, notify, reconcile. Validation failures never
// reach the network.
func (e *Engine) SubmitTransfer(ctx context.Context, req domain.TransferRequest) (*api.TransferReceipt, error) {
	log := logging.FromContext(ctx)
	e.transition(StateValidating)

	if err := e.validateTransfer(req); err != nil {
		e.failTransfer(req, err)
		return nil, fmt.Errorf("SubmitTransfer: %w", err)
	}

	e.transition(StateSubmitting)

	// Detached from the caller's context: abandoning the form must not
	// drop a financial operation already in flight.
	receipt, err := e.api.SubmitTransfer(context.WithoutCancel(ctx), api.TransferSubmission{
		ToAccount:   req.DestinationAccount,
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		e.failTransfer(req, err)
		return nil, fmt.Errorf("SubmitTransfer: %w", err)
	}

	e.mu.Lock()
	e.lastTransfer = nil
	e.mu.Unlock()

	e.transition(StateSucceeded)
	e.queue.Push(
		fmt.Sprintf("Transfer of %s to %s successful", req.Amount.StringFixed(2), req.DestinationAccount),
		domain.SeveritySuccess,
	)
	log.Info("transfer submitted",
		"to_account", req.DestinationAccount,
		"amount", req.Amount,
		"transaction_id", receipt.TransactionID,
	)

	go e.reconcile(e.session.Context())

	e.transition(StateIdle)
	return receipt, nil
}

// validateTransfer is a client-side guard only; the server remains
// authoritative and may still reject the submission.
func (e *Engine) validateTransfer(req domain.TransferRequest) error {
	if strings.TrimSpace(req.DestinationAccount) == "" {
		return &domain.ValidationError{Field: "to_account", Reason: "destination account is required"}
	}
	if strings.TrimSpace(req.Description) == "" {
		return &domain.ValidationError{Field: "description", Reason: "description is required"}
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return &domain.ValidationError{Field: "amount", Reason: "amount must be greater than zero"}
	}

	state := e.loader.Current()
	if state == nil {
		return fmt.Errorf("validateTransfer: no cached balance: %w", domain.ErrStateUnavailable)
	}
	if req.Amount.GreaterThan(state.Snapshot.Balance) {
		return domain.ErrInsufficientFunds
	}
	return nil
}

func (e *Engine) failTransfer(req domain.TransferRequest, err error) {
	e.mu.Lock()
	e.lastTransfer = &req
	e.mu.Unlock()

	e.transition(StateFailed)
	e.queue.Push(failureMessage("Transfer", err), domain.SeverityError)
	e.transition(StateIdle)
}
