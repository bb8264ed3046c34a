package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

type TransactionKind string

const (
	KindTransfer     TransactionKind = "transfer"
	KindMpesaDeposit TransactionKind = "mpesa_deposit"
	KindDeposit      TransactionKind = "deposit"
	KindWithdrawal   TransactionKind = "withdrawal"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
)

// Identity is the authenticated user as reported by the server. The client
// never assembles one locally; it is always re-derived from /auth/me.
type Identity struct {
	ID            string
	Email         string
	FullName      string
	Phone         string
	Role          Role
	AccountNumber string
	Balance       decimal.Decimal
	IsActive      bool
	MFAEnabled    bool
	CreatedAt     time.Time
}

// Transaction is immutable once created by the server; the client never
// assigns ID or Status.
type Transaction struct {
	ID          string
	Kind        TransactionKind
	Amount      decimal.Decimal
	FromAccount string
	ToAccount   string
	Description string
	Status      TransactionStatus
	CreatedAt   time.Time
}

// AccountSnapshot reflects confirmed server state only. It is replaced
// wholesale by a successful refresh and never mutated optimistically by a
// pending submission.
type AccountSnapshot struct {
	AccountNumber      string
	Balance            decimal.Decimal
	RecentTransactions []Transaction
}

type TransactionPage struct {
	Transactions []Transaction
	Page         int
	TotalPages   int
	TotalCount   int
	HasPrev      bool
	HasNext      bool
}

// ViewState is the merged result of one resilient load: the dashboard
// snapshot plus the transaction page requested alongside it.
type ViewState struct {
	Snapshot AccountSnapshot
	History  TransactionPage
	LoadedAt time.Time
}

// TransferRequest is ephemeral client-side input. It is discarded on
// successful submission and preserved on failure so the user can retry
// without re-entering data.
type TransferRequest struct {
	DestinationAccount string
	Amount             decimal.Decimal
	Description        string
}

// DepositRequest is ephemeral client-side input for an M-Pesa deposit.
type DepositRequest struct {
	PhoneNumber string
	Amount      decimal.Decimal
}

type RegisterProfile struct {
	Email    string
	FullName string
	Phone    string
	Password string
	Role     Role
}

type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

type Notification struct {
	ID        string
	Message   string
	Severity  Severity
	ExpiresAt time.Time
}
