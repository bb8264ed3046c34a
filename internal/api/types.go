package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Ericmiano/K-BANK/internal/domain"
)

// TransactionsQuery selects one page of the transaction history. Zero-value
// fields are omitted from the request.
type TransactionsQuery struct {
	Page   int
	Limit  int
	Type   domain.TransactionKind
	Status domain.TransactionStatus
}

// TransferSubmission is the outbound shape of an internal transfer.
type TransferSubmission struct {
	ToAccount   string
	Amount      decimal.Decimal
	Description string
}

// DepositSubmission asks the payment provider to send an STK push to the
// phone; it does not itself credit the account.
type DepositSubmission struct {
	Phone         string
	Amount        decimal.Decimal
	AccountNumber string
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	MFARequired bool   `json:"mfa_required"`
}

type TransferReceipt struct {
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id"`
}

type DepositReceipt struct {
	Message           string `json:"message"`
	CheckoutRequestID string `json:"checkout_request_id"`
	TransactionID     string `json:"transaction_id"`
}

type AdminDashboard struct {
	Users struct {
		Total     int `json:"total"`
		Active    int `json:"active"`
		Inactive  int `json:"inactive"`
		Admins    int `json:"admins"`
		Customers int `json:"customers"`
	} `json:"users"`
	Transactions struct {
		Total       int     `json:"total"`
		Pending     int     `json:"pending"`
		Completed   int     `json:"completed"`
		Failed      int     `json:"failed"`
		TotalVolume float64 `json:"total_volume"`
	} `json:"transactions"`
	RecentActivity struct {
		NewTransactions7d int `json:"new_transactions_7d"`
		NewUsers7d        int `json:"new_users_7d"`
	} `json:"recent_activity"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	MFACode  string `json:"mfa_code,omitempty"`
}

type registerRequest struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type userPayload struct {
	ID            string  `json:"id"`
	Email         string  `json:"email"`
	FullName      string  `json:"full_name"`
	Phone         string  `json:"phone"`
	Role          string  `json:"role"`
	AccountNumber string  `json:"account_number"`
	Balance       float64 `json:"balance"`
	IsActive      bool    `json:"is_active"`
	MFAEnabled    bool    `json:"mfa_enabled"`
	CreatedAt     string  `json:"created_at"`
}

func (u userPayload) toIdentity() domain.Identity {
	return domain.Identity{
		ID:            u.ID,
		Email:         u.Email,
		FullName:      u.FullName,
		Phone:         u.Phone,
		Role:          domain.Role(u.Role),
		AccountNumber: u.AccountNumber,
		Balance:       decimal.NewFromFloat(u.Balance),
		IsActive:      u.IsActive,
		MFAEnabled:    u.MFAEnabled,
		CreatedAt:     parseTimestamp(u.CreatedAt),
	}
}

type transactionPayload struct {
	ID          string  `json:"id"`
	FromAccount string  `json:"from_account"`
	ToAccount   string  `json:"to_account"`
	Amount      float64 `json:"amount"`
	Type        string  `json:"transaction_type"`
	Description string  `json:"description"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
}

func (t transactionPayload) toTransaction() domain.Transaction {
	return domain.Transaction{
		ID:          t.ID,
		Kind:        domain.TransactionKind(t.Type),
		Amount:      decimal.NewFromFloat(t.Amount),
		FromAccount: t.FromAccount,
		ToAccount:   t.ToAccount,
		Description: t.Description,
		Status:      domain.TransactionStatus(t.Status),
		CreatedAt:   parseTimestamp(t.CreatedAt),
	}
}

type dashboardPayload struct {
	Balance            float64              `json:"balance"`
	AccountNumber      string               `json:"account_number"`
	RecentTransactions []transactionPayload `json:"recent_transactions"`
}

func (d dashboardPayload) toSnapshot() domain.AccountSnapshot {
	return domain.AccountSnapshot{
		AccountNumber:      d.AccountNumber,
		Balance:            decimal.NewFromFloat(d.Balance),
		RecentTransactions: toTransactions(d.RecentTransactions),
	}
}

type transactionsPagePayload struct {
	Transactions []transactionPayload `json:"transactions"`
	Page         int                  `json:"page"`
	TotalPages   int                  `json:"total_pages"`
	TotalCount   int                  `json:"total_count"`
	HasPrev      bool                 `json:"has_prev"`
	HasNext      bool                 `json:"has_next"`
}

func (p transactionsPagePayload) toPage() domain.TransactionPage {
	return domain.TransactionPage{
		Transactions: toTransactions(p.Transactions),
		Page:         p.Page,
		TotalPages:   p.TotalPages,
		TotalCount:   p.TotalCount,
		HasPrev:      p.HasPrev,
		HasNext:      p.HasNext,
	}
}

func toTransactions(payloads []transactionPayload) []domain.Transaction {
	out := make([]domain.Transaction, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, p.toTransaction())
	}
	return out
}

type transferPayload struct {
	ToAccount       string  `json:"to_account"`
	Amount          float64 `json:"amount"`
	TransactionType string  `json:"transaction_type"`
	Description     string  `json:"description"`
}

type mpesaDepositPayload struct {
	Phone         string  `json:"phone"`
	Amount        float64 `json:"amount"`
	AccountNumber string  `json:"account_number"`
}

type userStatusPayload struct {
	IsActive bool `json:"is_active"`
}

// timestampFormats covers RFC 3339 plus the zone-less ISO form the backend
// emits for naive UTC datetimes.
var timestampFormats = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func parseTimestamp(s string) time.Time {
	for _, layout := range timestampFormats {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}
