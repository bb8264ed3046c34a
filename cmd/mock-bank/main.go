package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Ericmiano/K-BANK/internal/logging"
)

// In-memory stand-in for the real backend, good enough to exercise the CLI
// end to end: register, login, check the dashboard, transfer, deposit.

var signingKey = []byte("mock-bank-dev-secret")

type account struct {
	ID            string
	Email         string
	Password      string
	FullName      string
	Phone         string
	Role          string
	AccountNumber string
	Balance       float64
	CreatedAt     time.Time
}

type transaction struct {
	ID          string    `json:"id"`
	Type        string    `json:"transaction_type"`
	Amount      float64   `json:"amount"`
	Status      string    `json:"status"`
	Description string    `json:"description"`
	FromAccount string    `json:"from_account,omitempty"`
	ToAccount   string    `json:"to_account,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type store struct {
	mu           sync.Mutex
	accounts     map[string]*account // keyed by email
	transactions map[string][]transaction
	nextAccount  int
}

func newStore() *store {
	s := &store{
		accounts:     make(map[string]*account),
		transactions: make(map[string][]transaction),
		nextAccount:  1000,
	}
	// Seeded account so `kbank login` works out of the box.
	s.create("demo@kbank.test", "password123", "Demo Customer", "254700000000", "customer")
	return s
}

func (s *store) create(email, password, name, phone, role string) *account {
	s.nextAccount++
	a := &account{
		ID:            uuid.NewString(),
		Email:         email,
		Password:      password,
		FullName:      name,
		Phone:         phone,
		Role:          role,
		AccountNumber: fmt.Sprintf("KB%06d", s.nextAccount),
		Balance:       1000,
		CreatedAt:     time.Now().UTC(),
	}
	s.accounts[email] = a
	return a
}

func (s *store) record(email string, tx transaction) {
	s.transactions[email] = append([]transaction{tx}, s.transactions[email]...)
}

func main() {
	logging.Init("mock-bank", "info", os.Getenv("APP_ENV"))

	addr := os.Getenv("MOCK_BANK_ADDR")
	if addr == "" {
		addr = ":8000"
	}

	s := newStore()
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	mux.HandleFunc("POST /api/auth/register", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
			FullName string `json:"full_name"`
			Phone    string `json:"phone"`
			Role     string `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "invalid request body")
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if _, exists := s.accounts[req.Email]; exists {
			writeDetail(w, http.StatusBadRequest, "Email already registered")
			return
		}
		a := s.create(req.Email, req.Password, req.FullName, req.Phone, req.Role)
		slog.Info("account registered", "email", a.Email, "account", a.AccountNumber)
		writeJSON(w, http.StatusCreated, userJSON(a))
	})

	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "invalid request body")
			return
		}

		s.mu.Lock()
		a, ok := s.accounts[req.Email]
		s.mu.Unlock()
		if !ok || a.Password != req.Password {
			writeDetail(w, http.StatusUnauthorized, "Incorrect email or password")
			return
		}

		token, err := mintToken(a.Email)
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, "token generation failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": token,
			"token_type":   "bearer",
			"expires_in":   1800,
			"mfa_required": false,
		})
	})

	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
	})

	mux.HandleFunc("GET /api/auth/me", s.authed(func(w http.ResponseWriter, r *http.Request, a *account) {
		writeJSON(w, http.StatusOK, userJSON(a))
	}))

	mux.HandleFunc("GET /api/dashboard/stats", s.authed(func(w http.ResponseWriter, r *http.Request, a *account) {
		s.mu.Lock()
		history := s.transactions[a.Email]
		recent := history
		if len(recent) > 5 {
			recent = recent[:5]
		}
		resp := map[string]any{
			"account_number":      a.AccountNumber,
			"balance":             a.Balance,
			"total_transactions":  len(history),
			"recent_transactions": recent,
		}
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, resp)
	}))

	mux.HandleFunc("GET /api/transactions", s.authed(func(w http.ResponseWriter, r *http.Request, a *account) {
		page, limit := pageParams(r)

		s.mu.Lock()
		all := s.transactions[a.Email]
		if kind := r.URL.Query().Get("transaction_type"); kind != "" {
			all = filter(all, func(tx transaction) bool { return tx.Type == kind })
		}
		if status := r.URL.Query().Get("status"); status != "" {
			all = filter(all, func(tx transaction) bool { return tx.Status == status })
		}
		total := len(all)
		start := (page - 1) * limit
		if start > total {
			start = total
		}
		end := start + limit
		if end > total {
			end = total
		}
		slice := all[start:end]
		s.mu.Unlock()

		totalPages := (total + limit - 1) / limit
		writeJSON(w, http.StatusOK, map[string]any{
			"transactions": slice,
			"page":         page,
			"limit":        limit,
			"total_count":  total,
			"total_pages":  totalPages,
			"has_prev":     page > 1,
			"has_next":     page < totalPages,
		})
	}))

	mux.HandleFunc("POST /api/transactions/transfer", s.authed(func(w http.ResponseWriter, r *http.Request, a *account) {
		var req struct {
			ToAccount   string  `json:"to_account"`
			Amount      float64 `json:"amount"`
			Description string  `json:"description"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "invalid request body")
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if req.Amount <= 0 {
			writeDetail(w, http.StatusBadRequest, "Amount must be positive")
			return
		}
		if req.Amount > a.Balance {
			writeDetail(w, http.StatusBadRequest, "Insufficient funds")
			return
		}
		a.Balance -= req.Amount

		tx := transaction{
			ID:          uuid.NewString(),
			Type:        "transfer",
			Amount:      req.Amount,
			Status:      "completed",
			Description: req.Description,
			FromAccount: a.AccountNumber,
			ToAccount:   req.ToAccount,
			CreatedAt:   time.Now().UTC(),
		}
		s.record(a.Email, tx)

		// Credit the recipient when the account exists locally.
		for _, other := range s.accounts {
			if other.AccountNumber == req.ToAccount {
				other.Balance += req.Amount
				s.record(other.Email, transaction{
					ID:          uuid.NewString(),
					Type:        "deposit",
					Amount:      req.Amount,
					Status:      "completed",
					Description: req.Description,
					FromAccount: a.AccountNumber,
					ToAccount:   other.AccountNumber,
					CreatedAt:   tx.CreatedAt,
				})
				break
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"message":        "Transfer successful",
			"transaction_id": tx.ID,
		})
	}))

	mux.HandleFunc("POST /api/mpesa/deposit", s.authed(func(w http.ResponseWriter, r *http.Request, a *account) {
		var req struct {
			Phone  string  `json:"phone"`
			Amount float64 `json:"amount"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "invalid request body")
			return
		}
		if req.Amount < 1 || req.Amount > 50000 {
			writeDetail(w, http.StatusBadRequest, "Amount must be between 1 and 50000")
			return
		}

		txID := uuid.NewString()

		// The STK push settles after a short delay, like the real thing.
		go func() {
			time.Sleep(3 * time.Second)
			s.mu.Lock()
			defer s.mu.Unlock()
			a.Balance += req.Amount
			s.record(a.Email, transaction{
				ID:          txID,
				Type:        "mpesa_deposit",
				Amount:      req.Amount,
				Status:      "completed",
				Description: "M-Pesa deposit from " + req.Phone,
				ToAccount:   a.AccountNumber,
				CreatedAt:   time.Now().UTC(),
			})
			slog.Info("deposit settled", "account", a.AccountNumber, "amount", req.Amount)
		}()

		writeJSON(w, http.StatusOK, map[string]any{
			"message":             "STK push initiated. Check your phone.",
			"checkout_request_id": "ws_CO_" + uuid.NewString()[:8],
			"transaction_id":      txID,
		})
	}))

	slog.Info("mock bank started", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

type authedHandler func(w http.ResponseWriter, r *http.Request, a *account)

func (s *store) authed(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		claims := jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
			return signingKey, nil
		})
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		s.mu.Lock()
		a, exists := s.accounts[claims.Subject]
		s.mu.Unlock()
		if !exists {
			writeDetail(w, http.StatusUnauthorized, "Unknown account")
			return
		}
		next(w, r, a)
	}
}

func mintToken(email string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   email,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(30 * time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
}

func userJSON(a *account) map[string]any {
	return map[string]any{
		"id":             a.ID,
		"email":          a.Email,
		"full_name":      a.FullName,
		"phone":          a.Phone,
		"role":           a.Role,
		"account_number": a.AccountNumber,
		"balance":        a.Balance,
		"is_active":      true,
		"mfa_enabled":    false,
		"created_at":     a.CreatedAt.Format(time.RFC3339),
	}
}

func pageParams(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}

func filter(list []transaction, keep func(transaction) bool) []transaction {
	out := make([]transaction, 0, len(list))
	for _, tx := range list {
		if keep(tx) {
			out = append(out, tx)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
