package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Ericmiano/K-BANK/internal/api"
	"github.com/Ericmiano/K-BANK/internal/domain"
	"github.com/Ericmiano/K-BANK/internal/logging"
)

type authAPI interface {
	Login(ctx context.Context, email, password, mfaCode string) (*api.TokenResponse, error)
	Register(ctx context.Context, profile domain.RegisterProfile) error
	Logout(ctx context.Context) error
	Me(ctx context.Context) (*domain.Identity, error)
}

type State int

const (
	StateAnonymous State = iota
	StateSecondFactorRequired
	StateActive
)

func (s State) String() string {
	switch s {
	case StateSecondFactorRequired:
		return "second-factor-required"
	case StateActive:
		return "active"
	default:
		return "anonymous"
	}
}

// Manager owns the session token and cached identity. It is the only writer
// of either; every other component reads the token indirectly through the
// HTTP client's TokenSource.
type Manager struct {
	api   authAPI
	store TokenStore

	mu         sync.Mutex
	token      string
	identity   *domain.Identity
	pending    bool
	sessionCtx context.Context
	cancel     context.CancelFunc
}

// NewManager restores a persisted token if one survives from a previous run
// and has not expired. Identity is not restored; call Restore to re-derive it
// from the server.
func NewManager(authClient authAPI, store TokenStore) *Manager {
	m := &Manager{api: authClient, store: store}

	// Pre-cancelled so session-scoped work scheduled before any login is a
	// no-op.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.sessionCtx, m.cancel = ctx, cancel

	tok, err := store.Load()
	if err != nil {
		slog.Warn("failed to load persisted token", "error", err)
		return m
	}
	if tok == "" || secondFactorPending(tok) {
		return m
	}
	if tokenExpired(tok, time.Now()) {
		slog.Info("persisted token expired, discarding")
		if err := store.Clear(); err != nil {
			slog.Warn("failed to clear persisted token", "error", err)
		}
		return m
	}

	m.token = tok
	m.sessionCtx, m.cancel = context.WithCancel(context.Background())
	return m
}

// Restore re-derives the identity for a restored token. A no-op without a
// token; an unauthorized reply clears the session through the usual hook.
func (m *Manager) Restore(ctx context.Context) error {
	if m.Token() == "" {
		return nil
	}

	identity, err := m.api.Me(ctx)
	if err != nil {
		return fmt.Errorf("Restore: %w", err)
	}

	m.mu.Lock()
	m.identity = identity
	m.mu.Unlock()
	return nil
}

// Login authenticates and, unless the server demands a second factor,
// establishes the session. When StateSecondFactorRequired is returned no
// token is stored; the caller must re-invoke with the code.
func (m *Manager) Login(ctx context.Context, email, password, secondFactorCode string) (State, error) {
	resp, err := m.api.Login(ctx, email, password, secondFactorCode)
	if err != nil {
		return m.State(), fmt.Errorf("Login: %w", err)
	}

	if resp.MFARequired || secondFactorPending(resp.AccessToken) {
		m.mu.Lock()
		m.token = ""
		m.identity = nil
		m.pending = true
		m.mu.Unlock()
		return StateSecondFactorRequired, nil
	}

	m.establish(resp.AccessToken)

	identity, err := m.api.Me(ctx)
	if err != nil {
		return StateActive, fmt.Errorf("Login: load identity: %w", err)
	}

	m.mu.Lock()
	m.identity = identity
	m.mu.Unlock()

	logging.FromContext(ctx).Info("session established",
		"user_id", identity.ID,
		"role", identity.Role,
	)
	return StateActive, nil
}

// Register creates the account then immediately logs in with the same
// credentials. Field-level validation runs before anything reaches the
// network.
func (m *Manager) Register(ctx context.Context, profile domain.RegisterProfile) (State, error) {
	if profile.Role == "" {
		profile.Role = domain.RoleCustomer
	}
	if err := validateProfile(profile); err != nil {
		return m.State(), fmt.Errorf("Register: %w", err)
	}

	if err := m.api.Register(ctx, profile); err != nil {
		return m.State(), fmt.Errorf("Register: %w", err)
	}

	return m.Login(ctx, profile.Email, profile.Password, "")
}

// Logout notifies the server best-effort and clears local state regardless of
// the network outcome.
func (m *Manager) Logout(ctx context.Context) {
	if m.Token() != "" {
		if err := m.api.Logout(ctx); err != nil {
			logging.FromContext(ctx).Warn("logout request failed, clearing local session anyway", "error", err)
		}
	}
	m.reset()
}

// HandleUnauthorized is the unauthorized hook for the HTTP client. The first
// unauthorized response tears the session down; once the token is gone,
// further unauthorized responses find nothing to reset, so the corrective
// action cannot recurse.
func (m *Manager) HandleUnauthorized() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" {
		return
	}

	m.token = ""
	m.identity = nil
	m.pending = false
	m.cancel()
	if err := m.store.Clear(); err != nil {
		slog.Warn("failed to clear persisted token", "error", err)
	}
	slog.Warn("session terminated after unauthorized response")
}

// Token implements api.TokenSource.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// CurrentIdentity returns the cached identity without a network call.
func (m *Manager) CurrentIdentity() *domain.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.pending:
		return StateSecondFactorRequired
	case m.token != "":
		return StateActive
	default:
		return StateAnonymous
	}
}

func (m *Manager) Active() bool {
	return m.State() == StateActive
}

// Context is cancelled when the session ends, whether by logout or by an
// unauthorized reset. Work that must not outlive the session, such as the
// deposit reconciliation timer, selects on it.
func (m *Manager) Context() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionCtx
}

func (m *Manager) establish(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancel()
	m.sessionCtx, m.cancel = context.WithCancel(context.Background())
	m.token = token
	m.pending = false

	if err := m.store.Save(token); err != nil {
		slog.Warn("failed to persist token", "error", err)
	}
}

func (m *Manager) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.token = ""
	m.identity = nil
	m.pending = false
	m.cancel()
	if err := m.store.Clear(); err != nil {
		slog.Warn("failed to clear persisted token", "error", err)
	}
}

func validateProfile(p domain.RegisterProfile) error {
	if !strings.Contains(p.Email, "@") {
		return &domain.ValidationError{Field: "email", Reason: "not a valid email address"}
	}
	if len(strings.TrimSpace(p.FullName)) < 2 {
		return &domain.ValidationError{Field: "full_name", Reason: "must be at least 2 characters"}
	}
	if !domain.ValidPhone(p.Phone) {
		return &domain.ValidationError{Field: "phone", Reason: "must match the national format 254XXXXXXXXX"}
	}
	if len(p.Password) < 8 {
		return &domain.ValidationError{Field: "password", Reason: "must be at least 8 characters"}
	}
	if p.Role != domain.RoleCustomer && p.Role != domain.RoleAdmin {
		return &domain.ValidationError{Field: "role", Reason: "must be customer or admin"}
	}
	return nil
}
