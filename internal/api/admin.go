package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Ericmiano/K-BANK/internal/domain"
)

// AdminUsersQuery filters the admin user listing.
type AdminUsersQuery struct {
	Page   int
	Limit  int
	Role   domain.Role
	Active *bool
}

func (c *Client) AdminUsers(ctx context.Context, q AdminUsersQuery) ([]domain.Identity, error) {
	v := url.Values{}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	limit := q.Limit
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	if q.Role != "" {
		v.Set("role", string(q.Role))
	}
	if q.Active != nil {
		v.Set("active", strconv.FormatBool(*q.Active))
	}

	var out []userPayload
	if err := c.do(ctx, http.MethodGet, "/admin/users", v, nil, &out); err != nil {
		return nil, fmt.Errorf("AdminUsers: %w", err)
	}

	users := make([]domain.Identity, 0, len(out))
	for _, u := range out {
		users = append(users, u.toIdentity())
	}
	return users, nil
}

func (c *Client) AdminCreateUser(ctx context.Context, profile domain.RegisterProfile) (*domain.Identity, error) {
	body := registerRequest{
		Email:    profile.Email,
		FullName: profile.FullName,
		Phone:    profile.Phone,
		Password: profile.Password,
		Role:     string(profile.Role),
	}

	var out userPayload
	if err := c.do(ctx, http.MethodPost, "/admin/users", nil, body, &out); err != nil {
		return nil, fmt.Errorf("AdminCreateUser: %w", err)
	}
	identity := out.toIdentity()
	return &identity, nil
}

func (c *Client) AdminSetUserStatus(ctx context.Context, userID string, active bool) error {
	body := userStatusPayload{IsActive: active}
	path := "/admin/users/" + url.PathEscape(userID) + "/status"
	if err := c.do(ctx, http.MethodPatch, path, nil, body, nil); err != nil {
		return fmt.Errorf("AdminSetUserStatus: %w", err)
	}
	return nil
}

func (c *Client) AdminTransactions(ctx context.Context, q TransactionsQuery) (*domain.TransactionPage, error) {
	var out transactionsPagePayload
	if err := c.do(ctx, http.MethodGet, "/admin/transactions", q.values(), nil, &out); err != nil {
		return nil, fmt.Errorf("AdminTransactions: %w", err)
	}
	page := out.toPage()
	return &page, nil
}

func (c *Client) AdminDashboard(ctx context.Context) (*AdminDashboard, error) {
	var out AdminDashboard
	if err := c.do(ctx, http.MethodGet, "/admin/dashboard", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("AdminDashboard: %w", err)
	}
	return &out, nil
}
