package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Ericmiano/K-BANK/internal/api"
	"github.com/Ericmiano/K-BANK/internal/config"
	"github.com/Ericmiano/K-BANK/internal/domain"
	"github.com/Ericmiano/K-BANK/internal/fetch"
	"github.com/Ericmiano/K-BANK/internal/logging"
	"github.com/Ericmiano/K-BANK/internal/notify"
	"github.com/Ericmiano/K-BANK/internal/session"
	"github.com/Ericmiano/K-BANK/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Init("kbank", cfg.LogLevel, cfg.AppEnv)

	a := newApp(cfg)
	if err := newRootCmd(a).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

type app struct {
	cfg     *config.Config
	client  *api.Client
	session *session.Manager
	loader  *fetch.Loader
	engine  *workflow.Engine
	queue   *notify.Queue

	mu      sync.Mutex
	printed map[string]bool
}

func newApp(cfg *config.Config) *app {
	a := &app{cfg: cfg, printed: make(map[string]bool)}

	a.client = api.NewClient(cfg.APIBaseURL, cfg.HTTPTimeout())
	a.session = session.NewManager(a.client, session.NewFileTokenStore(cfg.TokenFile))
	a.client.SetTokenSource(a.session)
	a.client.SetUnauthorizedHook(a.session.HandleUnauthorized)

	a.queue = notify.New(
		notify.WithTTL(cfg.NotificationTTL()),
		notify.WithChangeListener(a.renderNotifications),
	)
	a.loader = fetch.New(a.client, fetch.WithMaxRetries(uint64(cfg.FetchMaxRetries)))
	a.engine = workflow.NewEngine(a.client, a.session, a.loader, a.queue,
		workflow.WithReconcileDelay(cfg.ReconcileDelay()),
	)
	return a
}

func (a *app) renderNotifications(entries []domain.Notification) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, n := range entries {
		if a.printed[n.ID] {
			continue
		}
		a.printed[n.ID] = true
		tag := "ok"
		if n.Severity == domain.SeverityError {
			tag = "error"
		}
		fmt.Printf("[%s] %s\n", tag, n.Message)
	}
}

// requireSession re-derives the identity for a restored token so commands
// that need the account number can run straight from a persisted session.
func (a *app) requireSession(ctx context.Context) error {
	if !a.session.Active() {
		return fmt.Errorf("not logged in, run `kbank login` first")
	}
	if a.session.CurrentIdentity() == nil {
		if err := a.session.Restore(ctx); err != nil {
			return fmt.Errorf("session restore failed: %w", err)
		}
	}
	return nil
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "kbank",
		Short:         "K-BANK command-line client",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(
		newLoginCmd(a),
		newRegisterCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newDashboardCmd(a),
		newTransactionsCmd(a),
		newTransferCmd(a),
		newDepositCmd(a),
		newAdminCmd(a),
		newPingCmd(a),
	)
	return root
}

func newLoginCmd(a *app) *cobra.Command {
	var email, password, code string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and establish a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := a.session.Login(cmd.Context(), email, password, code)
			if err != nil {
				return err
			}
			if state == session.StateSecondFactorRequired {
				fmt.Println("second factor required: re-run login with --code")
				return nil
			}
			identity := a.session.CurrentIdentity()
			fmt.Printf("logged in as %s (%s)\n", identity.FullName, identity.AccountNumber)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().StringVar(&code, "code", "", "second-factor code, when demanded")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newRegisterCmd(a *app) *cobra.Command {
	var profile domain.RegisterProfile
	var role string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log in",
		RunE: func(cmd *cobra.Command, args []string) error {
			profile.Role = domain.Role(role)
			if _, err := a.session.Register(cmd.Context(), profile); err != nil {
				return err
			}
			identity := a.session.CurrentIdentity()
			fmt.Printf("registered %s, account %s\n", identity.Email, identity.AccountNumber)
			return nil
		},
	}

	cmd.Flags().StringVar(&profile.Email, "email", "", "account email")
	cmd.Flags().StringVar(&profile.FullName, "name", "", "full name")
	cmd.Flags().StringVar(&profile.Phone, "phone", "", "phone number (254XXXXXXXXX)")
	cmd.Flags().StringVar(&profile.Password, "password", "", "account password")
	cmd.Flags().StringVar(&role, "role", "customer", "customer or admin")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("phone")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a.session.Logout(cmd.Context())
			fmt.Println("logged out")
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSession(cmd.Context()); err != nil {
				return err
			}
			identity := a.session.CurrentIdentity()
			fmt.Printf("%s <%s> role=%s account=%s\n", identity.FullName, identity.Email, identity.Role, identity.AccountNumber)
			return nil
		},
	}
}

func newDashboardCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show balance and recent transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSession(cmd.Context()); err != nil {
				return err
			}
			vs, err := a.loader.Load(cmd.Context(), api.TransactionsQuery{Page: 1, Limit: a.cfg.TransactionsLimit})
			if err != nil {
				return err
			}
			fmt.Printf("account %s  balance %s\n", vs.Snapshot.AccountNumber, vs.Snapshot.Balance.StringFixed(2))
			printTransactions(vs.Snapshot.RecentTransactions)
			return nil
		},
	}
}

func newTransactionsCmd(a *app) *cobra.Command {
	var q api.TransactionsQuery
	var kind, status string

	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "List transaction history",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSession(cmd.Context()); err != nil {
				return err
			}
			q.Type = domain.TransactionKind(kind)
			q.Status = domain.TransactionStatus(status)

			vs, err := a.loader.Load(cmd.Context(), q)
			if err != nil {
				return err
			}
			printTransactions(vs.History.Transactions)
			fmt.Printf("page %d of %d (%d total)\n", vs.History.Page, vs.History.TotalPages, vs.History.TotalCount)
			return nil
		},
	}

	cmd.Flags().IntVar(&q.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&q.Limit, "limit", 20, "page size")
	cmd.Flags().StringVar(&kind, "type", "", "filter by transaction type")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func newTransferCmd(a *app) *cobra.Command {
	var to, amount, description string

	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Send money to another account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSession(cmd.Context()); err != nil {
				return err
			}
			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid amount %q", amount)
			}

			// Transfer validation needs a cached balance.
			if a.loader.Current() == nil {
				if _, err := a.loader.Load(cmd.Context(), api.TransactionsQuery{Page: 1, Limit: a.cfg.TransactionsLimit}); err != nil {
					return err
				}
			}

			_, err = a.engine.SubmitTransfer(cmd.Context(), domain.TransferRequest{
				DestinationAccount: to,
				Amount:             amt,
				Description:        description,
			})
			return err
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "destination account number")
	cmd.Flags().StringVar(&amount, "amount", "", "amount to send")
	cmd.Flags().StringVar(&description, "description", "", "transfer description")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newDepositCmd(a *app) *cobra.Command {
	var phone, amount string
	var wait bool

	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Top up via M-Pesa STK push",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSession(cmd.Context()); err != nil {
				return err
			}
			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid amount %q", amount)
			}

			if _, err := a.engine.SubmitDeposit(cmd.Context(), domain.DepositRequest{
				PhoneNumber: phone,
				Amount:      amt,
			}); err != nil {
				return err
			}

			if !wait {
				return nil
			}

			// Keep the process alive long enough for the delayed
			// reconciliation to run, then show the refreshed balance.
			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case <-time.After(a.cfg.ReconcileDelay() + time.Second):
			}
			if vs := a.loader.Current(); vs != nil {
				fmt.Printf("balance %s\n", vs.Snapshot.Balance.StringFixed(2))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&phone, "phone", "", "M-Pesa phone number (254XXXXXXXXX)")
	cmd.Flags().StringVar(&amount, "amount", "", "amount to deposit")
	cmd.Flags().BoolVar(&wait, "wait", true, "wait for the delayed balance refresh")
	_ = cmd.MarkFlagRequired("phone")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newAdminCmd(a *app) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Administrative queries",
	}

	users := &cobra.Command{
		Use:   "users",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSession(cmd.Context()); err != nil {
				return err
			}
			list, err := a.client.AdminUsers(cmd.Context(), api.AdminUsersQuery{Page: 1, Limit: 50})
			if err != nil {
				return err
			}
			for _, u := range list {
				fmt.Printf("%s  %-30s %-10s active=%v\n", u.AccountNumber, u.Email, u.Role, u.IsActive)
			}
			return nil
		},
	}

	transactions := &cobra.Command{
		Use:   "transactions",
		Short: "List all transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSession(cmd.Context()); err != nil {
				return err
			}
			page, err := a.client.AdminTransactions(cmd.Context(), api.TransactionsQuery{Page: 1, Limit: 50})
			if err != nil {
				return err
			}
			printTransactions(page.Transactions)
			return nil
		},
	}

	dashboard := &cobra.Command{
		Use:   "dashboard",
		Short: "Show platform-wide statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSession(cmd.Context()); err != nil {
				return err
			}
			stats, err := a.client.AdminDashboard(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("users: %d total, %d active\n", stats.Users.Total, stats.Users.Active)
			fmt.Printf("transactions: %d total, %d pending, %d failed, volume %.2f\n",
				stats.Transactions.Total, stats.Transactions.Pending, stats.Transactions.Failed, stats.Transactions.TotalVolume)
			return nil
		},
	}

	var createProfile domain.RegisterProfile
	var createRole string
	create := &cobra.Command{
		Use:   "create-user",
		Short: "Create a user account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSession(cmd.Context()); err != nil {
				return err
			}
			createProfile.Role = domain.Role(createRole)
			u, err := a.client.AdminCreateUser(cmd.Context(), createProfile)
			if err != nil {
				return err
			}
			fmt.Printf("created %s, account %s\n", u.Email, u.AccountNumber)
			return nil
		},
	}
	create.Flags().StringVar(&createProfile.Email, "email", "", "account email")
	create.Flags().StringVar(&createProfile.FullName, "name", "", "full name")
	create.Flags().StringVar(&createProfile.Phone, "phone", "", "phone number (254XXXXXXXXX)")
	create.Flags().StringVar(&createProfile.Password, "password", "", "account password")
	create.Flags().StringVar(&createRole, "role", "customer", "customer or admin")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("phone")
	_ = create.MarkFlagRequired("password")

	var active bool
	setStatus := &cobra.Command{
		Use:   "set-status <user-id>",
		Short: "Activate or deactivate a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSession(cmd.Context()); err != nil {
				return err
			}
			if err := a.client.AdminSetUserStatus(cmd.Context(), args[0], active); err != nil {
				return err
			}
			fmt.Printf("user %s active=%v\n", args[0], active)
			return nil
		},
	}
	setStatus.Flags().BoolVar(&active, "active", true, "desired status")

	admin.AddCommand(users, transactions, dashboard, create, setStatus)
	return admin
}

func newPingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check connectivity to the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.Health(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("backend reachable")
			return nil
		},
	}
}

func printTransactions(list []domain.Transaction) {
	for _, tx := range list {
		fmt.Printf("%s  %-14s %10s  %-9s %s\n",
			tx.CreatedAt.Format("2006-01-02 15:04"),
			tx.Kind,
			tx.Amount.StringFixed(2),
			tx.Status,
			tx.Description,
		)
	}
}
