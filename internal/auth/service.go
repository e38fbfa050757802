package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"spa-cms/internal/logger"
	"spa-cms/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrInvalidToken       = errors.New("invalid refresh token")
	ErrTokenExpired       = errors.New("refresh token expired")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidRole        = errors.New("invalid role")
)

// Account is a row of cms_users without the password hash.
type Account struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Roles     []string  `json:"roles"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Service issues and rotates tokens for cms_users and manages the accounts
// themselves.
type Service struct {
	store  *store.Store
	secret string
	now    func() time.Time
	log    *logger.Logger
}

func NewService(s *store.Store, secret string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{store: s, secret: secret, now: time.Now, log: log.With("component", "auth")}
}

func (s *Service) Secret() string { return s.secret }

// Login checks the credentials and returns a fresh token pair.
func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	pb := s.store.Dialect.NewParamBuilder()
	row, err := s.queryOne(ctx, fmt.Sprintf(
		"SELECT id, email, password_hash, roles, active FROM cms_users WHERE email = %s",
		pb.Add(normalizeEmail(email))), pb.Params())
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if active, _ := row["active"].(bool); !active {
		return nil, ErrAccountDisabled
	}
	hash, _ := row["password_hash"].(string)
	if !CheckPassword(password, hash) {
		s.log.Info("login rejected", "email", email)
		return nil, ErrInvalidCredentials
	}

	user, err := s.userFromRow(row, "id")
	if err != nil {
		return nil, err
	}
	s.log.Info("user logged in", "user", user.ID)
	return s.issue(ctx, *user)
}

// Refresh rotates a refresh token: the presented token is consumed and a new
// pair is issued.
func (s *Service) Refresh(ctx context.Context, token string) (*TokenPair, error) {
	if _, err := uuid.Parse(token); err != nil {
		return nil, ErrInvalidToken
	}
	pb := s.store.Dialect.NewParamBuilder()
	row, err := s.queryOne(ctx, fmt.Sprintf(
		`SELECT rt.id, rt.user_id, rt.expires_at, u.email, u.roles, u.active
		 FROM cms_refresh_tokens rt
		 JOIN cms_users u ON u.id = rt.user_id
		 WHERE rt.token = %s`, pb.Add(token)), pb.Params())
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}

	if err := s.deleteToken(ctx, token); err != nil {
		return nil, err
	}
	expiresAt, _ := row["expires_at"].(time.Time)
	if s.now().After(expiresAt) {
		return nil, ErrTokenExpired
	}
	if active, _ := row["active"].(bool); !active {
		return nil, ErrAccountDisabled
	}

	user, err := s.userFromRow(row, "user_id")
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, *user)
}

// Logout revokes a refresh token. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	if _, err := uuid.Parse(token); err != nil {
		return nil
	}
	return s.deleteToken(ctx, token)
}

// CreateUser adds an account with the given roles.
func (s *Service) CreateUser(ctx context.Context, email, password string, roles []string) (*Account, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidCredentials)
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidCredentials)
	}
	for _, r := range roles {
		if r != RoleAdmin && r != RoleEditor {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRole, r)
		}
	}
	if len(roles) == 0 {
		roles = []string{RoleEditor}
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	acc := &Account{ID: uuid.New().String(), Email: email, Roles: roles, Active: true, CreatedAt: s.now()}
	pb := s.store.Dialect.NewParamBuilder()
	query := fmt.Sprintf("INSERT INTO cms_users (id, email, password_hash, roles) VALUES (%s, %s, %s, %s)",
		pb.Add(acc.ID), pb.Add(email), pb.Add(hash), pb.Add(s.store.Dialect.ArrayParam(roles)))
	if _, err := store.Exec(ctx, s.store.DB, query, pb.Params()...); err != nil {
		if errors.Is(store.MapError(s.store.Dialect, err), store.ErrUniqueViolation) {
			return nil, fmt.Errorf("%w: %s", ErrEmailTaken, email)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.log.Info("user created", "user", acc.ID, "roles", roles)
	return acc, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]Account, error) {
	rows, err := store.QueryRows(ctx, s.store.DB, "SELECT id, email, roles, active, created_at FROM cms_users ORDER BY email")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	if s.store.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans(rows, []string{"active"})
	}
	out := make([]Account, 0, len(rows))
	for _, row := range rows {
		roles, err := s.store.Dialect.ScanArray(row["roles"])
		if err != nil {
			return nil, err
		}
		acc := Account{ID: fmt.Sprint(row["id"]), Email: fmt.Sprint(row["email"]), Roles: roles}
		acc.Active, _ = row["active"].(bool)
		acc.CreatedAt, _ = row["created_at"].(time.Time)
		out = append(out, acc)
	}
	return out, nil
}

// SetActive enables or disables an account. Disabling also revokes its
// refresh tokens.
func (s *Service) SetActive(ctx context.Context, id string, active bool) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	pb := s.store.Dialect.NewParamBuilder()
	query := fmt.Sprintf("UPDATE cms_users SET active = %s, updated_at = %s WHERE id = %s",
		pb.Add(active), s.store.Dialect.NowExpr(), pb.Add(id))
	n, err := store.Exec(ctx, tx, query, pb.Params()...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	if !active {
		db := s.store.Dialect.NewParamBuilder()
		if _, err := store.Exec(ctx, tx, fmt.Sprintf("DELETE FROM cms_refresh_tokens WHERE user_id = %s", db.Add(id)), db.Params()...); err != nil {
			return fmt.Errorf("revoke tokens: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.log.Info("user updated", "user", id, "active", active)
	return nil
}

// PurgeExpiredTokens deletes refresh tokens past their expiry.
func (s *Service) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	pb := s.store.Dialect.NewParamBuilder()
	n, err := store.Exec(ctx, s.store.DB,
		fmt.Sprintf("DELETE FROM cms_refresh_tokens WHERE expires_at < %s", pb.Add(s.store.Dialect.TimeParam(s.now()))), pb.Params()...)
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", err)
	}
	return n, nil
}

// --- helpers ---

func (s *Service) issue(ctx context.Context, user User) (*TokenPair, error) {
	now := s.now()
	access, err := GenerateAccessToken(user, s.secret, now)
	if err != nil {
		return nil, err
	}

	refresh := GenerateRefreshToken()
	pb := s.store.Dialect.NewParamBuilder()
	query := fmt.Sprintf("INSERT INTO cms_refresh_tokens (id, user_id, token, expires_at) VALUES (%s, %s, %s, %s)",
		pb.Add(uuid.New().String()), pb.Add(user.ID), pb.Add(refresh), pb.Add(s.store.Dialect.TimeParam(now.Add(RefreshTokenTTL))))
	if _, err := store.Exec(ctx, s.store.DB, query, pb.Params()...); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(AccessTokenTTL.Seconds()),
	}, nil
}

func (s *Service) deleteToken(ctx context.Context, token string) error {
	pb := s.store.Dialect.NewParamBuilder()
	_, err := store.Exec(ctx, s.store.DB, fmt.Sprintf("DELETE FROM cms_refresh_tokens WHERE token = %s", pb.Add(token)), pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

func (s *Service) queryOne(ctx context.Context, query string, params []any) (map[string]any, error) {
	row, err := store.QueryRow(ctx, s.store.DB, query, params...)
	if err != nil {
		return nil, err
	}
	if s.store.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans([]map[string]any{row}, []string{"active"})
	}
	return row, nil
}

func (s *Service) userFromRow(row map[string]any, idColumn string) (*User, error) {
	roles, err := s.store.Dialect.ScanArray(row["roles"])
	if err != nil {
		return nil, err
	}
	email, _ := row["email"].(string)
	return &User{ID: fmt.Sprint(row[idColumn]), Email: email, Roles: roles}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
