package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"spa-cms/internal/config"
	"spa-cms/internal/logger"
)

// Bootstrap creates the schema and seeds the first admin user on an empty
// database.
func (s *Store) Bootstrap(ctx context.Context, admin config.AdminConfig, log *logger.Logger) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.SchemaSQL()); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	if err := s.seedAdminUser(ctx, admin, log); err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}
	return nil
}

func (s *Store) seedAdminUser(ctx context.Context, admin config.AdminConfig, log *logger.Logger) error {
	if admin.Email == "" || admin.Password == "" {
		return nil
	}
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM cms_users").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(admin.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	pb := s.Dialect.NewParamBuilder()
	query := fmt.Sprintf(`INSERT INTO cms_users (id, email, password_hash, roles) VALUES (%s, %s, %s, %s)`,
		pb.Add(uuid.New().String()), pb.Add(strings.ToLower(strings.TrimSpace(admin.Email))), pb.Add(string(hash)), pb.Add(s.Dialect.ArrayParam([]string{"admin"})))
	if _, err := s.DB.ExecContext(ctx, query, pb.Params()...); err != nil {
		return MapError(s.Dialect, err)
	}

	if log != nil {
		log.Warn("default admin user created, change the password immediately", "email", admin.Email)
	}
	return nil
}
