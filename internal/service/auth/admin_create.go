// internal/service/auth/admin_create.go
package auth

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"jsonapi-service/internal/storage"
)

// EnsureSysadminExists seeds a sysadmin account if none exists (called on
// startup). Without one, a fresh deployment has no way to sign in.
func (s *AuthService) EnsureSysadminExists(ctx context.Context, email, password, name string) error {
	if email == "" || password == "" {
		s.logger.Info("sysadmin bootstrap skipped, no credentials configured")
		return nil
	}

	roleID, err := s.ensureRole(ctx, "sysadmin")
	if err != nil {
		return fmt.Errorf("failed to resolve sysadmin role: %w", err)
	}

	existing, err := s.db.Read(ctx, storage.ReadRequest{
		Table: "users",
		Query: map[string]any{"role": roleID},
		Limit: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to check sysadmin existence: %w", err)
	}
	if len(existing) > 0 {
		s.logger.Info("sysadmin already exists, skipping creation")
		return nil
	}

	taken, err := s.db.Read(ctx, storage.ReadRequest{
		Table: "users",
		Query: map[string]any{"email": email},
		Limit: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to check email: %w", err)
	}
	if len(taken) > 0 {
		return fmt.Errorf("email %s already exists but holds no sysadmin role", email)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	rows, err := s.db.Write(ctx, storage.WriteRequest{
		Table: "users",
		Data: []storage.Row{{
			"name":     name,
			"email":    email,
			"password": string(hashed),
			"role":     roleID,
			"active":   true,
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to create sysadmin: %w", err)
	}

	s.logger.Info("sysadmin created",
		zap.String("email", email),
		zap.Any("id", rows[0]["id"]))
	return nil
}

// ensureRole returns the id of the named role, creating the row if the
// roles table does not carry it yet.
func (s *AuthService) ensureRole(ctx context.Context, name string) (int64, error) {
	rows, err := s.db.Read(ctx, storage.ReadRequest{
		Table: "roles",
		Query: map[string]any{"name": name},
		Limit: 1,
	})
	if err != nil {
		return 0, err
	}
	if len(rows) > 0 {
		if id, ok := rows[0]["id"].(int64); ok {
			return id, nil
		}
	}
	created, err := s.db.Write(ctx, storage.WriteRequest{
		Table: "roles",
		Data:  []storage.Row{{"name": name}},
	})
	if err != nil {
		return 0, err
	}
	id, _ := created[0]["id"].(int64)
	return id, nil
}
