package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tracknest/tracknest-auth/internal/config"
	"github.com/tracknest/tracknest-auth/internal/domain"
	"github.com/tracknest/tracknest-auth/internal/password"
	"github.com/tracknest/tracknest-auth/internal/repository"
)

// EnsureAdmin creates the default admin principal if missing.
func EnsureAdmin(lc fx.Lifecycle, cfg config.Config, principals repository.PrincipalRepository, node *snowflake.Node, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureAdmin(ctx, cfg, principals, node, logger)
		},
	})
}

func ensureAdmin(ctx context.Context, cfg config.Config, principals repository.PrincipalRepository, node *snowflake.Node, logger *zap.Logger) error {
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	if email == "" || strings.TrimSpace(cfg.AdminPassword) == "" {
		return fmt.Errorf("admin bootstrap missing required config")
	}

	if _, err := principals.GetByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("bootstrap lookup principal: %w", err)
	}

	hashed, err := password.Hash(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap hash password: %w", err)
	}

	created, err := principals.Create(ctx, domain.Principal{
		ID:            node.Generate().Int64(),
		Email:         email,
		EmailVerified: true,
		PasswordHash:  hashed,
		Name:          "Admin",
		Roles:         []domain.Role{domain.RoleAdmin},
	})
	if err != nil {
		return fmt.Errorf("bootstrap create principal: %w", err)
	}

	if logger != nil {
		logger.Info("bootstrap admin principal created",
			zap.String("email", created.Email),
			zap.Int64("principal_id", created.ID),
		)
	}
	return nil
}
