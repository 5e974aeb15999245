package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"ai-receptionist/internal/auth"
	"ai-receptionist/internal/config"
	"ai-receptionist/internal/rbac"
	"ai-receptionist/internal/tenants"
	"ai-receptionist/migrations"
	"ai-receptionist/pkg/logger"
	"ai-receptionist/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
)

func buildTokenCmd() *cobra.Command {
	var id auth.Identity
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a dashboard access/refresh token pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runToken(cmd.OutOrStdout(), cfg.Auth, id, time.Now())
		},
	}
	cmd.Flags().StringVar(&id.UserID, "user", "", "User id carried in the token")
	cmd.Flags().StringVar(&id.TenantID, "tenant", "", "Tenant the token is scoped to")
	cmd.Flags().StringVar(&id.Role, "role", rbac.RoleAnalyst, "owner, agent, analyst or super_admin")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func runToken(w io.Writer, cfg config.AuthConfig, id auth.Identity, now time.Time) error {
	if !rbac.Known(id.Role) {
		return fmt.Errorf("unknown role %q", id.Role)
	}
	m, err := auth.NewManager(cfg)
	if err != nil {
		return err
	}
	pair, err := m.IssuePair(now, id)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(pair)
}

func buildTenantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenants",
		Short: "Manage tenant records",
	}

	var file string
	importCmd := &cobra.Command{
		Use:     "import",
		Short:   "Upsert tenants from a JSON seed file",
		Example: `  receptionistctl tenants import --file tenants.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := tenants.LoadSeedFile(file)
			if err != nil {
				return err
			}
			return withDatabase(cmd.Context(), func(ctx context.Context, dir upserter) error {
				return importTenants(ctx, cmd.OutOrStdout(), dir, seed, time.Now())
			})
		},
	}
	importCmd.Flags().StringVarP(&file, "file", "f", "", "Path to a JSON array of tenants")
	_ = importCmd.MarkFlagRequired("file")

	cmd.AddCommand(importCmd)
	return cmd
}

type upserter interface {
	UpsertAll(ctx context.Context, ts []tenants.Tenant, now time.Time) error
}

// importTenants validates the whole seed first and reports every invalid
// tenant together. Nothing is written unless all of them are valid.
func importTenants(ctx context.Context, w io.Writer, dir upserter, seed []tenants.Tenant, now time.Time) error {
	var errs []error
	for _, t := range seed {
		if _, err := tenants.Prepare(t); err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", t.ID, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	if err := dir.UpsertAll(ctx, seed, now); err != nil {
		return err
	}
	fmt.Fprintf(w, "upserted %d tenants\n", len(seed))
	return nil
}

func buildMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.App.Storage != config.StoragePostgres {
				return errors.New("migrate requires APP_STORAGE=postgres")
			}
			log := logger.New(cfg.App.Env)
			db, err := utils.OpenPostgres(cmd.Context(), "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: 2})
			if err != nil {
				return err
			}
			defer db.Close()
			return utils.RunMigrations(cmd.Context(), db, migrations.FS, log)
		},
	}
}

func withDatabase(ctx context.Context, fn func(ctx context.Context, dir upserter) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.App.Storage != config.StoragePostgres {
		return errors.New("tenants import requires APP_STORAGE=postgres")
	}
	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: 2})
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(ctx, tenants.NewPostgresDirectory(db))
}
