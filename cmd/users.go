package main

import (
	"fmt"

	"nutrihub/config"
	"nutrihub/internal/entity"
	"nutrihub/internal/repository"
	"nutrihub/internal/service"

	"github.com/spf13/cobra"
)

func newUsersCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "User administration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set-role <email> <user|nutritionist|admin>",
		Short: "Change a user's role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, ok := entity.ParseRole(args[1])
			if !ok {
				return fmt.Errorf("unknown role %q", args[1])
			}
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			db, err := config.ConnectDatabase(cfg.DatabaseURL, logger)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}

			svc := service.NewAuthService(
				repository.NewUserRepository(db),
				repository.NewSessionRepository(db),
				repository.NewVerificationTokenRepository(db),
				repository.NewAuthLogRepository(db),
				nil, nil, nil, nil, nil,
				service.RealClock{},
				logger,
				service.AuthConfig{},
			)
			if err := svc.AssignRole(cmd.Context(), args[0], role); err != nil {
				return err
			}
			logger.WithField("role", role).Info("role updated")
			return nil
		},
	})
	return cmd
}
