package main

import (
	"time"

	"nutrihub/config"
	"nutrihub/internal/repository"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newSessionsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Session maintenance",
	}

	var grace time.Duration
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete sessions that expired before now minus the grace period",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			before := time.Now().Add(-grace)
			removed, err := repository.NewSessionRepository(db).CleanupExpired(cmd.Context(), before)
			if err != nil {
				return err
			}
			logger.WithFields(logrus.Fields{
				"removed": removed,
				"before":  before.Format(time.RFC3339),
			}).Info("expired sessions removed")
			return nil
		},
	}
	cleanup.Flags().DurationVar(&grace, "grace", 24*time.Hour, "keep expired sessions for this long")
	cmd.AddCommand(cleanup)

	return cmd
}
