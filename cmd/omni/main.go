package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/urizennnn/omni-backend-sub001/internal/config"
	"github.com/urizennnn/omni-backend-sub001/internal/conversations"
	"github.com/urizennnn/omni-backend-sub001/internal/db"
	"github.com/urizennnn/omni-backend-sub001/internal/logger"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:           "omni",
		Short:         "Multi-platform message aggregation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config.toml")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the API server and polling scheduler",
			RunE: func(cmd *cobra.Command, args []string) error {
				runServe()
				return nil
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending database migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				return db.Migrate(cfg.Postgres)
			},
		},
		&cobra.Command{
			Use:   "flatten-conversations",
			Short: "Reparent legacy child conversations onto their parents",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runFlatten(cmd.Context())
			},
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	path := cfgPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

func runFlatten(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pool, err := db.Open(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	report, err := conversations.NewFlattener(logger.L, pool).Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("flattened %d parents: %d messages reparented, %d children deleted\n",
		report.Parents, report.MessagesReparented, report.ChildrenDeleted)
	return nil
}
