package main

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bobarin/slnpart/internal/config"
	"github.com/bobarin/slnpart/internal/db"
	"github.com/bobarin/slnpart/internal/logger"
)

type commandContext struct {
	verbose *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error

	dbOnce sync.Once
	db     *db.DB
	dbErr  error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.Load()
	})
	return c.config, c.configErr
}

// database opens the configured database once per invocation.
func (c *commandContext) database() (*db.DB, error) {
	c.dbOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.dbErr = err
			return
		}
		c.db, c.dbErr = db.New(cfg.Database.Driver, cfg.Database.URL)
	})
	return c.db, c.dbErr
}

func (c *commandContext) logger() zerolog.Logger {
	level := "warn"
	if c.verbose != nil && *c.verbose {
		level = "debug"
	}
	return logger.New(logger.Options{Level: level, Pretty: true})
}

func (c *commandContext) close() {
	if c.db != nil {
		c.db.Close()
	}
}

func newRootCommand() *cobra.Command {
	var verbose bool
	ctx := &commandContext{verbose: &verbose}

	rootCmd := &cobra.Command{
		Use:           "slnpartctl",
		Short:         "SLNP Art operator CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newGrantCommand(ctx))
	rootCmd.AddCommand(newBalanceCommand(ctx))
	rootCmd.AddCommand(newJobsCommand(ctx))
	rootCmd.AddCommand(newPolicyCommand(ctx))

	return rootCmd
}
