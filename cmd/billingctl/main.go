// Command billingctl is the operator CLI of the billing service.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"aquabill/internal/app"
	"aquabill/internal/config"
	"aquabill/internal/logging"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "billingctl",
		Short:         "Operate the water billing payment service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(pollCmd())
	rootCmd.AddCommand(invoiceCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(auditCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// env is the per-invocation runtime: configuration, logger and the
// connections a command opened.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *sql.DB
}

func newEnv(ctx context.Context, withDB bool) (*env, error) {
	cfg := config.Load()

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: "console"})
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, logger: logger}
	if withDB {
		e.db, err = app.NewDatabase(ctx, cfg.Database, nil)
		if err != nil {
			return nil, err
		}
	}

	return e, nil
}

func (e *env) Close() {
	if e.db != nil {
		_ = e.db.Close()
	}
	_ = e.logger.Sync()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
