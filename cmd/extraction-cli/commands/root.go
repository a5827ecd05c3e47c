package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"sigaasync-backend/lib/configutil"
	"sigaasync-backend/lib/serviceutil"
	"sigaasync-backend/services/extraction"
)

var rootCmd = &cobra.Command{
	Use:   "extraction-cli",
	Short: "extraction-cli runs SIGAA extractions and manages their results.",
}

var databasePath *string

func init() {
	databasePath = rootCmd.PersistentFlags().String("db", "data/extractions.db", "The extraction database to operate on.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type config struct {
	Extraction extraction.Config `json:"extraction"`
}

// openService opens the extraction store at --db and wires up the service
// with the config found next to (or above) the working directory.
func openService(ctx context.Context) *extraction.Service {
	cfg, err := configutil.ReadRecursively[config]("extractord.json5")
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			serviceutil.Fatal("failed to read config", err)
		}
		slog.Warn("no extractord.json5 found, using defaults")
	}
	if password := os.Getenv("LDAP_PASSWORD"); password != "" {
		cfg.Extraction.Ldap.Password = password
	}
	database, err := extraction.Open(ctx, *databasePath)
	if err != nil {
		serviceutil.Fatal("failed to open extraction store", err)
	}
	return extraction.NewService(database, cfg.Extraction)
}
