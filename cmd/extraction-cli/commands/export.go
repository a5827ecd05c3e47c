package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"sigaasync-backend/lib/serviceutil"
	"sigaasync-backend/services/extraction"
)

var (
	exportOut    *string
	reprocessOut *string
)

func init() {
	exportOut = exportCmd.Flags().String("out", ".", "Directory to write the CSV files to.")
	reprocessOut = reprocessCmd.Flags().String("out", "", "If set, export the regenerated CSV files to this directory.")
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(reprocessCmd)
	rootCmd.AddCommand(cancelCmd)
}

func exportFiles(ctx context.Context, service *extraction.Service, extractionID int64, dir string) {
	_, files, err := service.Details(ctx, extractionID)
	if err != nil {
		serviceutil.Fatal("failed to load extraction files", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		serviceutil.Fatal("failed to create output directory", err)
	}
	for _, file := range files {
		path := filepath.Join(dir, file.Filename)
		if err := os.WriteFile(path, []byte(file.Content), 0o644); err != nil {
			serviceutil.Fatal("failed to write file", err)
		}
		fmt.Printf("gravado %s\n", path)
	}
}

var exportCmd = &cobra.Command{
	Use:   "export <extraction-id> [--out <dir>]",
	Short: "Writes the generated CSV files of an extraction to disk.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		service := openService(ctx)
		exportFiles(ctx, service, parseIDArg(args), *exportOut)
	},
}

var reprocessCmd = &cobra.Command{
	Use:   "reprocess <extraction-id> [--out <dir>]",
	Short: "Re-runs reconciliation and file generation over stored raw data.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		service := openService(ctx)

		id := parseIDArg(args)
		files, err := service.Reprocess(ctx, id)
		if err != nil {
			serviceutil.Fatal("reprocess failed", err)
		}
		fmt.Printf("Reprocessamento concluído: %d arquivos.\n", len(files))
		if *reprocessOut != "" {
			exportFiles(ctx, service, id, *reprocessOut)
		}
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <extraction-id>",
	Short: "Requests cancellation of a running extraction.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		service := openService(ctx)

		if err := service.Cancel(ctx, parseIDArg(args)); err != nil {
			serviceutil.Fatal("failed to cancel extraction", err)
		}
		fmt.Println("Sinal de cancelamento enviado.")
	},
}
