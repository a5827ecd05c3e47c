package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"sigaasync-backend/lib/serviceutil"
)

func init() {
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(deleteCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Lists every extraction, newest first.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		service := openService(ctx)

		extractions, err := service.History(ctx)
		if err != nil {
			serviceutil.Fatal("failed to list extractions", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"ID", "Ano", "Período", "Status", "Criada em"})
		for _, e := range extractions {
			t.AppendRow(table.Row{e.ID, e.Year, e.Semester, e.Status, e.CreatedAt})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}

func parseIDArg(args []string) int64 {
	if len(args) != 1 {
		serviceutil.Fatal("expected exactly one extraction id", fmt.Errorf("got %d arguments", len(args)))
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		serviceutil.Fatal("invalid extraction id", err)
	}
	return id
}

var logsCmd = &cobra.Command{
	Use:   "logs <extraction-id>",
	Short: "Prints the stored progress log of an extraction.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		service := openService(ctx)

		logs, err := service.Logs(ctx, parseIDArg(args))
		if err != nil {
			serviceutil.Fatal("failed to list logs", err)
		}
		for _, l := range logs {
			fmt.Println(l.Message)
		}
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <extraction-id>",
	Short: "Deletes an extraction and everything stored with it.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		service := openService(ctx)

		if err := service.Delete(ctx, parseIDArg(args)); err != nil {
			serviceutil.Fatal("failed to delete extraction", err)
		}
		fmt.Println("Extração excluída com sucesso.")
	},
}
