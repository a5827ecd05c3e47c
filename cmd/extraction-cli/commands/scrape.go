package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sigaasync-backend/lib/serviceutil"
	"sigaasync-backend/services/extraction"
)

var (
	scrapeYear     *string
	scrapeSemester *string
	scrapeUsername *string
	scrapePassword *string
	scrapeVisible  *bool
	scrapeOut      *string
)

func init() {
	scrapeYear = scrapeCmd.Flags().String("year", "", "Year to extract (e.g. 2025).")
	scrapeSemester = scrapeCmd.Flags().String("semester", "", "Semester to extract (e.g. 1).")
	scrapeUsername = scrapeCmd.Flags().String("username", "", "SIGAA username.")
	scrapePassword = scrapeCmd.Flags().String("password", "", "SIGAA password. Falls back to the SIGAA_PASSWORD environment variable.")
	scrapeVisible = scrapeCmd.Flags().Bool("visible", false, "Open the browser with a visible window.")
	scrapeOut = scrapeCmd.Flags().String("out", "", "If set, export the generated CSV files to this directory.")
	rootCmd.AddCommand(scrapeCmd)
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape --year <year> --semester <semester> --username <user>",
	Short: "Runs a full extraction against SIGAA and stores the results.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		service := openService(ctx)

		password := *scrapePassword
		if password == "" {
			password = os.Getenv("SIGAA_PASSWORD")
		}

		outcome, err := service.Run(ctx, extraction.RunRequest{
			Year:     *scrapeYear,
			Semester: *scrapeSemester,
			Username: *scrapeUsername,
			Password: password,
			Visible:  *scrapeVisible,
		}, extraction.Events{
			Log: func(line string) {
				fmt.Println(line)
			},
			Created: func(extractionID int64) {
				fmt.Printf("Extração registrada com id %d.\n", extractionID)
			},
		})
		if err != nil {
			serviceutil.Fatal("extraction failed", err)
		}
		if outcome.Cancelled {
			fmt.Println("Extração cancelada.")
			return
		}
		fmt.Printf("Extração concluída: %d registros.\n", len(outcome.Rows))

		if *scrapeOut != "" {
			exportFiles(ctx, service, outcome.ExtractionID, *scrapeOut)
		}
	},
}
