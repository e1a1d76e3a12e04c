package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	statusProfile string
	statusRegion  string
	statusAccount string
	outputJSON    bool
	verbose       bool
)

type statusRow struct {
	Provider   string    `json:"provider"`
	Source     string    `json:"source"`
	Identity   string    `json:"identity"`
	Expiration time.Time `json:"expiration,omitempty"`
	Refreshed  bool      `json:"refreshable"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which credentials would be used for signing, and how long they last",
	Run: func(cmd *cobra.Command, args []string) {
		var rows []statusRow

		store, cred := resolveAWS(statusProfile, statusRegion)
		rows = append(rows, statusRow{
			Provider:   "aws",
			Source:     cred.Source,
			Identity:   cred.AccessKeyID,
			Expiration: cred.Expires,
			Refreshed:  !cred.Expires.IsZero(),
		})
		if verbose {
			for k, v := range store.Diagnostics() {
				fmt.Fprintf(cmd.ErrOrStderr(), "# %s=%s\n", k, v)
			}
		}

		if statusAccount != "" {
			azCred := resolveAzure(statusAccount, "")
			identity := azCred.Account
			if len(azCred.Key) > 0 {
				identity += " (shared key)"
			} else {
				identity += " (token)"
			}
			rows = append(rows, statusRow{
				Provider:   "azure",
				Source:     azCred.Source,
				Identity:   identity,
				Expiration: azCred.Expires,
				Refreshed:  !azCred.Expires.IsZero(),
			})
		}

		// Optional JSON output
		if outputJSON {
			jsonData, err := json.MarshalIndent(rows, "", "  ")
			if err != nil {
				log.Fatalf("Failed to encode status: %v", err)
			}
			fmt.Println(string(jsonData))
			return
		}

		// Fancy table header
		header := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Printf("%-10s %-25s %-40s %-25s %-15s %-10s\n",
			header("PROVIDER"), header("SOURCE"), header("IDENTITY"), header("EXPIRATION"), header("REMAINING"), header("STATUS"))
		fmt.Println(strings.Repeat("-", 130))

		now := time.Now()
		for _, row := range rows {
			status := "ACTIVE"
			statusColor := color.New(color.FgGreen).SprintFunc()

			exp := "-"
			remaining := "-"
			switch {
			case row.Expiration.IsZero():
				// Long-lived material, nothing to count down.
			case row.Expiration.Before(now):
				status = "EXPIRED"
				statusColor = color.New(color.FgRed).SprintFunc()
				exp = row.Expiration.Format("2006-01-02 15:04:05")
				remaining = "Expired"
			default:
				diff := row.Expiration.Sub(now)
				if diff < 5*time.Minute {
					status = "EXPIRING"
					statusColor = color.New(color.FgYellow).SprintFunc()
				}
				exp = row.Expiration.Format("2006-01-02 15:04:05")
				h := int(diff.Hours())
				m := int(diff.Minutes()) % 60
				remaining = fmt.Sprintf("%dh%dm left", h, m)
			}

			fmt.Printf("%-10s %-25s %-40s %-25s %-15s %-10s\n",
				row.Provider,
				truncateText(row.Source, 23),
				truncateText(row.Identity, 38),
				exp,
				remaining,
				statusColor(status),
			)
		}
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusProfile, "profile", "", "AWS profile to inspect")
	statusCmd.Flags().StringVar(&statusRegion, "region", "", "AWS region override")
	statusCmd.Flags().StringVar(&statusAccount, "account", "", "Also inspect this Azure storage account")
	statusCmd.Flags().BoolVar(&outputJSON, "json", false, "Output results in JSON format for automation")
	statusCmd.Flags().BoolVar(&verbose, "verbose", false, "Print resolver diagnostics to stderr")
	rootCmd.AddCommand(statusCmd)
}
