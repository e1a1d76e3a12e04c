package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	envProfile string
	envRegion  string
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Export the resolved AWS credentials as environment variables",
	Run: func(cmd *cobra.Command, args []string) {
		_, cred := resolveAWS(envProfile, envRegion)

		// Output shell-compatible export commands
		fmt.Printf("export AWS_ACCESS_KEY_ID=%s\n", cred.AccessKeyID)
		fmt.Printf("export AWS_SECRET_ACCESS_KEY=%s\n", cred.SecretAccessKey)
		if cred.SessionToken != "" {
			fmt.Printf("export AWS_SESSION_TOKEN=%s\n", cred.SessionToken)
		}
		if envRegion != "" {
			fmt.Printf("export AWS_REGION=%s\n", envRegion)
		}
	},
}

func init() {
	envCmd.Flags().StringVar(&envProfile, "profile", "", "AWS profile to resolve")
	envCmd.Flags().StringVar(&envRegion, "region", "", "AWS region to export alongside the credentials")
	rootCmd.AddCommand(envCmd)
}
