package cmd

import (
	"encoding/base64"
	"fmt"
	"log"
	"time"

	"github.com/chukul/cloudsign/internal"
	"github.com/chukul/cloudsign/internal/azure"
	"github.com/spf13/cobra"
)

var (
	sasAccount       string
	sasKey           string
	sasPermissions   string
	sasServices      string
	sasResourceTypes string
	sasStart         string
	sasExpiresIn     time.Duration
	sasIP            string
	sasProtocol      string
	sasContainer     string
	sasBlob          string
	sasIdentifier    string
)

var sasCmd = &cobra.Command{
	Use:   "sas",
	Short: "Generate Azure shared access signature URIs",
}

var sasAccountCmd = &cobra.Command{
	Use:   "account",
	Short: "Generate an account-level SAS URI",
	Run: func(cmd *cobra.Command, args []string) {
		key := loadStorageKey()
		start, expiry := sasWindow()

		values, err := azure.AccountSAS(sasAccount, key, azure.AccountSASOptions{
			Permissions:   sasPermissions,
			Services:      sasServices,
			ResourceTypes: sasResourceTypes,
			Start:         start,
			Expiry:        expiry,
			IP:            sasIP,
			Protocol:      sasProtocol,
		})
		if err != nil {
			log.Fatalf("❌ Failed to generate SAS: %v", err)
		}

		fmt.Printf("https://%s.blob.core.windows.net/?%s\n", sasAccount, values.Encode())
	},
}

var sasServiceCmd = &cobra.Command{
	Use:   "service",
	Short: "Generate a container- or blob-level SAS URI",
	Run: func(cmd *cobra.Command, args []string) {
		if sasContainer == "" {
			log.Fatal("❌ --container is required for a service SAS")
		}
		key := loadStorageKey()
		start, expiry := sasWindow()

		values, err := azure.ServiceSAS(sasAccount, sasContainer, sasBlob, key, azure.ServiceSASOptions{
			Permissions: sasPermissions,
			Start:       start,
			Expiry:      expiry,
			Identifier:  sasIdentifier,
			IP:          sasIP,
			Protocol:    sasProtocol,
		})
		if err != nil {
			log.Fatalf("❌ Failed to generate SAS: %v", err)
		}

		path := sasContainer
		if sasBlob != "" {
			path += "/" + sasBlob
		}
		fmt.Printf("https://%s.blob.core.windows.net/%s?%s\n", sasAccount, path, values.Encode())
	},
}

func loadStorageKey() []byte {
	if sasAccount == "" {
		log.Fatal("❌ --account is required")
	}
	encoded, err := internal.GetStorageKey(sasKey)
	if err != nil {
		encoded = readSecret("Enter storage account key: ")
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		log.Fatalf("❌ Storage key is not valid base64: %v", err)
	}
	return key
}

func sasWindow() (time.Time, time.Time) {
	var start time.Time
	if sasStart != "" {
		parsed, err := time.Parse(time.RFC3339, sasStart)
		if err != nil {
			log.Fatalf("❌ --start must be RFC3339 (e.g. 2026-08-23T00:00:00Z): %v", err)
		}
		start = parsed
	}
	return start, time.Now().Add(sasExpiresIn).UTC().Truncate(time.Second)
}

func init() {
	for _, c := range []*cobra.Command{sasAccountCmd, sasServiceCmd} {
		c.Flags().StringVar(&sasAccount, "account", "", "Storage account name")
		c.Flags().StringVar(&sasKey, "key", "", "Account key (base64); falls back to CLOUDSIGN_AZURE_KEY or keychain")
		c.Flags().StringVar(&sasPermissions, "permissions", "r", "Permission flags, e.g. rwl")
		c.Flags().StringVar(&sasStart, "start", "", "Grant start time (RFC3339, optional)")
		c.Flags().DurationVar(&sasExpiresIn, "expires-in", time.Hour, "Grant lifetime from now")
		c.Flags().StringVar(&sasIP, "ip", "", "Allowed IP address or range (optional)")
		c.Flags().StringVar(&sasProtocol, "protocol", "", "Allowed protocol: https or https,http (optional)")
	}
	sasAccountCmd.Flags().StringVar(&sasServices, "services", "b", "Signed services, e.g. b for blob")
	sasAccountCmd.Flags().StringVar(&sasResourceTypes, "resource-types", "sco", "Signed resource types: s, c, o combinations")
	sasServiceCmd.Flags().StringVar(&sasContainer, "container", "", "Container name")
	sasServiceCmd.Flags().StringVar(&sasBlob, "blob", "", "Blob path (empty for a container grant)")
	sasServiceCmd.Flags().StringVar(&sasIdentifier, "policy", "", "Stored access policy id (optional)")

	sasCmd.AddCommand(sasAccountCmd)
	sasCmd.AddCommand(sasServiceCmd)
	rootCmd.AddCommand(sasCmd)
}
