package cmd

import (
	"fmt"
	"strings"

	"github.com/chukul/cloudsign/internal"
	"github.com/chukul/cloudsign/internal/ui"
	"github.com/spf13/cobra"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the stored Azure storage account key",
	Long:  `Manage the Azure storage account key kept in your system keychain for SAS generation and SharedKey signing.`,
}

var keyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the storage key from the keychain",
	Long:  "Reveal the account key stored in your macOS Keychain. Usage of this command requires Touch ID authentication.",
	Run: func(cmd *cobra.Command, args []string) {
		if !internal.IsMacOS() {
			fmt.Println("❌ Keychain integration is only available on macOS")
			return
		}

		// Re-authentication implicitly handled by System Keychain access control
		// When we request the item, OS will prompt user
		key, err := internal.GetStorageKey("")
		if err != nil {
			fmt.Println("❌ No storage key found in Keychain or it couldn't be accessed.")
			return
		}

		fmt.Println("🔐 Your CloudSign Azure Storage Key:")
		fmt.Println(strings.Repeat("─", 64))
		fmt.Println(key)
		fmt.Println(strings.Repeat("─", 64))
		fmt.Println("\n⚠️  KEEP THIS SAFE! Anyone holding it can sign requests for the account.")
	},
}

var keyImportCmd = &cobra.Command{
	Use:   "import [key]",
	Short: "Import a storage key into the keychain",
	Long:  "Save an Azure storage account key into your macOS Keychain so sas and sign commands can use it without flags.",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if !internal.IsMacOS() {
			fmt.Println("❌ Keychain integration is only available on macOS")
			return
		}

		var key string
		if len(args) > 0 {
			key = args[0]
		} else {
			var err error
			key, err = ui.GetInput("Enter Storage Account Key", "", true)
			if err != nil {
				return
			}
		}

		if key == "" {
			fmt.Println("❌ Storage key cannot be empty")
			return
		}

		if err := internal.StoreStorageKey(key); err != nil {
			fmt.Printf("❌ Failed to store key: %v\n", err)
			return
		}

		fmt.Println("✅ Storage key imported successfully to Keychain!")
	},
}

func init() {
	keyCmd.AddCommand(keyShowCmd)
	keyCmd.AddCommand(keyImportCmd)
	rootCmd.AddCommand(keyCmd)
}
