//go:build darwin

package internal

import (
	"fmt"
	"os"
	"runtime"

	"github.com/keybase/go-keychain"
)

const (
	KeychainService = "cloudsign"
	KeychainAccount = "azure-storage-key"
)

// GetStorageKey retrieves the Azure account key from one of three sources
// (in priority order):
// 1. Explicit flag/argument (passed in)
// 2. Environment variable (CLOUDSIGN_AZURE_KEY)
// 3. System Keychain (macOS only)
func GetStorageKey(explicitKey string) (string, error) {
	// 1. Explicit flag
	if explicitKey != "" {
		return explicitKey, nil
	}

	// 2. Environment variable
	envKey := os.Getenv("CLOUDSIGN_AZURE_KEY")
	if envKey != "" {
		return envKey, nil
	}

	// 3. System Keychain (macOS only)
	if runtime.GOOS == "darwin" {
		key, err := getKeychainKey()
		if err == nil && key != "" {
			return key, nil
		}
	}

	return "", fmt.Errorf("no storage key found")
}

// StoreStorageKey saves the base64 account key into the system keychain
func StoreStorageKey(key string) error {
	if runtime.GOOS != "darwin" {
		return fmt.Errorf("keychain integration is only supported on macOS")
	}

	item := keychain.NewItem()
	item.SetSecClass(keychain.SecClassGenericPassword)
	item.SetService(KeychainService)
	item.SetAccount(KeychainAccount)
	item.SetLabel("CloudSign Azure Storage Key")
	item.SetAccessGroup(KeychainService)
	item.SetData([]byte(key))
	item.SetSynchronizable(keychain.SynchronizableNo)
	item.SetAccessible(keychain.AccessibleWhenUnlocked)

	// Remove existing if any
	keychain.DeleteItem(item)

	if err := keychain.AddItem(item); err != nil {
		return fmt.Errorf("failed to save to keychain: %w", err)
	}

	return nil
}

func getKeychainKey() (string, error) {
	query := keychain.NewItem()
	query.SetSecClass(keychain.SecClassGenericPassword)
	query.SetService(KeychainService)
	query.SetAccount(KeychainAccount)
	query.SetMatchLimit(keychain.MatchLimitOne)
	query.SetReturnData(true)

	results, err := keychain.QueryItem(query)
	if err != nil {
		return "", err
	} else if len(results) != 1 {
		return "", fmt.Errorf("storage key not found in keychain")
	}

	return string(results[0].Data), nil
}
