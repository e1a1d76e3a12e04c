//go:build !darwin

package internal

import (
	"fmt"
	"os"
)

// GetStorageKey stub for non-macOS
func GetStorageKey(explicitKey string) (string, error) {
	if explicitKey != "" {
		return explicitKey, nil
	}
	envKey := os.Getenv("CLOUDSIGN_AZURE_KEY")
	if envKey != "" {
		return envKey, nil
	}
	return "", fmt.Errorf("no storage key found and keychain is only supported on macOS")
}

// StoreStorageKey stub for non-macOS
func StoreStorageKey(key string) error {
	return fmt.Errorf("keychain integration is only supported on macOS")
}

func getKeychainKey() (string, error) {
	return "", fmt.Errorf("keychain integration is only supported on macOS")
}
