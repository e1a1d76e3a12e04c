package cmd

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strings"
	"syscall"

	"github.com/chukul/cloudsign/internal"
	"github.com/chukul/cloudsign/internal/creds"
	"github.com/chukul/cloudsign/internal/ui"
	"golang.org/x/term"
)

// resolveAWS builds a store for the given profile/region and blocks on the
// first resolution behind a spinner.
func resolveAWS(profile, region string) (*creds.AWSStore, creds.AWSCredentials) {
	var opts []creds.AWSOption
	if profile != "" {
		opts = append(opts, creds.WithProfile(profile))
	}
	if region != "" {
		opts = append(opts, creds.WithRegion(region))
	}
	store := creds.NewAWSStore(opts...)

	res, err := ui.Spin("Resolving AWS credentials...", func() (any, error) {
		return store.GetCurrent(context.Background())
	})
	if err != nil {
		log.Fatalf("❌ Failed to resolve AWS credentials: %v", err)
	}
	return store, res.(creds.AWSCredentials)
}

// resolveAzure prefers an explicitly supplied storage key (flag, env or
// keychain) and only then falls back to the store's resolution chain.
func resolveAzure(account, explicitKey string) creds.AzureCredentials {
	if key, err := internal.GetStorageKey(explicitKey); err == nil {
		raw, derr := base64.StdEncoding.DecodeString(key)
		if derr != nil {
			log.Fatalf("❌ Storage key is not valid base64: %v", derr)
		}
		if account == "" {
			log.Fatal("❌ --account is required when signing with a storage key")
		}
		return creds.AzureCredentials{Account: account, Key: raw, Source: "static"}
	}

	var opts []creds.AzureOption
	if account != "" {
		opts = append(opts, creds.WithAccount(account))
	}
	store := creds.NewAzureStore(opts...)

	res, err := ui.Spin("Resolving Azure credentials...", func() (any, error) {
		return store.GetCurrent(context.Background())
	})
	if err != nil {
		log.Fatalf("❌ Failed to resolve Azure credentials: %v", err)
	}
	return res.(creds.AzureCredentials)
}

func readSecret(prompt string) string {
	fmt.Print(prompt)
	var value string
	var char byte
	buf := make([]byte, 1)

	oldState, err := term.MakeRaw(int(syscall.Stdin))
	if err != nil {
		log.Fatalf("❌ Failed to set terminal mode: %v", err)
	}
	defer term.Restore(int(syscall.Stdin), oldState)

	for {
		_, err := syscall.Read(syscall.Stdin, buf)
		if err != nil {
			log.Fatalf("❌ Failed to read input: %v", err)
		}
		char = buf[0]

		if char == 13 || char == 10 { // Enter
			fmt.Print("\r\n")
			break
		} else if char == 127 || char == 8 { // Backspace
			if len(value) > 0 {
				value = value[:len(value)-1]
				fmt.Print("\b \b")
			}
		} else if char >= 32 && char <= 126 { // Printable characters
			value += string(char)
			fmt.Print("*")
		}
	}

	return strings.TrimSpace(value)
}

func truncateText(text string, max int) string {
	if len(text) > max {
		return text[:max-3] + "..."
	}
	return text
}
