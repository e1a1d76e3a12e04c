package azure

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// permissionOrder is the provider-mandated ordering of permission flags. The
// signature is computed over the literal permission string, so flags must be
// normalized to this order before signing.
const permissionOrder = "racwdxltmeop"

// sasTimeFormat is the UTC second-resolution format used by st/se/sst.
const sasTimeFormat = "2006-01-02T15:04:05Z"

// PermissionError reports a permission flag outside the recognized alphabet.
type PermissionError struct {
	Raw string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("azure: invalid SAS permission string %q, allowed flags are %q", e.Raw, permissionOrder)
}

// NormalizePermissions validates a permission string against the recognized
// alphabet and returns it deduplicated in canonical order.
func NormalizePermissions(raw string) (string, error) {
	seen := make(map[rune]bool, len(raw))
	for _, r := range raw {
		if !strings.ContainsRune(permissionOrder, r) {
			return "", &PermissionError{Raw: raw}
		}
		seen[r] = true
	}
	var b strings.Builder
	for _, r := range permissionOrder {
		if seen[r] {
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

func formatSASTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(sasTimeFormat)
}

// AccountSASOptions describes an account-level SAS grant.
type AccountSASOptions struct {
	Permissions   string    // e.g. "rwl"
	Services      string    // signed services, e.g. "b" for blob
	ResourceTypes string    // "s", "c", "o" combinations
	Start         time.Time // optional
	Expiry        time.Time
	IP            string // optional address or range
	Protocol      string // optional, "https" or "https,http"
	Version       string // defaults to ServiceVersion
}

// AccountSAS signs an account-level delegation and returns the SAS query
// parameters to append to any resource URL under the account.
func AccountSAS(account string, key []byte, opts AccountSASOptions) (url.Values, error) {
	perms, err := NormalizePermissions(opts.Permissions)
	if err != nil {
		return nil, err
	}
	version := opts.Version
	if version == "" {
		version = ServiceVersion
	}

	stringToSign := strings.Join([]string{
		account,
		perms,
		opts.Services,
		opts.ResourceTypes,
		formatSASTime(opts.Start),
		formatSASTime(opts.Expiry),
		opts.IP,
		opts.Protocol,
		version,
		"", // trailing newline required by the scheme
	}, "\n")

	sig := base64.StdEncoding.EncodeToString(hmacSHA256(key, []byte(stringToSign)))

	values := url.Values{}
	values.Set("sv", version)
	values.Set("ss", opts.Services)
	values.Set("srt", opts.ResourceTypes)
	values.Set("sp", perms)
	if !opts.Start.IsZero() {
		values.Set("st", formatSASTime(opts.Start))
	}
	values.Set("se", formatSASTime(opts.Expiry))
	if opts.IP != "" {
		values.Set("sip", opts.IP)
	}
	if opts.Protocol != "" {
		values.Set("spr", opts.Protocol)
	}
	values.Set("sig", sig)
	return values, nil
}

// ServiceSASOptions describes a container- or blob-level SAS grant.
type ServiceSASOptions struct {
	Permissions  string
	Start        time.Time // optional
	Expiry       time.Time
	Identifier   string // optional stored access policy id
	IP           string
	Protocol     string
	Version      string // defaults to ServiceVersion
	Resource     string    // "c" for container, "b" for blob; derived when empty
	SnapshotTime time.Time // optional, blob snapshots only
}

// ServiceSAS signs a service-level delegation for one container or blob and
// returns the SAS query parameters. blob may be empty for a container grant.
func ServiceSAS(account, container, blob string, key []byte, opts ServiceSASOptions) (url.Values, error) {
	perms, err := NormalizePermissions(opts.Permissions)
	if err != nil {
		return nil, err
	}
	version := opts.Version
	if version == "" {
		version = ServiceVersion
	}
	resource := opts.Resource
	if resource == "" {
		if blob == "" {
			resource = "c"
		} else {
			resource = "b"
		}
	}

	canonicalized := "/blob/" + account + "/" + container
	if blob != "" {
		canonicalized += "/" + blob
	}

	stringToSign := strings.Join([]string{
		perms,
		formatSASTime(opts.Start),
		formatSASTime(opts.Expiry),
		canonicalized,
		opts.Identifier,
		opts.IP,
		opts.Protocol,
		version,
		resource,
		formatSASTime(opts.SnapshotTime),
		"", // rscc
		"", // rscd
		"", // rsce
		"", // rscl
		"", // rsct
	}, "\n")

	sig := base64.StdEncoding.EncodeToString(hmacSHA256(key, []byte(stringToSign)))

	values := url.Values{}
	values.Set("sv", version)
	values.Set("sr", resource)
	values.Set("sp", perms)
	if !opts.Start.IsZero() {
		values.Set("st", formatSASTime(opts.Start))
	}
	values.Set("se", formatSASTime(opts.Expiry))
	if opts.Identifier != "" {
		values.Set("si", opts.Identifier)
	}
	if opts.IP != "" {
		values.Set("sip", opts.IP)
	}
	if opts.Protocol != "" {
		values.Set("spr", opts.Protocol)
	}
	values.Set("sig", sig)
	return values, nil
}
