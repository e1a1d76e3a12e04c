package creds

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"
)

// defaultIdentityEndpoint is the managed-identity token endpoint available on
// Azure virtual machines.
const defaultIdentityEndpoint = "http://169.254.169.254/metadata/identity/oauth2/token"

// storageResource is the audience requested for storage-scoped tokens.
const storageResource = "https://storage.azure.com/"

// AzureCredentials is an immutable snapshot for Azure signing. Exactly one of
// Key (SharedKey signing) or Token (bearer/SAS) is populated.
type AzureCredentials struct {
	Account string
	Key     []byte
	Token   string
	Expires time.Time
	Source  string
}

// Usable reports whether the snapshot can authenticate a request.
func (c AzureCredentials) Usable() bool {
	return c.Account != "" && (len(c.Key) > 0 || c.Token != "")
}

type azureResolveFunc func(ctx context.Context) (AzureCredentials, error)

// AzureStore mirrors AWSStore for the Azure side: two terminal sources
// (explicit account+key, explicit token) and one refreshable source (the
// managed-identity endpoint).
type AzureStore struct {
	mu       sync.Mutex
	current  AzureCredentials
	resolved bool
	refresh  azureResolveFunc

	account          string
	staticKey        []byte
	staticToken      string
	threshold        time.Duration
	nowFn            func() time.Time
	client           *http.Client
	identityEndpoint string
	diag             map[string]string
}

// AzureOption configures an AzureStore.
type AzureOption func(*AzureStore)

// WithAccount sets the storage account name for sources that cannot derive it.
func WithAccount(name string) AzureOption {
	return func(s *AzureStore) { s.account = name }
}

// WithAzureThreshold overrides the refresh lead time.
func WithAzureThreshold(d time.Duration) AzureOption {
	return func(s *AzureStore) { s.threshold = d }
}

// WithAzureClock injects a deterministic clock for tests.
func WithAzureClock(now func() time.Time) AzureOption {
	return func(s *AzureStore) { s.nowFn = now }
}

// WithAzureHTTPClient replaces the client used for the identity endpoint.
func WithAzureHTTPClient(c *http.Client) AzureOption {
	return func(s *AzureStore) { s.client = c }
}

// WithIdentityEndpoint overrides the managed-identity URL (tests, emulators).
func WithIdentityEndpoint(u string) AzureOption {
	return func(s *AzureStore) { s.identityEndpoint = u }
}

// NewAzureStore builds a store resolving through: environment key material,
// then the managed-identity endpoint.
func NewAzureStore(opts ...AzureOption) *AzureStore {
	s := &AzureStore{
		threshold:        DefaultThreshold,
		nowFn:            time.Now,
		client:           &http.Client{Timeout: 10 * time.Second},
		identityEndpoint: defaultIdentityEndpoint,
		diag:             make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSharedKeyStore wraps an explicit account and raw shared key; terminal,
// never refreshed.
func NewSharedKeyStore(account string, key []byte) *AzureStore {
	s := NewAzureStore(WithAccount(account))
	s.staticKey = key
	return s
}

// NewTokenStore wraps an explicit bearer or SAS token; terminal, never
// refreshed.
func NewTokenStore(account, token string) *AzureStore {
	s := NewAzureStore(WithAccount(account))
	s.staticToken = token
	return s
}

// GetCurrent returns a snapshot valid for signing right now, resolving on
// first use and refreshing inline near expiry. Same locking contract as the
// AWS store.
func (s *AzureStore) GetCurrent(ctx context.Context) (AzureCredentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.resolved {
		if err := s.resolveLocked(ctx); err != nil {
			return AzureCredentials{}, err
		}
		return s.current, nil
	}

	if expired(s.nowFn(), s.current.Expires, s.threshold) && s.refresh != nil {
		fresh, err := s.refresh(ctx)
		if err != nil {
			return AzureCredentials{}, &RefreshError{Source: s.current.Source, Err: err}
		}
		s.current = fresh
		s.diag["refreshed_at"] = s.nowFn().UTC().Format(time.RFC3339)
	}
	return s.current, nil
}

// Diagnostics returns a copy of the resolution state.
func (s *AzureStore) Diagnostics() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.diag))
	for k, v := range s.diag {
		out[k] = v
	}
	return out
}

func (s *AzureStore) resolveLocked(ctx context.Context) error {
	if s.account != "" && len(s.staticKey) > 0 {
		s.current = AzureCredentials{Account: s.account, Key: s.staticKey, Source: "static-key"}
		s.resolved = true
		s.diag["source"] = "static-key"
		return nil
	}
	if s.account != "" && s.staticToken != "" {
		s.current = AzureCredentials{Account: s.account, Token: s.staticToken, Source: "static-token"}
		s.resolved = true
		s.diag["source"] = "static-token"
		return nil
	}

	sources := []struct {
		name string
		fn   azureResolveFunc
	}{
		{"env", s.resolveEnv},
		{"identity", s.resolveManagedIdentity},
	}
	for _, src := range sources {
		cred, err := src.fn(ctx)
		if err != nil {
			s.diag["error."+src.name] = err.Error()
			continue
		}
		if !cred.Usable() {
			continue
		}
		s.current = cred
		s.resolved = true
		if !cred.Expires.IsZero() {
			s.refresh = src.fn
		}
		s.diag["source"] = cred.Source
		if !cred.Expires.IsZero() {
			s.diag["expires"] = cred.Expires.UTC().Format(time.RFC3339)
		}
		return nil
	}
	return ErrNoSource
}

// resolveEnv reads the standard storage environment variables. The key is
// base64 as distributed by the provider portal.
func (s *AzureStore) resolveEnv(ctx context.Context) (AzureCredentials, error) {
	account := s.account
	if account == "" {
		account = os.Getenv("AZURE_STORAGE_ACCOUNT")
	}
	if account == "" {
		return AzureCredentials{}, fmt.Errorf("no storage account configured")
	}

	if raw := os.Getenv("AZURE_STORAGE_KEY"); raw != "" {
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return AzureCredentials{}, fmt.Errorf("AZURE_STORAGE_KEY is not valid base64: %w", err)
		}
		return AzureCredentials{Account: account, Key: key, Source: "env-key"}, nil
	}
	if tok := os.Getenv("AZURE_STORAGE_SAS_TOKEN"); tok != "" {
		return AzureCredentials{Account: account, Token: tok, Source: "env-sas"}, nil
	}
	return AzureCredentials{}, fmt.Errorf("no key material in environment for account %q", account)
}

// identityTokenBody is the JSON served by the managed-identity endpoint.
type identityTokenBody struct {
	AccessToken string `json:"access_token"`
	ExpiresOn   string `json:"expires_on"` // unix seconds, as a string
}

// resolveManagedIdentity exchanges the machine identity for a storage-scoped
// bearer token. The returned expiry drives the refresh cycle.
func (s *AzureStore) resolveManagedIdentity(ctx context.Context) (AzureCredentials, error) {
	account := s.account
	if account == "" {
		account = os.Getenv("AZURE_STORAGE_ACCOUNT")
	}
	if account == "" {
		return AzureCredentials{}, fmt.Errorf("managed identity requires a storage account name")
	}

	q := url.Values{}
	q.Set("api-version", "2018-02-01")
	q.Set("resource", storageResource)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.identityEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return AzureCredentials{}, err
	}
	req.Header.Set("Metadata", "true")

	resp, err := s.client.Do(req)
	if err != nil {
		return AzureCredentials{}, fmt.Errorf("identity endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return AzureCredentials{}, fmt.Errorf("identity endpoint returned %s", resp.Status)
	}

	var body identityTokenBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return AzureCredentials{}, fmt.Errorf("decoding identity token: %w", err)
	}
	if body.AccessToken == "" {
		return AzureCredentials{}, fmt.Errorf("identity endpoint returned an empty token")
	}

	var expires time.Time
	if sec, err := strconv.ParseInt(body.ExpiresOn, 10, 64); err == nil {
		expires = time.Unix(sec, 0)
	}
	return AzureCredentials{
		Account: account,
		Token:   body.AccessToken,
		Expires: expires,
		Source:  "managed-identity",
	}, nil
}
