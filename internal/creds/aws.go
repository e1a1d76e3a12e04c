package creds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// ecsEndpointHost is the fixed link-local address serving task credentials
// inside container environments.
const ecsEndpointHost = "http://169.254.170.2"

// AWSCredentials is an immutable snapshot handed to signers. A zero Expires
// means the credential never expires and is never refreshed.
type AWSCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expires         time.Time
	Source          string
}

// Usable reports whether the snapshot can sign a request.
func (c AWSCredentials) Usable() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

type awsResolveFunc func(ctx context.Context) (AWSCredentials, error)

// AWSStore resolves AWS credentials on first use and keeps them valid.
// All snapshot reads and refresh writes are serialized by one mutex, so
// concurrent signers either see the old snapshot or the fully replaced one,
// and at most one refresh is in flight at a time.
type AWSStore struct {
	mu       sync.Mutex
	current  AWSCredentials
	resolved bool
	refresh  awsResolveFunc // re-runs the source that produced current; nil for terminal sources

	static       *AWSCredentials
	profile      string
	region       string
	threshold    time.Duration
	nowFn        func() time.Time
	client       *http.Client
	ecsEndpoint  string
	imdsEndpoint string
	diag         map[string]string
}

// AWSOption configures an AWSStore.
type AWSOption func(*AWSStore)

// WithProfile selects a named shared-config profile instead of the default.
func WithProfile(name string) AWSOption {
	return func(s *AWSStore) { s.profile = name }
}

// WithRegion sets the region used for the STS role-assumption call when the
// profile does not carry one.
func WithRegion(region string) AWSOption {
	return func(s *AWSStore) { s.region = region }
}

// WithThreshold overrides the refresh lead time.
func WithThreshold(d time.Duration) AWSOption {
	return func(s *AWSStore) { s.threshold = d }
}

// WithClock injects a deterministic clock for tests.
func WithClock(now func() time.Time) AWSOption {
	return func(s *AWSStore) { s.nowFn = now }
}

// WithHTTPClient replaces the client used for metadata endpoints.
func WithHTTPClient(c *http.Client) AWSOption {
	return func(s *AWSStore) { s.client = c }
}

// WithECSEndpoint overrides the task-metadata base URL (tests, emulators).
func WithECSEndpoint(u string) AWSOption {
	return func(s *AWSStore) { s.ecsEndpoint = u }
}

// WithIMDSEndpoint overrides the instance-metadata service URL.
func WithIMDSEndpoint(u string) AWSOption {
	return func(s *AWSStore) { s.imdsEndpoint = u }
}

// NewAWSStore builds a store that resolves through the source chain on first
// GetCurrent call: shared-config profile merged with environment overrides,
// role assumption when the profile names one, then the ECS task and EC2
// instance metadata endpoints.
func NewAWSStore(opts ...AWSOption) *AWSStore {
	s := &AWSStore{
		threshold:   DefaultThreshold,
		nowFn:       time.Now,
		client:      &http.Client{Timeout: 10 * time.Second},
		ecsEndpoint: ecsEndpointHost,
		diag:        make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewStaticAWSStore wraps explicit key material. Static credentials are
// terminal: they are never refreshed and never expire.
func NewStaticAWSStore(accessKeyID, secretAccessKey, sessionToken string) *AWSStore {
	s := NewAWSStore()
	s.static = &AWSCredentials{
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
		SessionToken:    sessionToken,
		Source:          "static",
	}
	return s
}

// GetCurrent returns a snapshot valid for signing right now. It resolves on
// first use and blocks the caller through an inline refresh when the current
// snapshot is inside the expiry threshold. A failed refresh keeps the old
// snapshot in place and surfaces the error to this caller only.
func (s *AWSStore) GetCurrent(ctx context.Context) (AWSCredentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.resolved {
		if err := s.resolveLocked(ctx); err != nil {
			return AWSCredentials{}, err
		}
		return s.current, nil
	}

	// Re-check under the lock: a goroutine that queued behind a refresh sees
	// the new snapshot here and skips its own refresh.
	if expired(s.nowFn(), s.current.Expires, s.threshold) && s.refresh != nil {
		fresh, err := s.refresh(ctx)
		if err != nil {
			return AWSCredentials{}, &RefreshError{Source: s.current.Source, Err: err}
		}
		s.current = fresh
		s.diag["refreshed_at"] = s.nowFn().UTC().Format(time.RFC3339)
	}
	return s.current, nil
}

// Diagnostics returns a copy of the resolution state for status output and
// tests. The live map is owned by the store and never escapes.
func (s *AWSStore) Diagnostics() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.diag))
	for k, v := range s.diag {
		out[k] = v
	}
	return out
}

func (s *AWSStore) resolveLocked(ctx context.Context) error {
	if s.static != nil {
		s.current = *s.static
		s.resolved = true
		s.diag["source"] = "static"
		return nil
	}

	sources := []struct {
		name string
		fn   awsResolveFunc
	}{
		{"profile", s.resolveProfile},
		{"ecs", s.resolveECS},
		{"ec2", s.resolveIMDS},
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

// resolveProfile reads the shared config/credentials files for the selected
// profile and lays environment variables over the result. When the profile
// names a role to assume, the merged credentials become the source for an STS
// exchange.
func (s *AWSStore) resolveProfile(ctx context.Context) (AWSCredentials, error) {
	profile := s.profile
	if profile == "" {
		profile = os.Getenv("AWS_PROFILE")
	}
	if profile == "" {
		profile = "default"
	}

	var base AWSCredentials
	var roleARN, sourceProfile string
	region := s.region

	sc, err := config.LoadSharedConfigProfile(ctx, profile)
	if err == nil {
		base.AccessKeyID = sc.Credentials.AccessKeyID
		base.SecretAccessKey = sc.Credentials.SecretAccessKey
		base.SessionToken = sc.Credentials.SessionToken
		roleARN = sc.RoleARN
		sourceProfile = sc.SourceProfileName
		if region == "" {
			region = sc.Region
		}
	}

	// Environment overrides win over file values.
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		base.AccessKeyID = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		base.SecretAccessKey = v
	}
	if v := os.Getenv("AWS_SESSION_TOKEN"); v != "" {
		base.SessionToken = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" && region == "" {
		region = v
	}

	if roleARN != "" {
		s.diag["role_arn"] = roleARN
		s.diag["profile"] = profile
		return s.assumeRole(ctx, base, sourceProfile, roleARN, region, profile)
	}
	if !base.Usable() {
		return AWSCredentials{}, fmt.Errorf("profile %q has no key material", profile)
	}
	base.Source = "profile:" + profile
	return base, nil
}

// assumeRole exchanges the source credentials for temporary ones. The
// returned expiration drives the store's refresh cycle.
func (s *AWSStore) assumeRole(ctx context.Context, base AWSCredentials, sourceProfile, roleARN, region, sessionName string) (AWSCredentials, error) {
	var cfg aws.Config
	var err error

	if base.Usable() {
		cfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				base.AccessKeyID,
				base.SecretAccessKey,
				base.SessionToken,
			)),
		)
	} else {
		cfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(region),
			config.WithSharedConfigProfile(sourceProfile),
		)
	}
	if err != nil {
		return AWSCredentials{}, fmt.Errorf("loading source config: %w", err)
	}

	svc := sts.NewFromConfig(cfg)
	duration := int32(3600)
	name := "cloudsign-" + sessionName
	out, err := svc.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         &roleARN,
		RoleSessionName: &name,
		DurationSeconds: &duration,
	})
	if err != nil {
		return AWSCredentials{}, fmt.Errorf("assuming role %s: %w", roleARN, err)
	}

	return AWSCredentials{
		AccessKeyID:     *out.Credentials.AccessKeyId,
		SecretAccessKey: *out.Credentials.SecretAccessKey,
		SessionToken:    *out.Credentials.SessionToken,
		Expires:         *out.Credentials.Expiration,
		Source:          "role:" + roleARN,
	}, nil
}

// ecsCredentialBody is the JSON shape served by the task-metadata endpoint.
type ecsCredentialBody struct {
	AccessKeyID     string    `json:"AccessKeyId"`
	SecretAccessKey string    `json:"SecretAccessKey"`
	Token           string    `json:"Token"`
	Expiration      time.Time `json:"Expiration"`
}

// resolveECS fetches temporary credentials from the container task-metadata
// endpoint, advertised through the standard environment variables.
func (s *AWSStore) resolveECS(ctx context.Context) (AWSCredentials, error) {
	uri := os.Getenv("AWS_CONTAINER_CREDENTIALS_FULL_URI")
	if uri == "" {
		rel := os.Getenv("AWS_CONTAINER_CREDENTIALS_RELATIVE_URI")
		if rel == "" {
			return AWSCredentials{}, fmt.Errorf("not running in a container credential environment")
		}
		uri = strings.TrimSuffix(s.ecsEndpoint, "/") + rel
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return AWSCredentials{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return AWSCredentials{}, fmt.Errorf("task metadata endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return AWSCredentials{}, fmt.Errorf("task metadata endpoint returned %s", resp.Status)
	}

	var body ecsCredentialBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return AWSCredentials{}, fmt.Errorf("decoding task credentials: %w", err)
	}
	return AWSCredentials{
		AccessKeyID:     body.AccessKeyID,
		SecretAccessKey: body.SecretAccessKey,
		SessionToken:    body.Token,
		Expires:         body.Expiration,
		Source:          "ecs",
	}, nil
}

// resolveIMDS fetches temporary credentials for the instance role from the
// EC2 instance-metadata service.
func (s *AWSStore) resolveIMDS(ctx context.Context) (AWSCredentials, error) {
	opts := imds.Options{}
	if s.imdsEndpoint != "" {
		opts.Endpoint = s.imdsEndpoint
	}
	client := imds.New(opts)

	role, err := readMetadata(ctx, client, "iam/security-credentials/")
	if err != nil {
		return AWSCredentials{}, fmt.Errorf("instance metadata endpoint: %w", err)
	}
	role = strings.TrimSpace(role)
	if role == "" {
		return AWSCredentials{}, fmt.Errorf("instance has no IAM role")
	}

	raw, err := readMetadata(ctx, client, "iam/security-credentials/"+role)
	if err != nil {
		return AWSCredentials{}, fmt.Errorf("reading role credentials: %w", err)
	}

	var body ecsCredentialBody
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return AWSCredentials{}, fmt.Errorf("decoding instance credentials: %w", err)
	}
	return AWSCredentials{
		AccessKeyID:     body.AccessKeyID,
		SecretAccessKey: body.SecretAccessKey,
		SessionToken:    body.Token,
		Expires:         body.Expiration,
		Source:          "ec2:" + role,
	}, nil
}

func readMetadata(ctx context.Context, client *imds.Client, path string) (string, error) {
	out, err := client.GetMetadata(ctx, &imds.GetMetadataInput{Path: path})
	if err != nil {
		return "", err
	}
	defer out.Content.Close()
	b, err := io.ReadAll(out.Content)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
