// Package transport hooks the signers into an HTTP client. The Signer is an
// http.RoundTripper wrapper that signs each outgoing request immediately
// before it is handed to the underlying transport, so timestamps are fresh
// and every retry is re-signed with a current credential snapshot.
package transport

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chukul/cloudsign/internal/azure"
	"github.com/chukul/cloudsign/internal/creds"
	"github.com/chukul/cloudsign/internal/sign"
)

// Provider selects the signing scheme. The set is closed; dispatch is an
// exhaustive switch.
type Provider string

const (
	ProviderAWS   Provider = "aws"
	ProviderAWSV2 Provider = "awsv2"
	ProviderAzure Provider = "azure"
)

// ParseProvider maps a flag value onto a Provider.
func ParseProvider(s string) (Provider, error) {
	switch Provider(strings.ToLower(s)) {
	case ProviderAWS:
		return ProviderAWS, nil
	case ProviderAWSV2:
		return ProviderAWSV2, nil
	case ProviderAzure:
		return ProviderAzure, nil
	}
	return "", fmt.Errorf("transport: unknown provider %q (want aws, awsv2 or azure)", s)
}

// Signer signs requests in flight. The zero Base falls back to
// http.DefaultTransport; Clock defaults to time.Now and exists so tests can
// pin timestamps.
type Signer struct {
	Base     http.RoundTripper
	Provider Provider
	AWS      *creds.AWSStore
	Azure    *creds.AzureStore

	// Region/Service feed SigV4 when they cannot be inferred from the host.
	Region  string
	Service string

	// APIVersion is the SigV2 Version parameter.
	APIVersion string

	// NoContentSHA256 keeps x-amz-content-sha256 off non-S3 requests.
	NoContentSHA256 bool

	Clock func() time.Time

	insecureOnce sync.Once
	insecure     *http.Transport
}

// RoundTrip clones the request, pulls a current credential snapshot (which
// may block on an inline refresh), signs the clone and forwards it. The
// caller's request is never mutated, so a retried request passes through here
// again and picks up a fresh timestamp and snapshot.
func (t *Signer) RoundTrip(req *http.Request) (*http.Response, error) {
	now := time.Now
	if t.Clock != nil {
		now = t.Clock
	}

	out := req.Clone(req.Context())
	body, err := materializeBody(req)
	if err != nil {
		return nil, err
	}
	if body != nil {
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.ContentLength = int64(len(body))
	}

	switch t.Provider {
	case ProviderAWS:
		cred, err := t.AWS.GetCurrent(req.Context())
		if err != nil {
			return nil, err
		}
		v4 := &sign.V4Signer{
			Credentials:     snapshot(cred),
			Region:          t.Region,
			Service:         t.Service,
			NoContentSHA256: t.NoContentSHA256,
		}
		if err := v4.Sign(out, body, now()); err != nil {
			return nil, err
		}

	case ProviderAWSV2:
		cred, err := t.AWS.GetCurrent(req.Context())
		if err != nil {
			return nil, err
		}
		v2 := &sign.V2Signer{Credentials: snapshot(cred), APIVersion: t.APIVersion}
		if err := t.signV2(v2, out, body, now()); err != nil {
			return nil, err
		}

	case ProviderAzure:
		cred, err := t.Azure.GetCurrent(req.Context())
		if err != nil {
			return nil, err
		}
		if err := signAzure(out, cred, now()); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("transport: no signer for provider %q", t.Provider)
	}

	return t.base(out.URL.Hostname()).RoundTrip(out)
}

func (t *Signer) signV2(v2 *sign.V2Signer, out *http.Request, body []byte, now time.Time) error {
	if out.Method == http.MethodPost {
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return fmt.Errorf("transport: sigv2 POST body is not form-encoded: %w", err)
		}
		return v2.SignForm(out, form, now)
	}
	return v2.SignQuery(out, now)
}

func signAzure(out *http.Request, cred creds.AzureCredentials, now time.Time) error {
	switch {
	case len(cred.Key) > 0:
		return azure.SignSharedKey(out, cred.Account, cred.Key, now)
	case strings.Contains(cred.Token, "sig="):
		// SAS token: delegation rides in the query string, no header needed.
		sas := strings.TrimPrefix(cred.Token, "?")
		if out.URL.RawQuery == "" {
			out.URL.RawQuery = sas
		} else {
			out.URL.RawQuery += "&" + sas
		}
		return nil
	case cred.Token != "":
		out.Header.Set("Authorization", "Bearer "+cred.Token)
		if out.Header.Get("x-ms-version") == "" {
			out.Header.Set("x-ms-version", azure.ServiceVersion)
		}
		if out.Header.Get("x-ms-date") == "" {
			out.Header.Set("x-ms-date", now.UTC().Format(http.TimeFormat))
		}
		return nil
	}
	return fmt.Errorf("transport: azure snapshot carries no key or token")
}

func snapshot(c creds.AWSCredentials) sign.Credentials {
	return sign.Credentials{
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		SessionToken:    c.SessionToken,
	}
}

// materializeBody buffers the full request payload; the signing algorithms
// need the complete bytes to hash. Unknown-length bodies without GetBody are
// rejected rather than half-read.
func materializeBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	rc := req.Body
	if req.GetBody != nil {
		fresh, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		rc = fresh
	} else if req.ContentLength < 0 {
		return nil, sign.ErrStreamingBody
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// base picks the underlying transport. TLS verification is dropped only for
// loopback hosts, so a local emulator with a self-signed certificate works;
// any other host always verifies. The insecure variant is built once and
// reused, cloned from Base when Base is an *http.Transport so its settings
// carry over.
func (t *Signer) base(hostname string) http.RoundTripper {
	if isLoopback(hostname) {
		t.insecureOnce.Do(func() {
			tr, ok := t.Base.(*http.Transport)
			if ok {
				tr = tr.Clone()
			} else {
				tr = &http.Transport{}
			}
			if tr.TLSClientConfig == nil {
				tr.TLSClientConfig = &tls.Config{}
			}
			tr.TLSClientConfig.InsecureSkipVerify = true
			t.insecure = tr
		})
		return t.insecure
	}
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func isLoopback(hostname string) bool {
	if hostname == "localhost" {
		return true
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
