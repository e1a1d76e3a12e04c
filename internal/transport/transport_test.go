package transport

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/chukul/cloudsign/internal/creds"
	"github.com/chukul/cloudsign/internal/sign"
)

var fixedClock = func() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestParseProvider(t *testing.T) {
	cases := []struct {
		in      string
		want    Provider
		wantErr bool
	}{
		{"aws", ProviderAWS, false},
		{"AWS", ProviderAWS, false},
		{"awsv2", ProviderAWSV2, false},
		{"azure", ProviderAzure, false},
		{"gcp", "", true},
		{"", "", true},
	}
	for _, c := range cases {
		got, err := ParseProvider(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseProvider(%q) accepted an unknown provider", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseProvider(%q) failed: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseProvider(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestIsLoopback(t *testing.T) {
	cases := []struct {
		host string
		want bool
	}{
		{"localhost", true},
		{"127.0.0.1", true},
		{"::1", true},
		{"10.0.0.5", false},
		{"s3.amazonaws.com", false},
	}
	for _, c := range cases {
		if got := isLoopback(c.host); got != c.want {
			t.Errorf("isLoopback(%q) = %v, want %v", c.host, got, c.want)
		}
	}
}

func TestRoundTripSignsV4(t *testing.T) {
	payload := []byte(`{"hello":"world"}`)
	var seenAuth, seenDate, seenHash string
	var seenBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		seenDate = r.Header.Get("X-Amz-Date")
		seenHash = r.Header.Get("X-Amz-Content-Sha256")
		seenBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	signer := &Signer{
		Provider: ProviderAWS,
		AWS:      creds.NewStaticAWSStore("AKIDEXAMPLE", "secret", ""),
		Region:   "us-east-1",
		Service:  "s3",
		Clock:    fixedClock,
	}
	client := &http.Client{Transport: signer}

	req, err := http.NewRequest("PUT", server.URL+"/bucket/key.json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if !strings.HasPrefix(seenAuth, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20240601/us-east-1/s3/aws4_request") {
		t.Errorf("Authorization = %q", seenAuth)
	}
	if seenDate != "20240601T120000Z" {
		t.Errorf("X-Amz-Date = %q", seenDate)
	}
	if seenHash == "" {
		t.Error("missing X-Amz-Content-Sha256 on an s3 request")
	}
	if !bytes.Equal(seenBody, payload) {
		t.Errorf("server received altered body: %q", seenBody)
	}
}

func TestRoundTripDoesNotMutateCaller(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	signer := &Signer{
		Provider: ProviderAWS,
		AWS:      creds.NewStaticAWSStore("AKIDEXAMPLE", "secret", ""),
		Region:   "us-east-1",
		Service:  "execute-api",
		Clock:    fixedClock,
	}

	req, _ := http.NewRequest("GET", server.URL+"/resource", nil)
	resp, err := signer.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip failed: %v", err)
	}
	resp.Body.Close()

	if req.Header.Get("Authorization") != "" || req.Header.Get("X-Amz-Date") != "" {
		t.Errorf("caller's request was mutated: %v", req.Header)
	}

	// A second pass re-signs with the current clock, so a retry is never
	// replayed with a stale timestamp.
	signer.Clock = func() time.Time { return fixedClock().Add(time.Hour) }
	resp, err = signer.RoundTrip(req)
	if err != nil {
		t.Fatalf("second RoundTrip failed: %v", err)
	}
	resp.Body.Close()
}

func TestRoundTripSignsV2Query(t *testing.T) {
	var seenQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenQuery = r.URL.Query()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	signer := &Signer{
		Provider:   ProviderAWSV2,
		AWS:        creds.NewStaticAWSStore("AKIDEXAMPLE", "secret", ""),
		APIVersion: "2009-03-31",
		Clock:      fixedClock,
	}
	req, _ := http.NewRequest("GET", server.URL+"/?Action=DescribeJobFlows", nil)
	resp, err := signer.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip failed: %v", err)
	}
	resp.Body.Close()

	if seenQuery.Get("Signature") == "" {
		t.Error("missing Signature parameter")
	}
	if seenQuery.Get("AWSAccessKeyId") != "AKIDEXAMPLE" {
		t.Errorf("AWSAccessKeyId = %q", seenQuery.Get("AWSAccessKeyId"))
	}
	if seenQuery.Get("SignatureVersion") != "2" {
		t.Errorf("SignatureVersion = %q", seenQuery.Get("SignatureVersion"))
	}
}

func TestRoundTripSignsAzureSharedKey(t *testing.T) {
	var seenAuth, seenDate, seenVersion string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		seenDate = r.Header.Get("x-ms-date")
		seenVersion = r.Header.Get("x-ms-version")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	signer := &Signer{
		Provider: ProviderAzure,
		Azure:    creds.NewSharedKeyStore("testaccount", []byte("0123456789abcdef0123456789abcdef")),
		Clock:    fixedClock,
	}
	req, _ := http.NewRequest("GET", server.URL+"/container?restype=container&comp=list", nil)
	resp, err := signer.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip failed: %v", err)
	}
	resp.Body.Close()

	if !strings.HasPrefix(seenAuth, "SharedKey testaccount:") {
		t.Errorf("Authorization = %q", seenAuth)
	}
	if seenDate == "" || seenVersion == "" {
		t.Errorf("missing x-ms headers: date=%q version=%q", seenDate, seenVersion)
	}
}

func TestRoundTripAppendsSASToken(t *testing.T) {
	var seenQuery url.Values
	var seenAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenQuery = r.URL.Query()
		seenAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	signer := &Signer{
		Provider: ProviderAzure,
		Azure:    creds.NewTokenStore("testaccount", "sv=2020-10-02&sp=rl&sig=abc123"),
		Clock:    fixedClock,
	}
	req, _ := http.NewRequest("GET", server.URL+"/container/blob.txt?snapshot=2024", nil)
	resp, err := signer.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip failed: %v", err)
	}
	resp.Body.Close()

	if seenAuth != "" {
		t.Errorf("SAS delegation must not set Authorization: %q", seenAuth)
	}
	if seenQuery.Get("sig") != "abc123" {
		t.Errorf("sig parameter missing: %v", seenQuery)
	}
	if seenQuery.Get("snapshot") != "2024" {
		t.Errorf("caller's query parameters were lost: %v", seenQuery)
	}
}

func TestRoundTripRejectsStreamingBody(t *testing.T) {
	signer := &Signer{
		Provider: ProviderAWS,
		AWS:      creds.NewStaticAWSStore("AKIDEXAMPLE", "secret", ""),
		Region:   "us-east-1",
		Service:  "s3",
	}
	req, _ := http.NewRequest("PUT", "https://example.com/object", nil)
	req.Body = io.NopCloser(strings.NewReader("unbounded"))
	req.GetBody = nil
	req.ContentLength = -1

	if _, err := signer.RoundTrip(req); !errors.Is(err, sign.ErrStreamingBody) {
		t.Errorf("expected ErrStreamingBody, got %v", err)
	}
}

func TestLoopbackTransportReusedAndInheritsBase(t *testing.T) {
	custom := &http.Transport{MaxIdleConns: 7}
	signer := &Signer{Base: custom}

	first := signer.base("127.0.0.1")
	second := signer.base("localhost")
	if first != second {
		t.Error("loopback transport rebuilt between requests")
	}

	tr, ok := first.(*http.Transport)
	if !ok {
		t.Fatalf("loopback transport has type %T", first)
	}
	if tr == custom {
		t.Error("caller's transport mutated instead of cloned")
	}
	if tr.MaxIdleConns != 7 {
		t.Errorf("clone dropped base settings: MaxIdleConns = %d", tr.MaxIdleConns)
	}
	if tr.TLSClientConfig == nil || !tr.TLSClientConfig.InsecureSkipVerify {
		t.Error("loopback transport must skip TLS verification")
	}

	if got := signer.base("s3.amazonaws.com"); got != custom {
		t.Errorf("non-loopback host must use the configured base, got %T", got)
	}
}

func TestRoundTripUnknownProvider(t *testing.T) {
	signer := &Signer{Provider: "gcp"}
	req, _ := http.NewRequest("GET", "https://example.com/", nil)
	if _, err := signer.RoundTrip(req); err == nil {
		t.Error("expected an error for an unknown provider")
	}
}
