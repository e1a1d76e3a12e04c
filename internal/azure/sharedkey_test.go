package azure

import (
	"encoding/base64"
	"net/http"
	"strings"
	"testing"
	"time"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func buildBlobRequest(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequest("PUT",
		"https://myaccount.blob.core.windows.net/container/blob.txt?comp=metadata&restype=container", nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("x-ms-date", "Mon, 31 Aug 2015 10:00:00 GMT")
	req.Header.Set("x-ms-version", "2020-10-02")
	req.Header.Set("x-ms-meta-note", "  folded   value ")
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Range", "bytes=0-1023")
	return req
}

func TestSharedKeyStringToSign(t *testing.T) {
	req := buildBlobRequest(t)

	want := strings.Join([]string{
		"PUT",
		"",           // Content-Encoding
		"",           // Content-Language
		"",           // Content-Length
		"",           // Content-MD5
		"text/plain", // Content-Type
		"",           // Date: empty because x-ms-date is set
		"",           // If-Modified-Since
		"",           // If-Match
		"",           // If-None-Match
		"",           // If-Unmodified-Since
		"bytes=0-1023",
		"x-ms-date:Mon, 31 Aug 2015 10:00:00 GMT",
		"x-ms-meta-note:folded value",
		"x-ms-version:2020-10-02",
		"/myaccount/container/blob.txt\ncomp:metadata\nrestype:container",
	}, "\n")

	if got := sharedKeyStringToSign(req, "myaccount"); got != want {
		t.Errorf("string-to-sign mismatch.\nGot:\n%q\nWant:\n%q", got, want)
	}
}

func TestSignSharedKey(t *testing.T) {
	req := buildBlobRequest(t)
	if err := SignSharedKey(req, "myaccount", testKey, time.Now()); err != nil {
		t.Fatalf("SignSharedKey failed: %v", err)
	}

	wantSig := base64.StdEncoding.EncodeToString(
		hmacSHA256(testKey, []byte(sharedKeyStringToSign(req, "myaccount"))))
	want := "SharedKey myaccount:" + wantSig
	if got := req.Header.Get("Authorization"); got != want {
		t.Errorf("Authorization = %q, want %q", got, want)
	}
}

func TestSignSharedKeySetsDateAndVersion(t *testing.T) {
	req, _ := http.NewRequest("GET", "https://myaccount.blob.core.windows.net/container?restype=container&comp=list", nil)
	at := time.Date(2015, 8, 31, 10, 0, 0, 0, time.UTC)
	if err := SignSharedKey(req, "myaccount", testKey, at); err != nil {
		t.Fatalf("SignSharedKey failed: %v", err)
	}
	if got := req.Header.Get("x-ms-date"); got != "Mon, 31 Aug 2015 10:00:00 GMT" {
		t.Errorf("x-ms-date = %q", got)
	}
	if got := req.Header.Get("x-ms-version"); got != ServiceVersion {
		t.Errorf("x-ms-version = %q, want %q", got, ServiceVersion)
	}
}

func TestSharedKeyContentLengthZeroIsEmpty(t *testing.T) {
	req, _ := http.NewRequest("PUT", "https://myaccount.blob.core.windows.net/container/empty", nil)
	req.Header.Set("x-ms-date", "Mon, 31 Aug 2015 10:00:00 GMT")
	req.Header.Set("Content-Length", "0")

	sts := sharedKeyStringToSign(req, "myaccount")
	if strings.Contains(sts, "\n0\n") {
		t.Errorf("zero Content-Length must canonicalize to an empty slot:\n%q", sts)
	}
}

func TestSignSharedKeyIdempotent(t *testing.T) {
	first := buildBlobRequest(t)
	second := buildBlobRequest(t)
	at := time.Date(2015, 8, 31, 10, 0, 0, 0, time.UTC)
	if err := SignSharedKey(first, "myaccount", testKey, at); err != nil {
		t.Fatalf("first sign: %v", err)
	}
	if err := SignSharedKey(second, "myaccount", testKey, at); err != nil {
		t.Fatalf("second sign: %v", err)
	}
	if a, b := first.Header.Get("Authorization"), second.Header.Get("Authorization"); a != b {
		t.Errorf("signing is not idempotent:\n%s\n%s", a, b)
	}
}
