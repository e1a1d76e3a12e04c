// Package azure implements the Azure Storage SharedKey request signature and
// Shared Access Signature (SAS) generation for blob endpoints.
package azure

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"sort"
	"strings"
	"time"
)

const (
	// ServiceVersion is the x-ms-version sent when the caller did not pick one.
	ServiceVersion = "2020-10-02"

	dateHeader    = "x-ms-date"
	versionHeader = "x-ms-version"
)

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// SignSharedKey computes the SharedKey signature for req and sets the
// Authorization header in place. x-ms-date and x-ms-version are added when
// absent. key is the raw (already base64-decoded) account key.
func SignSharedKey(req *http.Request, account string, key []byte, now time.Time) error {
	if req.Header.Get(dateHeader) == "" {
		req.Header.Set(dateHeader, now.UTC().Format(http.TimeFormat))
	}
	if req.Header.Get(versionHeader) == "" {
		req.Header.Set(versionHeader, ServiceVersion)
	}

	stringToSign := sharedKeyStringToSign(req, account)
	sig := base64.StdEncoding.EncodeToString(hmacSHA256(key, []byte(stringToSign)))
	req.Header.Set("Authorization", "SharedKey "+account+":"+sig)
	return nil
}

// sharedKeyStringToSign builds the multi-line string the SharedKey scheme
// signs: the verb, the fixed standard-header slots (empty string when the
// header is absent), the canonicalized x-ms-* headers and the canonicalized
// resource.
func sharedKeyStringToSign(req *http.Request, account string) string {
	get := func(name string) string {
		return strings.TrimSpace(req.Header.Get(name))
	}

	// Content-Length is an empty slot when zero; the header carries the
	// length even when http.Request keeps it out of Header.
	contentLength := get("Content-Length")
	if contentLength == "0" {
		contentLength = ""
	}

	// The Date slot is empty whenever x-ms-date is set, which SignSharedKey
	// guarantees; the date then rides in the canonicalized headers instead.
	date := get("Date")
	if get(dateHeader) != "" {
		date = ""
	}

	fields := []string{
		req.Method,
		get("Content-Encoding"),
		get("Content-Language"),
		contentLength,
		get("Content-MD5"),
		get("Content-Type"),
		date,
		get("If-Modified-Since"),
		get("If-Match"),
		get("If-None-Match"),
		get("If-Unmodified-Since"),
		get("Range"),
	}
	return strings.Join(fields, "\n") + "\n" +
		canonicalizedHeaders(req.Header) +
		canonicalizedResource(account, req.URL.Path, req.URL.Query())
}

// canonicalizedHeaders folds every x-ms-* header into "name:value\n" lines,
// names lower-cased and sorted, values trimmed with line breaks collapsed.
func canonicalizedHeaders(header http.Header) string {
	var names []string
	values := make(map[string]string)
	for name, vals := range header {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, "x-ms-") {
			continue
		}
		cleaned := make([]string, len(vals))
		for i, v := range vals {
			cleaned[i] = strings.Join(strings.Fields(v), " ")
		}
		names = append(names, lower)
		values[lower] = strings.Join(cleaned, ",")
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(values[name])
		b.WriteByte('\n')
	}
	return b.String()
}

// canonicalizedResource is "/<account><path>" followed by each query
// parameter as "\nname:value", names lower-cased and sorted, multiple values
// sorted and comma-joined.
func canonicalizedResource(account, path string, query map[string][]string) string {
	var b strings.Builder
	b.WriteByte('/')
	b.WriteString(account)
	if path == "" {
		b.WriteByte('/')
	} else {
		b.WriteString(path)
	}

	names := make([]string, 0, len(query))
	lowered := make(map[string][]string, len(query))
	for name, vals := range query {
		lower := strings.ToLower(name)
		if _, seen := lowered[lower]; !seen {
			names = append(names, lower)
		}
		lowered[lower] = append(lowered[lower], vals...)
	}
	sort.Strings(names)

	for _, name := range names {
		vals := lowered[name]
		sort.Strings(vals)
		b.WriteByte('\n')
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(strings.Join(vals, ","))
	}
	return b.String()
}
