package sign

import (
	"bytes"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Signature Version 2 is kept for the legacy query-API services that never
// moved to SigV4. The signature covers an ordered parameter string, not the
// headers or body hash.
const (
	signatureVersion2 = "2"
	signatureMethod2  = "HmacSHA256"
	timeFormatV2      = "2006-01-02T15:04:05"
)

// V2Signer signs query-API requests with the legacy AWS Signature Version 2.
// APIVersion is the service API version sent as the Version parameter; it is
// only added when the caller did not supply one.
type V2Signer struct {
	Credentials Credentials
	APIVersion  string
}

// mergeV2Params folds the protocol parameters into the caller's set, sorts by
// key with ties broken on value, and returns the ordered pairs. Caller
// parameters win over defaults.
func (s *V2Signer) mergeV2Params(pairs []queryPair, now time.Time) []queryPair {
	have := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		have[p.key] = true
	}
	add := func(k, v string) {
		if !have[k] && v != "" {
			pairs = append(pairs, queryPair{k, v})
		}
	}
	add("AWSAccessKeyId", s.Credentials.AccessKeyID)
	add("SignatureMethod", signatureMethod2)
	add("SignatureVersion", signatureVersion2)
	add("Timestamp", now.UTC().Format(timeFormatV2))
	add("Version", s.APIVersion)
	add("SecurityToken", s.Credentials.SessionToken)

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})
	return pairs
}

func (s *V2Signer) signParams(method, host, path string, pairs []queryPair) (string, string) {
	if path == "" {
		path = "/"
	}
	encoded := make([]string, len(pairs))
	for i, p := range pairs {
		encoded[i] = encodeRFC3986(p.key) + "=" + encodeRFC3986(p.value)
	}
	paramString := strings.Join(encoded, "&")

	stringToSign := strings.Join([]string{
		method,
		strings.ToLower(host),
		path,
		paramString,
	}, "\n")

	mac := hmacSHA256([]byte(s.Credentials.SecretAccessKey), []byte(stringToSign))
	return paramString, base64.StdEncoding.EncodeToString(mac)
}

// SignQuery signs a GET-style request, replacing the request target's query
// string with the sorted parameter set plus the trailing Signature parameter.
func (s *V2Signer) SignQuery(req *http.Request, now time.Time) error {
	pairs := s.mergeV2Params(queryPairs(req.URL.RawQuery), now)
	paramString, sig := s.signParams(req.Method, requestHost(req), req.URL.Path, pairs)
	req.URL.RawQuery = paramString + "&Signature=" + encodeRFC3986(sig)
	return nil
}

// SignForm signs a POST-style request over the given form parameters and
// replaces the request body with the signed form encoding.
func (s *V2Signer) SignForm(req *http.Request, form url.Values, now time.Time) error {
	var pairs []queryPair
	for key, vals := range form {
		for _, v := range vals {
			pairs = append(pairs, queryPair{key, v})
		}
	}
	pairs = s.mergeV2Params(pairs, now)
	paramString, sig := s.signParams(req.Method, requestHost(req), req.URL.Path, pairs)

	body := paramString + "&Signature=" + encodeRFC3986(sig)
	req.Body = io.NopCloser(bytes.NewReader([]byte(body)))
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	req.Header.Set("Content-Length", strconv.Itoa(len(body)))
	return nil
}
