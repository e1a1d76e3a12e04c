package sign

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	algorithmV4     = "AWS4-HMAC-SHA256"
	requestSuffix   = "aws4_request"
	amzDateFormat   = "20060102T150405Z"
	shortDateFormat = "20060102"

	// EmptyBodySHA256 is hex(sha256("")), the content hash of a request
	// without a body.
	EmptyBodySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	// UnsignedPayload is the content hash used by presigned URLs, where the
	// body is not known at signing time.
	UnsignedPayload = "UNSIGNED-PAYLOAD"

	amzDateHeader       = "X-Amz-Date"
	amzContentSHAHeader = "X-Amz-Content-Sha256"
	amzTokenHeader      = "X-Amz-Security-Token"
)

var (
	// ErrRegionRequired is returned when neither the signer nor the request
	// host yields a region/service pair.
	ErrRegionRequired = errors.New("sign: region and service required and not inferable from host")

	// ErrStreamingBody is returned for requests whose body cannot be fully
	// materialized; the content hash needs the complete payload.
	ErrStreamingBody = errors.New("sign: streaming request body is not supported, body must be fully buffered")
)

// Credentials is the immutable snapshot a signer works from.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// V4Signer signs requests with AWS Signature Version 4.
//
// Region and Service may be left empty when they can be inferred from the
// request host (standard *.amazonaws.com layouts). NoContentSHA256 leaves the
// x-amz-content-sha256 header unset; S3-style services require it, most other
// services do not use it.
type V4Signer struct {
	Credentials     Credentials
	Region          string
	Service         string
	NoContentSHA256 bool
}

// DeriveKey runs the four-step HMAC chain that turns the long-term secret
// into the signing key for one date/region/service scope. It is cheap and is
// recomputed for every signature.
func DeriveKey(secret, date, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(date))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte(requestSuffix))
}

// InferRegionService recovers the region and service from standard AWS host
// layouts: <service>.<region>.amazonaws.com, <bucket>.s3.<region>.amazonaws.com
// and the legacy s3.amazonaws.com.
func InferRegionService(host string) (region, service string, ok bool) {
	host = strings.ToLower(host)
	if h, _, found := strings.Cut(host, ":"); found {
		host = h
	}
	if !strings.HasSuffix(host, ".amazonaws.com") {
		return "", "", false
	}
	labels := strings.Split(strings.TrimSuffix(host, ".amazonaws.com"), ".")
	switch {
	case len(labels) == 1 && labels[0] == "s3":
		return "us-east-1", "s3", true
	case len(labels) >= 2 && strings.HasPrefix(labels[len(labels)-2], "s3"):
		// virtual-hosted bucket: <bucket>.s3.<region>
		return labels[len(labels)-1], "s3", true
	case len(labels) == 2:
		return labels[1], labels[0], true
	}
	return "", "", false
}

func (s *V4Signer) resolveScope(req *http.Request) (region, service string, err error) {
	region, service = s.Region, s.Service
	if region != "" && service != "" {
		return region, service, nil
	}
	if r, svc, ok := InferRegionService(requestHost(req)); ok {
		if region == "" {
			region = r
		}
		if service == "" {
			service = svc
		}
		return region, service, nil
	}
	return "", "", ErrRegionRequired
}

// Sign computes the SigV4 signature over req with body as the full payload
// and sets the Authorization header in place. The x-amz-date header is added
// when absent; when present its value becomes the signing timestamp, so a
// retried request must clear it to get a fresh one.
func (s *V4Signer) Sign(req *http.Request, body []byte, now time.Time) error {
	region, service, err := s.resolveScope(req)
	if err != nil {
		return err
	}
	if body == nil && req.Body != nil && req.ContentLength < 0 {
		return ErrStreamingBody
	}

	amzDate := req.Header.Get(amzDateHeader)
	if amzDate == "" {
		amzDate = now.UTC().Format(amzDateFormat)
		req.Header.Set(amzDateHeader, amzDate)
	} else if len(amzDate) < len(shortDateFormat) {
		return fmt.Errorf("sign: malformed %s header %q", amzDateHeader, amzDate)
	}
	if s.Credentials.SessionToken != "" {
		req.Header.Set(amzTokenHeader, s.Credentials.SessionToken)
	}

	payloadHash := req.Header.Get(amzContentSHAHeader)
	if payloadHash == "" {
		if len(body) == 0 {
			payloadHash = EmptyBodySHA256
		} else {
			payloadHash = sha256Hex(body)
		}
		if !s.NoContentSHA256 {
			req.Header.Set(amzContentSHAHeader, payloadHash)
		}
	}

	headerBlock, signedHeaders := canonicalHeaders(req.Header, requestHost(req))
	canonicalReq := strings.Join([]string{
		req.Method,
		encodePath(req.URL.Path),
		canonicalQuery(queryPairs(req.URL.RawQuery)),
		headerBlock,
		signedHeaders,
		payloadHash,
	}, "\n")

	scope := strings.Join([]string{amzDate[:8], region, service, requestSuffix}, "/")
	stringToSign := strings.Join([]string{
		algorithmV4,
		amzDate,
		scope,
		sha256Hex([]byte(canonicalReq)),
	}, "\n")

	key := DeriveKey(s.Credentials.SecretAccessKey, amzDate[:8], region, service)
	signature := hex.EncodeToString(hmacSHA256(key, []byte(stringToSign)))

	req.Header.Set("Authorization", fmt.Sprintf(
		"%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		algorithmV4, s.Credentials.AccessKeyID, scope, signedHeaders, signature))
	return nil
}

// Presign returns a copy of the request URL carrying query-string
// authentication valid for the expires window. The request itself is not
// mutated. The payload is unsigned, as the body is not known when the URL is
// later used.
func (s *V4Signer) Presign(req *http.Request, expires time.Duration, now time.Time) (*url.URL, error) {
	region, service, err := s.resolveScope(req)
	if err != nil {
		return nil, err
	}

	amzDate := now.UTC().Format(amzDateFormat)
	scope := strings.Join([]string{amzDate[:8], region, service, requestSuffix}, "/")

	pairs := queryPairs(req.URL.RawQuery)
	pairs = append(pairs,
		queryPair{"X-Amz-Algorithm", algorithmV4},
		queryPair{"X-Amz-Credential", s.Credentials.AccessKeyID + "/" + scope},
		queryPair{"X-Amz-Date", amzDate},
		queryPair{"X-Amz-Expires", strconv.Itoa(int(expires / time.Second))},
		queryPair{"X-Amz-SignedHeaders", "host"},
	)
	if s.Credentials.SessionToken != "" {
		pairs = append(pairs, queryPair{"X-Amz-Security-Token", s.Credentials.SessionToken})
	}

	host := requestHost(req)
	canonicalReq := strings.Join([]string{
		req.Method,
		encodePath(req.URL.Path),
		canonicalQuery(pairs),
		"host:" + collapseSpaces(host) + "\n",
		"host",
		UnsignedPayload,
	}, "\n")

	stringToSign := strings.Join([]string{
		algorithmV4,
		amzDate,
		scope,
		sha256Hex([]byte(canonicalReq)),
	}, "\n")

	key := DeriveKey(s.Credentials.SecretAccessKey, amzDate[:8], region, service)
	signature := hex.EncodeToString(hmacSHA256(key, []byte(stringToSign)))

	signed := *req.URL
	signed.RawQuery = canonicalQuery(pairs) + "&X-Amz-Signature=" + signature
	return &signed, nil
}
