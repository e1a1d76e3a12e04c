package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strings"
)

// Headers that must never be part of a signature.
var ignoredHeaders = map[string]bool{
	"authorization":   true,
	"user-agent":      true,
	"x-amzn-trace-id": true,
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// encodeRFC3986 percent-encodes everything except unreserved characters.
// Space becomes %20, never '+'. Both signing protocols require this stricter
// rule set; net/url's query encoding would break the signature.
func encodeRFC3986(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteString(strings.ToUpper(hex.EncodeToString([]byte{c})))
		}
	}
	return b.String()
}

// encodePath encodes a URL path for the canonical request, keeping the
// segment separators intact. An empty path canonicalizes to "/".
func encodePath(path string) string {
	if path == "" {
		return "/"
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = encodeRFC3986(seg)
	}
	return strings.Join(segments, "/")
}

type queryPair struct {
	key, value string
}

// canonicalQuery builds the sorted, strictly encoded query string. Pairs are
// ordered by key, ties broken by value, both compared after encoding.
func canonicalQuery(pairs []queryPair) string {
	encoded := make([]queryPair, len(pairs))
	for i, p := range pairs {
		encoded[i] = queryPair{encodeRFC3986(p.key), encodeRFC3986(p.value)}
	}
	sort.Slice(encoded, func(i, j int) bool {
		if encoded[i].key != encoded[j].key {
			return encoded[i].key < encoded[j].key
		}
		return encoded[i].value < encoded[j].value
	})
	parts := make([]string, len(encoded))
	for i, p := range encoded {
		parts[i] = p.key + "=" + p.value
	}
	return strings.Join(parts, "&")
}

// queryPairs flattens a raw query string into ordered key/value pairs without
// losing duplicate keys. Values are decoded so canonicalQuery can re-encode
// them under the strict rules.
func queryPairs(rawQuery string) []queryPair {
	var pairs []queryPair
	for _, kv := range strings.Split(rawQuery, "&") {
		if kv == "" {
			continue
		}
		k, v, _ := strings.Cut(kv, "=")
		pairs = append(pairs, queryPair{unescape(k), unescape(v)})
	}
	return pairs
}

func unescape(s string) string {
	if !strings.ContainsAny(s, "%+") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '+':
			b.WriteByte(' ')
		case s[i] == '%' && i+2 < len(s):
			if d, err := hex.DecodeString(s[i+1 : i+3]); err == nil {
				b.WriteByte(d[0])
				i += 2
				continue
			}
			b.WriteByte(s[i])
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// collapseSpaces trims the value and folds runs of whitespace into a single
// space, as required before a header value enters the canonical headers block.
func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// canonicalHeaders returns the canonical headers block (trailing newline
// included) and the semicolon-joined signed headers list. Every header on the
// request is signed except the ignored set; host is always included.
func canonicalHeaders(header http.Header, host string) (string, string) {
	names := make([]string, 0, len(header)+1)
	values := make(map[string][]string, len(header)+1)

	names = append(names, "host")
	values["host"] = []string{collapseSpaces(host)}

	for name, vals := range header {
		lower := strings.ToLower(name)
		if ignoredHeaders[lower] || lower == "host" {
			continue
		}
		if _, seen := values[lower]; !seen {
			names = append(names, lower)
		}
		for _, v := range vals {
			values[lower] = append(values[lower], collapseSpaces(v))
		}
	}
	sort.Strings(names)

	var block strings.Builder
	for _, name := range names {
		block.WriteString(name)
		block.WriteByte(':')
		block.WriteString(strings.Join(values[name], ","))
		block.WriteByte('\n')
	}
	return block.String(), strings.Join(names, ";")
}

// requestHost picks the host that will appear on the wire.
func requestHost(req *http.Request) string {
	if req.Host != "" {
		return req.Host
	}
	return req.URL.Host
}
