// Package sigv4 assembles AWS Signature Version 4 canonical requests and
// Authorization headers for the PutMedia and control-plane REST calls.
package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	kvserrors "github.com/alxayo/kvs-producer/internal/errors"
)

const (
	algorithm = "AWS4-HMAC-SHA256"
	terminator = "aws4_request"

	// amzDateLen is len("20060102T150405Z"), the fixed width of the
	// x-amz-date value this signer expects.
	amzDateLen   = 16
	shortDateLen = 8
)

// headerOrder is the fixed alphabetical participation order for canonical
// headers; only headers actually present on the outgoing request are
// included.
var headerOrder = []string{
	"connection",
	"host",
	"transfer-encoding",
	"user-agent",
	"x-amz-date",
	"x-amz-security-token",
	"x-amzn-fragment-acknowledgment-required",
	"x-amzn-fragment-timecode-type",
	"x-amzn-producer-start-timestamp",
	"x-amzn-stream-name",
}

// Credentials holds the access key triple used to sign a request; Token is
// the session token, empty when none is in use.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	Token           string
}

// Request is the minimal shape of an outbound HTTP request needed to
// compute a SigV4 signature: method, URI path, query string, and the
// subset of headers that participate in signing.
type Request struct {
	Method  string
	URI     string
	Query   string
	Headers map[string]string // lower-cased header names
	Body    []byte
}

// Signer computes Authorization headers for a fixed region/service pair.
type Signer struct {
	Region  string
	Service string
}

// New returns a Signer for the given region and service (e.g. "us-west-2",
// "kinesisvideo").
func New(region, service string) *Signer {
	return &Signer{Region: region, Service: service}
}

// Sign computes the Authorization header value for req, signed at amzDate
// (the exact ISO-8601 value also placed in the request's x-amz-date
// header, YYYYMMDD'T'HHMMSS'Z').
func (s *Signer) Sign(req Request, amzDate string, creds Credentials) (string, error) {
	if len(amzDate) != amzDateLen {
		return "", kvserrors.NewSigV4Error("sigv4.Sign", errInvalidDate{amzDate})
	}
	shortDate := amzDate[:shortDateLen]

	signedHeaders, canonicalHeaders := canonicalizeHeaders(req.Headers)
	bodyHash := hexSHA256(req.Body)

	canonicalRequest := strings.Join([]string{
		req.Method,
		req.URI,
		req.Query,
		canonicalHeaders, // each header line already ends in "\n"
		signedHeaders,
		bodyHash,
	}, "\n")

	scope := strings.Join([]string{shortDate, s.Region, s.Service, terminator}, "/")
	stringToSign := strings.Join([]string{
		algorithm,
		amzDate,
		scope,
		hexSHA256([]byte(canonicalRequest)),
	}, "\n")

	signingKey, err := deriveSigningKey(creds.SecretAccessKey, shortDate, s.Region, s.Service)
	if err != nil {
		return "", err
	}
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	auth := algorithm + " Credential=" + creds.AccessKeyID + "/" + scope +
		", SignedHeaders=" + signedHeaders + ", Signature=" + signature
	return auth, nil
}

// canonicalizeHeaders returns the signed-header list and the canonical
// header block, in headerOrder, restricted to headers present in hdrs.
func canonicalizeHeaders(hdrs map[string]string) (signedHeaders, canonicalHeaders string) {
	var present []string
	for _, name := range headerOrder {
		if _, ok := hdrs[name]; ok {
			present = append(present, name)
		}
	}
	sort.Strings(present) // headerOrder is already alphabetical; kept for safety

	var sb strings.Builder
	for _, name := range present {
		sb.WriteString(name)
		sb.WriteByte(':')
		sb.WriteString(strings.TrimSpace(hdrs[name]))
		sb.WriteByte('\n')
	}
	return strings.Join(present, ";"), sb.String()
}

func deriveSigningKey(secret, shortDate, region, service string) ([]byte, error) {
	if secret == "" {
		return nil, kvserrors.NewSigV4Error("sigv4.deriveSigningKey", errEmptySecret{})
	}
	kDate := hmacSHA256([]byte("AWS4"+secret), shortDate)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, terminator), nil
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func hexSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type errInvalidDate struct{ value string }

func (e errInvalidDate) Error() string { return "sigv4: malformed x-amz-date value " + e.value }

type errEmptySecret struct{}

func (errEmptySecret) Error() string { return "sigv4: empty secret access key" }
