package providers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// DefaultSignatureTolerance bounds how old a signed webhook may be.
const DefaultSignatureTolerance = 5 * time.Minute

// SignedHeader is a parsed "t=...,v1=..." signature header.
type SignedHeader struct {
	Timestamp  string
	Signatures [][]byte
}

// ParseSignatureHeader splits a comma separated key=value header. Several
// v1 entries are allowed so secrets can be rotated.
func ParseSignatureHeader(header string) (SignedHeader, bool) {
	var out SignedHeader
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			out.Timestamp = value
		case "v1":
			sig, err := hex.DecodeString(strings.ToLower(value))
			if err != nil || len(sig) == 0 {
				continue
			}
			out.Signatures = append(out.Signatures, sig)
		}
	}
	if out.Timestamp == "" || len(out.Signatures) == 0 {
		return SignedHeader{}, false
	}
	return out, true
}

// Sign computes the hex HMAC-SHA256 of "{timestamp}.{payload}".
func Sign(payload []byte, timestamp, secret string) string {
	return hex.EncodeToString(computeSignature(payload, timestamp, secret))
}

// SignatureHeaderValue builds a header accepted by VerifySignature.
func SignatureHeaderValue(payload []byte, ts time.Time, secret string) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + t + ",v1=" + Sign(payload, t, secret)
}

// VerifySignature checks the header against payload in constant time. A
// missing or malformed header, an empty secret, or a timestamp outside the
// tolerance window all fail. A zero tolerance disables the age check.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) bool {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return false
	}
	parsed, ok := ParseSignatureHeader(header)
	if !ok {
		return false
	}
	if tolerance > 0 {
		unix, err := strconv.ParseInt(parsed.Timestamp, 10, 64)
		if err != nil {
			return false
		}
		age := now.Sub(time.Unix(unix, 0))
		if age > tolerance || age < -tolerance {
			return false
		}
	}

	expected := computeSignature(payload, parsed.Timestamp, secret)
	for _, sig := range parsed.Signatures {
		if hmac.Equal(expected, sig) {
			return true
		}
	}
	return false
}

func computeSignature(payload []byte, timestamp, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}
