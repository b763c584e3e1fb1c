package subscription

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Signature header format, following the provider's documented scheme:
//
//	t=<unix seconds>,v1=<hex HMAC-SHA256(secret, "<t>.<raw body>")>
//
// The signature covers the raw, unparsed request body. Verification must
// happen before any JSON decoding so unverified data is never processed.

// SignPayload produces a signature header for the given payload at the given
// time. Exercised by tests and by outbound webhook simulation tooling.
func SignPayload(secret string, payload []byte, at time.Time) (string, error) {
	if secret == "" {
		return "", ErrMissingSecret
	}
	if len(payload) == 0 {
		return "", fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}

	ts := at.Unix()
	mac := computeSignature(secret, payload, ts)
	return fmt.Sprintf("t=%d,v1=%s", ts, mac), nil
}

// VerifySignature validates a signature header against the raw payload.
// The timestamp is bound into the signed material and checked against the
// tolerance window to prevent replay of captured deliveries. Comparison is
// constant-time.
func VerifySignature(secret string, payload []byte, header string, tolerance time.Duration, now time.Time) error {
	if secret == "" {
		return ErrMissingSecret
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}

	ts, sig, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	if tolerance > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age > tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
		}
		// Allow modest clock skew but reject far-future timestamps.
		if age < -time.Minute {
			return fmt.Errorf("%w: timestamp in the future", ErrInvalidSignature)
		}
	}

	expected := computeSignature(secret, payload, ts)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
	}

	return nil
}

func computeSignature(secret string, payload []byte, ts int64) string {
	h := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(h, "%d.", ts)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func parseSignatureHeader(header string) (ts int64, sig string, err error) {
	if header == "" {
		return 0, "", fmt.Errorf("%w: missing signature header", ErrInvalidSignature)
	}

	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, "", fmt.Errorf("%w: malformed timestamp", ErrInvalidSignature)
			}
		case "v1":
			sig = v
		}
	}

	if ts == 0 || sig == "" {
		return 0, "", fmt.Errorf("%w: incomplete signature header", ErrInvalidSignature)
	}
	return ts, sig, nil
}
