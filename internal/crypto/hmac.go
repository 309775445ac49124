package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// Request signing headers.
const (
	HeaderTimestamp = "X-Ledger-Timestamp"
	HeaderSignature = "X-Ledger-Signature"
)

// RequestMAC authenticates HTTP requests from relays sharing Secret. The
// signature is base64(HMAC-SHA256(secret, timestamp+method+path+body)).
type RequestMAC struct {
	Secret string
	// MaxSkew bounds how far the request timestamp may be from now.
	MaxSkew time.Duration
}

// Headers returns the signing headers for a request made at unixTS.
func (m RequestMAC) Headers(method, path string, body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderTimestamp: ts,
		HeaderSignature: m.sign(ts, method, path, body),
	}
}

// Verify checks a request's timestamp and signature.
func (m RequestMAC) Verify(method, path string, body []byte, timestamp, signature string, now time.Time) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("crypto/hmac: bad timestamp %q: %w", timestamp, domain.ErrInvalidSignature)
	}
	if m.MaxSkew > 0 {
		skew := now.Sub(time.Unix(ts, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > m.MaxSkew {
			return fmt.Errorf("crypto/hmac: timestamp skew %s: %w", skew, domain.ErrInvalidSignature)
		}
	}
	want := m.sign(timestamp, method, path, body)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return fmt.Errorf("crypto/hmac: signature mismatch: %w", domain.ErrInvalidSignature)
	}
	return nil
}

func (m RequestMAC) sign(ts, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(m.Secret))
	mac.Write([]byte(ts + method + path))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (m RequestMAC) String() string {
	s := "****"
	if len(m.Secret) > 4 {
		s = m.Secret[:4] + "****"
	}
	return fmt.Sprintf("RequestMAC{secret=%s}", s)
}
