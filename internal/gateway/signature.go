package gateway

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/paymentsys/txnengine/internal/models"
)

// Digest selects the hash applied to the canonical string. The legacy wire
// format uses MD5; new integrations should configure SHA-256.
type Digest string

const (
	DigestMD5    Digest = "md5"
	DigestSHA256 Digest = "sha256"
)

// SignatureFields is the field set covered by a signature. Extra parameters
// are included as sorted key=value pairs.
type SignatureFields struct {
	MerchantLogin string
	Amount        decimal.Decimal
	OrderID       string
	Extra         map[string]string
}

// CanonicalString builds the exact string hashed by Sign:
//
//	merchant:amount:orderID[:k=v ...]:secret
//
// with the amount formatted to two decimals and extra keys sorted ascending.
// The string contains no timestamps or nonces, so identical fields always
// produce identical signatures and the gateway can verify without shared
// mutable state.
func CanonicalString(fields SignatureFields, secret string) string {
	parts := []string{
		fields.MerchantLogin,
		fields.Amount.StringFixed(2),
		fields.OrderID,
	}

	if len(fields.Extra) > 0 {
		keys := make([]string, 0, len(fields.Extra))
		for k := range fields.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", k, fields.Extra[k]))
		}
	}

	parts = append(parts, secret)
	return strings.Join(parts, ":")
}

// Sign hashes the canonical string and returns the lowercase hex digest.
func Sign(fields SignatureFields, secret string, digest Digest) string {
	canonical := CanonicalString(fields, secret)
	switch digest {
	case DigestSHA256:
		sum := sha256.Sum256([]byte(canonical))
		return hex.EncodeToString(sum[:])
	default:
		sum := md5.Sum([]byte(canonical))
		return hex.EncodeToString(sum[:])
	}
}

// Verify checks a provided signature against the inbound secret first, then
// falls back to the outbound secret for older configurations. The comparison
// is constant-time. It returns which secret matched for audit logging, or
// models.ErrSignatureMismatch when neither does.
func Verify(fields SignatureFields, provided, inboundSecret, outboundSecret string, digest Digest) (models.SecretRole, error) {
	provided = strings.ToLower(provided)

	if equalConstantTime(provided, Sign(fields, inboundSecret, digest)) {
		return models.SecretInbound, nil
	}
	if equalConstantTime(provided, Sign(fields, outboundSecret, digest)) {
		return models.SecretOutbound, nil
	}
	return "", fmt.Errorf("%w: order %s", models.ErrSignatureMismatch, fields.OrderID)
}

func equalConstantTime(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
