// Package billing implements purchase initiation and payment confirmation
// against the FreeKassa hosted-checkout gateway, plus the entitlement grant
// applied once a payment is confirmed.
package billing

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"arcana/internal/config"
)

// ProviderFreeKassa identifies the gateway in payment records.
const ProviderFreeKassa = "freekassa"

// Gateway computes FreeKassa's MD5 signatures and builds hosted-checkout
// URLs. The gateway protocol fixes MD5 as the MAC; the two secret words are
// never interchangeable: the first signs initiation, the second signs the
// confirmation callback.
type Gateway struct {
	merchantID  string
	secretWord1 string
	secretWord2 string
	payBaseURL  string
}

// NewGateway creates a Gateway from billing configuration.
func NewGateway(cfg config.BillingConfig) *Gateway {
	return &Gateway{
		merchantID:  cfg.MerchantID,
		secretWord1: cfg.SecretWord1.Unmask(),
		secretWord2: cfg.SecretWord2.Unmask(),
		payBaseURL:  cfg.PayBaseURL,
	}
}

// FormatAmount renders minor currency units as the gateway's two-decimal
// string ("300.00"). Initiation signs EXACTLY this rendering; any other
// formatting produces a signature the gateway rejects.
func FormatAmount(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

// InitiationSignature computes the checkout-link signature:
// md5(merchant:amount:secret1:currency:orderID) with the amount in
// two-decimal form.
func (g *Gateway) InitiationSignature(amount, currency, orderID string) string {
	return md5Hex(strings.Join([]string{g.merchantID, amount, g.secretWord1, currency, orderID}, ":"))
}

// ConfirmationSignature computes the callback signature over the merchant id
// and amount strings EXACTLY as the gateway sent them:
// md5(merchantID:amount:secret2:orderID). Signing received fields rather than
// configured ones means mutating any signed field of the callback, the
// merchant id included, invalidates the digest.
func (g *Gateway) ConfirmationSignature(merchantID, amount, orderID string) string {
	return md5Hex(strings.Join([]string{merchantID, amount, g.secretWord2, orderID}, ":"))
}

// VerifyConfirmation checks a callback's SIGN field against the expected
// confirmation signature. Comparison is case-insensitive on the hex digest
// and constant-time.
func (g *Gateway) VerifyConfirmation(merchantID, amount, orderID, sign string) bool {
	expected := g.ConfirmationSignature(merchantID, amount, orderID)
	got := strings.ToLower(sign)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

// PayURL builds the hosted-checkout URL the visitor is redirected to.
func (g *Gateway) PayURL(amount, currency, orderID string) (string, error) {
	u, err := url.Parse(g.payBaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid pay base URL: %w", err)
	}
	q := u.Query()
	q.Set("m", g.merchantID)
	q.Set("oa", amount)
	q.Set("o", orderID)
	q.Set("s", g.InitiationSignature(amount, currency, orderID))
	q.Set("currency", currency)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
