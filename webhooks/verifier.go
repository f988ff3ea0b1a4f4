package webhooks

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/goliatone/go-wxopen/core"
)

// Verifier checks the query signature of a delivery against its ciphertext.
type Verifier interface {
	Verify(ctx context.Context, crypter core.MessageCrypter, req Request, encrypted string) error
}

type plaintextPolicy interface {
	AcceptsPlaintext() bool
}

// MsgSignatureVerifier validates msg_signature when it is present. With
// Required set a missing signature is rejected too, and so are plaintext
// deliveries.
type MsgSignatureVerifier struct {
	Required bool
}

func (v MsgSignatureVerifier) Verify(_ context.Context, crypter core.MessageCrypter, req Request, encrypted string) error {
	signature := strings.TrimSpace(req.MsgSignature)
	if signature == "" {
		if v.Required {
			return webhooksError("webhooks: msg_signature is required", map[string]any{"tenant_id": req.TenantID})
		}
		return nil
	}
	if crypter == nil {
		return core.ConfigurationError("webhooks: message crypter is required to verify signatures", nil)
	}
	expected := crypter.Signature(req.Timestamp, req.Nonce, encrypted)
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(signature)), []byte(expected)) != 1 {
		return webhooksError("webhooks: signature verification failed", map[string]any{"tenant_id": req.TenantID})
	}
	return nil
}

func (v MsgSignatureVerifier) AcceptsPlaintext() bool {
	return !v.Required
}

var _ Verifier = MsgSignatureVerifier{}
var _ plaintextPolicy = MsgSignatureVerifier{}
