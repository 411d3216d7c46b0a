// Package signing implements local key generation, message signing and
// signature verification for did:ra:ed25519 identities. It is pure: no IO,
// no stored state.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/RegistryAccord/registryaccord-cli-go/internal/errs"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/model"
)

// DIDPrefix is the method prefix of all identities produced here.
const DIDPrefix = "did:ra:ed25519:"

// GenerateKeypair produces a fresh Ed25519 keypair and its derived DID.
// Generation is never seeded from user input; it fails only when the
// entropy source fails, which is fatal and not retryable.
func GenerateKeypair() (model.Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return model.Identity{}, errs.Wrap(errs.KindValidation, "generate keypair", err)
	}
	return model.Identity{
		DID:       DeriveDID(pub),
		PublicKey: pub,
		SecretKey: priv,
	}, nil
}

// DeriveDID derives the deterministic DID string for a public key.
func DeriveDID(pub ed25519.PublicKey) string {
	return DIDPrefix + base58.Encode(pub)
}

// Sign produces a deterministic Ed25519 signature over message. The secret
// key length is validated before use so malformed key material surfaces as
// an error rather than a panic.
func Sign(message []byte, secretKey ed25519.PrivateKey) ([]byte, error) {
	if len(secretKey) != ed25519.PrivateKeySize {
		return nil, errs.New(errs.KindValidation,
			fmt.Sprintf("secret key must be %d bytes, got %d", ed25519.PrivateKeySize, len(secretKey)))
	}
	return ed25519.Sign(secretKey, message), nil
}

// Verify checks signature over message against publicKey. A malformed
// signature yields (false, nil) so callers can treat it as an ordinary
// verification failure; a wrong-length public key is a distinct validation
// error so callers can tell "signature invalid" from "input malformed".
func Verify(message, signature []byte, publicKey ed25519.PublicKey) (bool, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return false, errs.New(errs.KindValidation,
			fmt.Sprintf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(publicKey)))
	}
	if len(signature) != ed25519.SignatureSize {
		return false, nil
	}
	return ed25519.Verify(publicKey, message, signature), nil
}

// SessionChallenge builds the canonical message signed during session
// issuance. The identity service verifies exactly this concatenation.
func SessionChallenge(nonce, audience, did string) []byte {
	return []byte(nonce + "|" + audience + "|" + did)
}
