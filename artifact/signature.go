// Copyright 2023 Northern.tech AS
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

package artifact

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"math/big"

	"github.com/pkg/errors"
)

// SignaturePolicy selects whether a manifest signature is required.
type SignaturePolicy int

const (
	// PolicyVerify requires a detached signature to be present and to
	// validate against at least one configured public key.
	PolicyVerify SignaturePolicy = iota
	// PolicySkip disables signature presence and validation entirely.
	PolicySkip
)

const ecdsaP256KeySize = 32

// Verifier validates a message against a detached signature using a single
// public key.
type Verifier interface {
	Verify(message, sig []byte) error
}

// pkiVerifier implements Verifier over an X.509-encoded RSA or ECDSA P-256
// public key, matching the two algorithms the server-side signer supports.
type pkiVerifier struct {
	key interface{}
}

// NewVerifier parses a PEM-encoded X.509 public key (RSA or ECDSA P-256)
// and returns a Verifier bound to it.
func NewVerifier(publicKeyPEM []byte) (Verifier, error) {
	block, _ := pem.Decode(publicKeyPEM)
	if block == nil {
		return nil, errors.New("artifact: failed to parse PEM-encoded public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "artifact: failed to parse encoded public key")
	}
	switch pub.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey:
		return &pkiVerifier{key: pub}, nil
	default:
		return nil, errors.Errorf("artifact: unsupported public key type: %T", pub)
	}
}

func (v *pkiVerifier) Verify(message, sig []byte) error {
	dec := make([]byte, base64.StdEncoding.DecodedLen(len(sig)))
	n, err := base64.StdEncoding.Decode(dec, sig)
	if err != nil {
		return errors.Wrap(err, "artifact: error decoding signature")
	}
	dec = dec[:n]
	h := sha256.Sum256(message)

	switch key := v.key.(type) {
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(key, crypto.SHA256, h[:], dec)
	case *ecdsa.PublicKey:
		if len(dec) != 2*ecdsaP256KeySize {
			return errors.Errorf("artifact: invalid ecdsa signature size: %d", len(dec))
		}
		r := big.NewInt(0).SetBytes(dec[:ecdsaP256KeySize])
		s := big.NewInt(0).SetBytes(dec[ecdsaP256KeySize:])
		if !ecdsa.Verify(key, h[:], r, s) {
			return errors.New("artifact: ecdsa signature verification failed")
		}
		return nil
	default:
		return errors.Errorf("artifact: unsupported public key type: %T", key)
	}
}

// VerifySignature validates digest against sig using the first of keys
// that succeeds. At least one key must verify; errors from individual keys
// are collected and returned combined only when every key fails.
func VerifySignature(digest, sig []byte, keys []Verifier) error {
	if len(keys) == 0 {
		return errors.New("artifact: no public keys configured for signature verification")
	}
	var errs []string
	for _, key := range keys {
		if err := key.Verify(digest, sig); err == nil {
			return nil
		} else {
			errs = append(errs, err.Error())
		}
	}
	return newIntegrityError("signature verification failed with all %d configured key(s): %v",
		len(keys), errs)
}
