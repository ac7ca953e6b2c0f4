// Copyright 2021 Northern.tech AS
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
package store

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"io/ioutil"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/pkg/errors"
)

const RsaKeyLength = 3072

var (
	errNoKeys    = errors.New("no keys")
	errStaticKey = errors.New("device key is configured as static; refusing to regenerate")
)

// Keystore is the authmanager process's private key cache. Unlike the
// updater's legacy keystore.Keystore, this one additionally understands
// "static" keys: a key supplied out of band in mender.conf's
// HttpsClient.Key/Security.AuthPrivateKey rather than generated and persisted
// by the client itself, which must never be regenerated or overwritten.
type Keystore struct {
	store      Store
	keyPath    string
	sslEngine  string
	static     bool
	passphrase string

	private *rsa.PrivateKey
}

// NewKeystore returns a Keystore that loads/saves its private key through the
// given keyPath entry of store. When static is true the key is treated as
// externally managed: Generate()/Save() refuse to touch it.
func NewKeystore(store Store, keyPath, sslEngine string, static bool, passphrase string) *Keystore {
	if store == nil {
		return nil
	}
	return &Keystore{
		store:      store,
		keyPath:    keyPath,
		sslEngine:  sslEngine,
		static:     static,
		passphrase: passphrase,
	}
}

func (k *Keystore) Load() error {
	if k.sslEngine != "" {
		return errors.Errorf(
			"private key %q is backed by SSL engine %q; loading engine-backed "+
				"keys requires cgo OpenSSL engine bindings not vendored here",
			k.keyPath, k.sslEngine)
	}

	var data []byte
	var err error
	if k.static {
		data, err = ioutil.ReadFile(k.keyPath)
	} else {
		var in interface {
			Read([]byte) (int, error)
			Close() error
		}
		in, err = k.store.OpenRead(k.keyPath)
		if err == nil {
			defer in.Close()
			data, err = ioutil.ReadAll(in)
		}
	}
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug("authmanager: private key does not exist")
			return errNoKeys
		}
		return err
	}

	k.private, err = loadFromPem(data, k.passphrase)
	if err != nil {
		log.Errorf("authmanager: failed to load key: %s", err)
		return err
	}
	return nil
}

func (k *Keystore) Save() error {
	if k.static {
		return errStaticKey
	}
	if k.private == nil {
		return errNoKeys
	}

	out, err := k.store.OpenWrite(k.keyPath)
	if err != nil {
		return err
	}
	if err := saveToPem(out, k.private); err != nil {
		out.Close()
		log.Errorf("authmanager: failed to save key: %s", err)
		return err
	}
	out.Close()
	return out.Commit()
}

func (k *Keystore) Generate() error {
	if k.static {
		return errStaticKey
	}
	key, err := rsa.GenerateKey(rand.Reader, RsaKeyLength)
	if err != nil {
		return err
	}
	k.private = key
	return nil
}

func (k *Keystore) Private() *rsa.PrivateKey {
	return k.private
}

func (k *Keystore) Public() crypto.PublicKey {
	if k.private != nil {
		return k.private.Public()
	}
	return nil
}

func (k *Keystore) PublicPEM() (string, error) {
	data, err := x509.MarshalPKIXPublicKey(k.Public())
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal public key")
	}
	buf := &bytes.Buffer{}
	err = pem.Encode(buf, &pem.Block{Type: "PUBLIC KEY", Bytes: data})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode public key to PEM")
	}
	return buf.String(), nil
}

func (k *Keystore) Sign(data []byte) ([]byte, error) {
	hash := crypto.SHA256
	h := hash.New()
	h.Write(data)
	return rsa.SignPKCS1v15(rand.Reader, k.private, hash, h.Sum(nil))
}

func IsNoKeys(e error) bool {
	return errors.Cause(e) == errNoKeys
}

func IsStaticKey(e error) bool {
	return errors.Cause(e) == errStaticKey
}

func loadFromPem(data []byte, passphrase string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	blockBytes := block.Bytes
	if passphrase != "" {
		decrypted, err := x509.DecryptPEMBlock(block, []byte(passphrase))
		if err != nil {
			return nil, errors.Wrap(err, "failed to decrypt private key")
		}
		blockBytes = decrypted
	}

	return x509.ParsePKCS1PrivateKey(blockBytes)
}

func saveToPem(w interface{ Write([]byte) (int, error) }, key *rsa.PrivateKey) error {
	data := x509.MarshalPKCS1PrivateKey(key)
	return pem.Encode(w, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: data})
}
