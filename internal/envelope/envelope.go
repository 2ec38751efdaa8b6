// Package envelope parses, verifies and installs signed package envelopes.
//
// An envelope is a 16-byte header followed by a PEM public key, an RSA
// PKCS#1 v1.5 signature over the SHA-1 digest of the payload, and the zip
// payload itself:
//
//	"Cr24" | version | key length | signature length | key | signature | archive
//
// Each header field is four bytes of which only the first is significant.
// The key length field stores the key size minus PublicKeyBase.
package envelope

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/cryptobyte"

	"github.com/GriffinCanCode/AgentOS/modhost/internal/shared/errdefs"
)

const (
	// Magic opens every envelope.
	Magic = "Cr24"
	// PublicKeyBase is added to the stored key length byte.
	PublicKeyBase = 256
	// FormatVersion is written by Build.
	FormatVersion = 2

	fieldSize = 4
)

// Envelope is a parsed package file.
type Envelope struct {
	Version   uint8
	PublicKey []byte
	Signature []byte
	Archive   []byte
}

// Parse splits data into its envelope parts. It does not verify the
// signature.
func Parse(data []byte) (*Envelope, error) {
	s := cryptobyte.String(data)

	var magic []byte
	if !s.ReadBytes(&magic, len(Magic)) {
		return nil, errdefs.New(errdefs.InvalidEnvelope, "", "truncated header")
	}
	if string(magic) != Magic {
		return nil, errdefs.New(errdefs.InvalidEnvelope, "", "invalid magic number")
	}

	var version, keyLen, sigLen uint8
	if !readField(&s, &version) || !readField(&s, &keyLen) || !readField(&s, &sigLen) {
		return nil, errdefs.New(errdefs.InvalidEnvelope, "", "truncated header")
	}

	env := &Envelope{Version: version}
	if !s.ReadBytes(&env.PublicKey, int(keyLen)+PublicKeyBase) {
		return nil, errdefs.New(errdefs.InvalidEnvelope, "", "public key length exceeds file")
	}
	if !s.ReadBytes(&env.Signature, int(sigLen)) {
		return nil, errdefs.New(errdefs.InvalidEnvelope, "", "signature length exceeds file")
	}
	env.Archive = []byte(s)
	return env, nil
}

func readField(s *cryptobyte.String, out *uint8) bool {
	return s.ReadUint8(out) && s.Skip(fieldSize-1)
}

// Verify checks the signature over the archive with the embedded key.
func (e *Envelope) Verify() error {
	pub, err := parsePublicKey(e.PublicKey)
	if err != nil {
		return errdefs.Wrap(errdefs.InvalidSignature, "", "invalid signature", err)
	}
	sum := sha1.Sum(e.Archive)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA1, sum[:], e.Signature); err != nil {
		return errdefs.Wrap(errdefs.InvalidSignature, "", "invalid signature", err)
	}
	return nil
}

// Digest returns the hex BLAKE3 hash of the archive.
func (e *Envelope) Digest() string {
	sum := blake3.Sum256(e.Archive)
	return hex.EncodeToString(sum[:])
}

// parsePublicKey accepts a PEM block and falls back to raw PKIX DER.
func parsePublicKey(raw []byte) (*rsa.PublicKey, error) {
	der := raw
	if block, _ := pem.Decode(raw); block != nil {
		der = block.Bytes
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, not RSA", key)
	}
	return pub, nil
}

// Build signs archive with key and returns the envelope bytes. The PEM key
// must encode to PublicKeyBase..PublicKeyBase+255 bytes and the signature
// to at most 255, which in practice means a 1024-bit key.
func Build(archive []byte, key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("encoding public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	if len(pubPEM) < PublicKeyBase || len(pubPEM) > PublicKeyBase+0xff {
		return nil, fmt.Errorf("public key is %d bytes, must be %d..%d", len(pubPEM), PublicKeyBase, PublicKeyBase+0xff)
	}

	sum := sha1.Sum(archive)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA1, sum[:])
	if err != nil {
		return nil, fmt.Errorf("signing archive: %w", err)
	}
	if len(sig) > 0xff {
		return nil, fmt.Errorf("signature is %d bytes, must be at most 255", len(sig))
	}

	var b cryptobyte.Builder
	b.AddBytes([]byte(Magic))
	addField(&b, FormatVersion)
	addField(&b, uint8(len(pubPEM)-PublicKeyBase))
	addField(&b, uint8(len(sig)))
	b.AddBytes(pubPEM)
	b.AddBytes(sig)
	b.AddBytes(archive)
	return b.Bytes()
}

func addField(b *cryptobyte.Builder, v uint8) {
	b.AddUint8(v)
	b.AddBytes(make([]byte, fieldSize-1))
}

// ParseAndVerify parses data and checks its signature.
func ParseAndVerify(data []byte) (*Envelope, error) {
	env, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := env.Verify(); err != nil {
		return nil, err
	}
	return env, nil
}
