// Package attest produces signed attestations over compliance reports.
//
// An attestation binds a report's canonical-JSON hash, its id, and the
// signing time under an Ed25519 signature, so a stored report can be
// proven unmodified later. The KeyProvider interface allows swapping
// the in-memory backend for an HSM, Vault, or Cloud KMS.
package attest

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gowebpki/jcs"
	"golang.org/x/crypto/hkdf"

	"github.com/BlueflyCollective/openstandardagents/pkg/compliance"
)

var (
	// ErrPayloadMismatch is returned when a report no longer matches the
	// hash recorded in its attestation.
	ErrPayloadMismatch = errors.New("attest: report does not match attestation payload hash")
	// ErrBadSignature is returned when the signature check fails.
	ErrBadSignature = errors.New("attest: signature verification failed")
)

// kdfSalt separates attestation key derivation from other HKDF uses of
// the same master secret.
const kdfSalt = "ossa-attest-kdf"

// KeyProvider defines the signing operations an attestation backend
// must support.
type KeyProvider interface {
	Sign(msg []byte) ([]byte, error)
	PublicKey() ed25519.PublicKey
}

// MemoryKeyProvider is an in-memory Ed25519 provider for development
// and embedded use.
type MemoryKeyProvider struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// NewMemoryKeyProvider generates a fresh keypair.
func NewMemoryKeyProvider() (*MemoryKeyProvider, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate attestation key: %w", err)
	}
	return &MemoryKeyProvider{pub: pub, priv: priv}, nil
}

func (m *MemoryKeyProvider) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(m.priv, msg), nil
}

func (m *MemoryKeyProvider) PublicKey() ed25519.PublicKey {
	return m.pub
}

// DeriveProvider derives a scope-specific provider from a master
// secret using HKDF-SHA256, so each deployment scope signs with a
// unique, deterministic keypair.
func DeriveProvider(master []byte, scope string) (*MemoryKeyProvider, error) {
	if len(master) == 0 {
		return nil, fmt.Errorf("attest: master secret must not be empty")
	}
	if scope == "" {
		return nil, fmt.Errorf("attest: scope must not be empty")
	}

	reader := hkdf.New(sha256.New, master, []byte(kdfSalt), []byte(scope))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(reader, seed); err != nil {
		return nil, fmt.Errorf("attest: HKDF derivation failed: %w", err)
	}

	priv := ed25519.NewKeyFromSeed(seed)
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("attest: unexpected public key type")
	}
	return &MemoryKeyProvider{pub: pub, priv: priv}, nil
}

// Attestation is a detached signature over a compliance report.
type Attestation struct {
	ReportID    string    `json:"reportId"`
	PayloadHash string    `json:"payloadHash"`
	Signature   string    `json:"signature"`
	PublicKey   string    `json:"publicKey"`
	SignedAt    time.Time `json:"signedAt"`
}

// statement is the exact structure the signature covers. Signing the
// statement rather than the raw payload makes SignedAt and ReportID
// tamper-evident as well.
type statement struct {
	ReportID    string    `json:"reportId"`
	PayloadHash string    `json:"payloadHash"`
	SignedAt    time.Time `json:"signedAt"`
}

// Signer issues attestations with a KeyProvider.
type Signer struct {
	provider KeyProvider
	clock    func() time.Time
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) SignerOption {
	return func(s *Signer) { s.clock = clock }
}

// NewSigner wraps a provider. A nil provider falls back to a fresh
// in-memory keypair.
func NewSigner(p KeyProvider, opts ...SignerOption) *Signer {
	if p == nil {
		p, _ = NewMemoryKeyProvider()
	}
	s := &Signer{provider: p, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign attests a report.
func (s *Signer) Sign(report *compliance.Report) (*Attestation, error) {
	if report == nil {
		return nil, fmt.Errorf("attest: nil report")
	}
	payloadHash, err := reportHash(report)
	if err != nil {
		return nil, err
	}

	st := statement{
		ReportID:    report.ReportID,
		PayloadHash: payloadHash,
		SignedAt:    s.clock().UTC(),
	}
	msg, err := canonical(st)
	if err != nil {
		return nil, err
	}
	sig, err := s.provider.Sign(msg)
	if err != nil {
		return nil, fmt.Errorf("attest: sign statement: %w", err)
	}

	return &Attestation{
		ReportID:    st.ReportID,
		PayloadHash: st.PayloadHash,
		Signature:   base64.StdEncoding.EncodeToString(sig),
		PublicKey:   base64.StdEncoding.EncodeToString(s.provider.PublicKey()),
		SignedAt:    st.SignedAt,
	}, nil
}

// Verify checks an attestation against a report. It accepts
// attestations parsed from untrusted JSON.
func Verify(att *Attestation, report *compliance.Report) error {
	if att == nil {
		return fmt.Errorf("attest: nil attestation")
	}
	if report == nil {
		return fmt.Errorf("attest: nil report")
	}

	payloadHash, err := reportHash(report)
	if err != nil {
		return err
	}
	if payloadHash != att.PayloadHash {
		return ErrPayloadMismatch
	}
	if report.ReportID != att.ReportID {
		return ErrPayloadMismatch
	}

	pub, err := base64.StdEncoding.DecodeString(att.PublicKey)
	if err != nil {
		return fmt.Errorf("attest: decode public key: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("attest: public key is %d bytes, want %d", len(pub), ed25519.PublicKeySize)
	}
	sig, err := base64.StdEncoding.DecodeString(att.Signature)
	if err != nil {
		return fmt.Errorf("attest: decode signature: %w", err)
	}

	msg, err := canonical(statement{
		ReportID:    att.ReportID,
		PayloadHash: att.PayloadHash,
		SignedAt:    att.SignedAt,
	})
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
		return ErrBadSignature
	}
	return nil
}

// reportHash computes the canonical hash of a report.
func reportHash(report *compliance.Report) (string, error) {
	data, err := canonical(report)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

func canonical(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("attest: marshal payload: %w", err)
	}
	out, err := jcs.Transform(data)
	if err != nil {
		return nil, fmt.Errorf("attest: canonicalize payload: %w", err)
	}
	return out, nil
}
