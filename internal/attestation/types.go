// Package attestation implements the Attestation Verifier: validates
// provisioning evidence (TPM quote, SEV-SNP report, TDX quote) and yields a
// trust verdict with freshness.
package attestation

import "time"

// Kind identifies the evidence shape detected in a provisioning result.
type Kind string

const (
	KindTPM     Kind = "tpm"
	KindSEVSNP  Kind = "amd-sev-snp"
	KindTDX     Kind = "intel-tdx"
	KindUnknown Kind = "unknown"
)

// Status is the verification verdict.
type Status string

const (
	StatusTrusted   Status = "trusted"
	StatusUntrusted Status = "untrusted"
	StatusUnknown   Status = "unknown"
)

// Claims is the normalized evidence shape the verifier reasons over.
type Claims struct {
	Kind        Kind
	Measurement string
	Timestamp   *time.Time
	Nonce       string
	PublicKey   []byte
	Signature   []byte
	Claims      map[string]any
	RawQuote    string
}

// Config carries the verifier's trust anchors and freshness window.
type Config struct {
	TrustedMeasurements []string
	TrustRoots          [][]byte // Ed25519 public keys
	MaxAge              time.Duration
	Nonce               string
}

// Outcome is the verifier's result.
type Outcome struct {
	Status            Status
	Evidence          *Claims
	Notes             []string
	Kind              Kind
	FreshnessDeadline *time.Time
}
