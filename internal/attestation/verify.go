package attestation

import (
	"crypto/ed25519"
	"encoding/json"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/runtime-trust-plane/internal/hexutil"
)

// Verify implements the 6-step algorithm in §4.B: detect evidence kind by
// shape, normalize it, and apply freshness/trust-set/signature checks
// appropriate to that kind.
func Verify(rawEvidence []byte, cfg Config, now time.Time) Outcome {
	if len(strings.TrimSpace(string(rawEvidence))) == 0 {
		return Outcome{Status: StatusUntrusted, Kind: KindUnknown, Notes: []string{"attestation:missing-evidence"}}
	}

	kind := detectKind(rawEvidence)
	claims := normalize(rawEvidence, kind)

	switch kind {
	case KindTPM:
		return verifyTPM(claims, cfg, now)
	case KindSEVSNP, KindTDX:
		return verifyMeasurementOnly(claims, kind, cfg, now)
	default:
		return Outcome{Status: StatusUnknown, Kind: KindUnknown, Evidence: &claims, Notes: []string{"attestation:unknown-kind"}}
	}
}

// detectKind identifies the evidence shape by presence of known fields,
// extracted with gjson the way the teacher pulls ad hoc fields out of
// provisioning-result JSON blobs.
func detectKind(raw []byte) Kind {
	switch {
	case gjson.GetBytes(raw, "quote").Exists():
		return KindTPM
	case gjson.GetBytes(raw, "amd_sev_snp").Exists(), gjson.GetBytes(raw, "sev_report").Exists():
		return KindSEVSNP
	case gjson.GetBytes(raw, "tdx_quote").Exists(), gjson.GetBytes(raw, "tdreport").Exists():
		return KindTDX
	default:
		return KindUnknown
	}
}

func normalize(raw []byte, kind Kind) Claims {
	c := Claims{Kind: kind, Claims: map[string]any{}}

	measurementPath := map[Kind]string{
		KindTPM:    "measurement",
		KindSEVSNP: "amd_sev_snp.measurement",
		KindTDX:    "tdx_quote.measurement",
	}[kind]
	if measurementPath != "" {
		if m := gjson.GetBytes(raw, measurementPath); m.Exists() {
			c.Measurement = hexutil.Normalize(m.String())
		}
	}

	if ts := gjson.GetBytes(raw, "timestamp"); ts.Exists() {
		if t, err := time.Parse(time.RFC3339, ts.String()); err == nil {
			utc := t.UTC()
			c.Timestamp = &utc
		}
	}
	if n := gjson.GetBytes(raw, "nonce"); n.Exists() {
		c.Nonce = n.String()
	}
	if pk := gjson.GetBytes(raw, "public_key"); pk.Exists() {
		if decoded, err := hexutil.DecodeString(pk.String()); err == nil {
			c.PublicKey = decoded
		}
	}
	if sig := gjson.GetBytes(raw, "signature"); sig.Exists() {
		if decoded, err := hexutil.DecodeString(sig.String()); err == nil {
			c.Signature = decoded
		}
	}
	if q := gjson.GetBytes(raw, "quote"); q.Exists() {
		c.RawQuote = q.String()
	}

	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err == nil {
		for _, envelopeField := range []string{"quote", "measurement", "timestamp", "nonce", "public_key", "signature", "amd_sev_snp", "sev_report", "tdx_quote", "tdreport"} {
			delete(generic, envelopeField)
		}
		c.Claims = generic
	}
	return c
}

func verifyTPM(claims Claims, cfg Config, now time.Time) Outcome {
	var notes []string

	if claims.Measurement == "" || claims.Timestamp == nil || len(claims.Signature) == 0 {
		return Outcome{Status: StatusUntrusted, Kind: KindTPM, Evidence: &claims,
			Notes: append(notes, "attestation:incomplete-evidence")}
	}

	if cfg.MaxAge > 0 && now.Sub(*claims.Timestamp) > cfg.MaxAge {
		return Outcome{Status: StatusUntrusted, Kind: KindTPM, Evidence: &claims,
			Notes: append(notes, "attestation:stale")}
	}

	if !measurementTrusted(claims.Measurement, cfg.TrustedMeasurements) {
		return Outcome{Status: StatusUntrusted, Kind: KindTPM, Evidence: &claims,
			Notes: append(notes, "attestation:untrusted-measurement")}
	}

	if cfg.Nonce != "" && claims.Nonce != cfg.Nonce {
		return Outcome{Status: StatusUntrusted, Kind: KindTPM, Evidence: &claims,
			Notes: append(notes, "attestation:nonce-mismatch")}
	}

	canonical, err := canonicalClaimBytes(claims)
	if err != nil {
		return Outcome{Status: StatusUntrusted, Kind: KindTPM, Evidence: &claims,
			Notes: append(notes, "attestation:canonicalization-failed")}
	}

	if !verifySignature(canonical, claims.Signature, claims.PublicKey, cfg.TrustRoots) {
		return Outcome{Status: StatusUntrusted, Kind: KindTPM, Evidence: &claims,
			Notes: append(notes, "attestation:signature-invalid")}
	}

	deadline := claims.Timestamp.Add(cfg.MaxAge)
	return Outcome{Status: StatusTrusted, Kind: KindTPM, Evidence: &claims, FreshnessDeadline: &deadline,
		Notes: append(notes, "attestation:verified")}
}

// verifyMeasurementOnly applies the measurement-set and freshness checks
// shared with TPM but leaves signature verification to the adapter, per
// §4.B step 5.
func verifyMeasurementOnly(claims Claims, kind Kind, cfg Config, now time.Time) Outcome {
	var notes []string

	if claims.Measurement == "" {
		return Outcome{Status: StatusUntrusted, Kind: kind, Evidence: &claims,
			Notes: append(notes, "attestation:incomplete-evidence")}
	}
	if claims.Timestamp != nil && cfg.MaxAge > 0 && now.Sub(*claims.Timestamp) > cfg.MaxAge {
		return Outcome{Status: StatusUntrusted, Kind: kind, Evidence: &claims,
			Notes: append(notes, "attestation:stale")}
	}
	if !measurementTrusted(claims.Measurement, cfg.TrustedMeasurements) {
		return Outcome{Status: StatusUntrusted, Kind: kind, Evidence: &claims,
			Notes: append(notes, "attestation:untrusted-measurement")}
	}

	var deadline *time.Time
	if claims.Timestamp != nil {
		d := claims.Timestamp.Add(cfg.MaxAge)
		deadline = &d
	}
	return Outcome{Status: StatusTrusted, Kind: kind, Evidence: &claims, FreshnessDeadline: deadline,
		Notes: append(notes, "attestation:verified")}
}

func measurementTrusted(measurement string, trusted []string) bool {
	for _, m := range trusted {
		if hexutil.Normalize(m) == measurement {
			return true
		}
	}
	return false
}

// canonicalClaimBytes re-encodes the claim map with sorted keys so the
// signature is verified over a deterministic byte sequence.
func canonicalClaimBytes(claims Claims) ([]byte, error) {
	return json.Marshal(claims.Claims)
}

func verifySignature(message, signature, embeddedKey []byte, trustRoots [][]byte) bool {
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	candidates := trustRoots
	if len(embeddedKey) == ed25519.PublicKeySize {
		candidates = append([][]byte{embeddedKey}, trustRoots...)
	}
	for _, key := range candidates {
		if len(key) != ed25519.PublicKeySize {
			continue
		}
		if ed25519.Verify(ed25519.PublicKey(key), message, signature) {
			return true
		}
	}
	return false
}
