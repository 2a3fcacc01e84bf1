package redaction

import "testing"

func TestRedactMapHidesCredentialField(t *testing.T) {
	r := NewRedactor(DefaultConfig())
	out := r.RedactMap(map[string]interface{}{
		"hypervisor_token": "sk-live-abc123",
		"server_id":        42,
	})
	if out["hypervisor_token"] != "***REDACTED***" {
		t.Fatalf("expected token field redacted, got %v", out["hypervisor_token"])
	}
	if out["server_id"] != 42 {
		t.Fatalf("expected non-secret field untouched")
	}
}

func TestRedactStringHidesBearerToken(t *testing.T) {
	out := RedactAll("Authorization: Bearer abc.def.ghi")
	if out == "Authorization: Bearer abc.def.ghi" {
		t.Fatalf("expected bearer token to be redacted")
	}
}
