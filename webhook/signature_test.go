package webhook

import "testing"

func TestVerifySignature_AcceptsWhenUnconfigured(t *testing.T) {
	if !verifySignature("", "v1=garbage", []byte(`{"a":1}`)) {
		t.Fatal("expected unconfigured secret to accept")
	}
}

func TestVerifySignature_AcceptsMatchingHMAC(t *testing.T) {
	canonical := []byte(`{"a":1}`)
	sig := signPayload("secret", canonical)
	if !verifySignature("secret", "v1="+sig, canonical) {
		t.Fatal("expected matching signature to verify")
	}
}

func TestVerifySignature_RejectsMismatch(t *testing.T) {
	canonical := []byte(`{"a":1}`)
	if verifySignature("secret", "v1=deadbeef", canonical) {
		t.Fatal("expected mismatched signature to be rejected")
	}
}

func TestCanonicalizeJSON_SortsKeysRegardlessOfInputOrder(t *testing.T) {
	a, err := canonicalizeJSON(map[string]any{"b": 1, "a": 2})
	if err != nil {
		t.Fatal(err)
	}
	b, err := canonicalizeJSON(map[string]any{"a": 2, "b": 1})
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Fatalf("expected identical canonical forms, got %q vs %q", a, b)
	}
}

func TestPayloadHash_StableForIdenticalCanonicalForm(t *testing.T) {
	canonical := []byte(`{"a":1}`)
	if payloadHash(canonical) != payloadHash(canonical) {
		t.Fatal("expected payload hash to be deterministic")
	}
}
