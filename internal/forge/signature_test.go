package forge

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignatureAccepts(t *testing.T) {
	secret := []byte("shh")
	body := []byte(`{"ref":"refs/heads/main"}`)
	if !VerifySignature(secret, sign(secret, body), body) {
		t.Fatalf("expected valid signature to verify")
	}
}

func TestVerifySignatureRejectsWrongSecret(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)
	header := sign([]byte("right"), body)
	if VerifySignature([]byte("wrong"), header, body) {
		t.Fatalf("expected signature computed with a different secret to fail")
	}
}

func TestVerifySignatureRejectsTamperedBody(t *testing.T) {
	secret := []byte("shh")
	header := sign(secret, []byte(`{"ref":"refs/heads/main"}`))
	if VerifySignature(secret, header, []byte(`{"ref":"refs/heads/evil"}`)) {
		t.Fatalf("expected signature to fail against a modified body")
	}
}

func TestVerifySignatureRejectsMissingPrefix(t *testing.T) {
	secret := []byte("shh")
	body := []byte("payload")
	if VerifySignature(secret, hex.EncodeToString([]byte("not-prefixed")), body) {
		t.Fatalf("expected header without sha256= prefix to fail")
	}
}

func TestVerifySignatureRejectsMalformedHex(t *testing.T) {
	if VerifySignature([]byte("k"), "sha256=not-hex!!", []byte("x")) {
		t.Fatalf("expected malformed hex to fail")
	}
}
