package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/centrixci/centrix-ci/internal/store"
)

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping webhook integration test")
	}
	st, err := store.Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestServeHTTPBadSignature(t *testing.T) {
	h := New(Deps{Secret: "shh", TenantID: "acme"})
	body := []byte(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/ci/webhook/github", bytes.NewReader(body))
	req.Header.Set(eventHeader, "push")
	req.Header.Set(signatureHeader, "sha256=deadbeef")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestServeHTTPPing(t *testing.T) {
	secret := []byte("shh")
	body := []byte(`{"zen":"hi"}`)
	h := New(Deps{Secret: string(secret), TenantID: "acme"})
	req := httptest.NewRequest(http.MethodPost, "/ci/webhook/github", bytes.NewReader(body))
	req.Header.Set(eventHeader, eventPing)
	req.Header.Set(signatureHeader, sign(secret, body))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestServeHTTPMalformedPushBody(t *testing.T) {
	secret := []byte("shh")
	body := []byte(`not json`)
	h := New(Deps{Secret: string(secret), TenantID: "acme"})
	req := httptest.NewRequest(http.MethodPost, "/ci/webhook/github", bytes.NewReader(body))
	req.Header.Set(eventHeader, eventPush)
	req.Header.Set(signatureHeader, sign(secret, body))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestServeHTTPUnhandledEventIsNoop(t *testing.T) {
	secret := []byte("shh")
	body := []byte(`{}`)
	h := New(Deps{Secret: string(secret), TenantID: "acme"})
	req := httptest.NewRequest(http.MethodPost, "/ci/webhook/github", bytes.NewReader(body))
	req.Header.Set(eventHeader, "star")
	req.Header.Set(signatureHeader, sign(secret, body))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestServeHTTPUnknownRepoIsSilentOK(t *testing.T) {
	st := openTestStore(t)
	secret := []byte("shh")
	body := []byte(`{"repository":{"full_name":"acme/nonexistent"},"after":"abc1234567890abc1234567890abc1234567890","ref":"refs/heads/main"}`)
	h := New(Deps{Store: st, Secret: string(secret), TenantID: "acme-unknown-repo-test"})
	req := httptest.NewRequest(http.MethodPost, "/ci/webhook/github", bytes.NewReader(body))
	req.Header.Set(eventHeader, eventPush)
	req.Header.Set(signatureHeader, sign(secret, body))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestServeHTTPPushEnqueuesBuildAndDedups(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	proj := &store.Project{TenantID: "acme", ForgeRepo: "acme/webhook-intake", DisplayName: "W", Active: true}
	if err := st.InsertProject(ctx, proj); err != nil {
		t.Fatalf("seed project: %v", err)
	}

	secret := []byte("shh")
	h := New(Deps{Store: st, Secret: string(secret), TenantID: "acme", ThrottleWindow: time.Minute})

	body := []byte(fmt.Sprintf(`{"repository":{"full_name":%q},"after":"abc1234567890abc1234567890abc1234567890","ref":"refs/heads/main","pusher":{"name":"dev"}}`, proj.ForgeRepo))

	req := httptest.NewRequest(http.MethodPost, "/ci/webhook/github", bytes.NewReader(body))
	req.Header.Set(eventHeader, eventPush)
	req.Header.Set(signatureHeader, sign(secret, body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first delivery status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}

	req2 := httptest.NewRequest(http.MethodPost, "/ci/webhook/github", bytes.NewReader(body))
	req2.Header.Set(eventHeader, eventPush)
	req2.Header.Set(signatureHeader, sign(secret, body))
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("duplicate delivery status = %d, want 200", rec2.Code)
	}
}
