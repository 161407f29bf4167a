package handler

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/mostrop2p/mostro-push/internal/crypto"
	"github.com/mostrop2p/mostro-push/internal/model"
	"github.com/mostrop2p/mostro-push/internal/store"
)

func newTestHandler(t *testing.T) (*TokenHandler, *store.TokenStore, *crypto.TokenCrypto) {
	t.Helper()

	secretKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tokenCrypto, err := crypto.New(hex.EncodeToString(secretKey.Serialize()))
	if err != nil {
		t.Fatalf("crypto.New: %v", err)
	}

	tokenStore := store.New()
	return NewTokenHandler(tokenStore, tokenCrypto), tokenStore, tokenCrypto
}

func encryptedTokenB64(t *testing.T, c *crypto.TokenCrypto, platform model.Platform, deviceToken string) string {
	t.Helper()

	blob, err := crypto.EncryptToken(c.PublicKeyHex(), platform, deviceToken)
	if err != nil {
		t.Fatalf("EncryptToken: %v", err)
	}
	return base64.StdEncoding.EncodeToString(blob)
}

func postJSON(t *testing.T, handlerFn http.HandlerFunc, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handlerFn(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) model.RegisterResponse {
	t.Helper()

	var resp model.RegisterResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestRegister_Success(t *testing.T) {
	h, tokenStore, tokenCrypto := newTestHandler(t)
	tradePubkey := strings.Repeat("ab", 32)

	rec := postJSON(t, h.Register, "/api/register", model.RegisterTokenRequest{
		TradePubkey:    tradePubkey,
		EncryptedToken: encryptedTokenB64(t, tokenCrypto, model.PlatformAndroid, "fcm-token-xyz"),
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if !resp.Success {
		t.Errorf("success = false, want true")
	}
	if resp.Platform != "android" {
		t.Errorf("platform = %q, want %q", resp.Platform, "android")
	}

	token, ok := tokenStore.Get(tradePubkey)
	if !ok {
		t.Fatal("token not stored after successful registration")
	}
	if token.DeviceToken != "fcm-token-xyz" || token.Platform != model.PlatformAndroid {
		t.Errorf("stored token = %+v, want fcm-token-xyz/android", token)
	}
}

func TestRegister_InvalidTradePubkey(t *testing.T) {
	h, tokenStore, tokenCrypto := newTestHandler(t)
	encrypted := encryptedTokenB64(t, tokenCrypto, model.PlatformIOS, "apns-token")

	tests := []struct {
		name        string
		tradePubkey string
	}{
		{"empty", ""},
		{"too short", strings.Repeat("ab", 31)},
		{"too long", strings.Repeat("ab", 33)},
		{"not hex", "zz" + strings.Repeat("ab", 31)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, h.Register, "/api/register", model.RegisterTokenRequest{
				TradePubkey:    tt.tradePubkey,
				EncryptedToken: encrypted,
			})

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if resp := decodeResponse(t, rec); resp.Success {
				t.Error("success = true for invalid pubkey")
			}
		})
	}

	if stats := tokenStore.Stats(); stats.Total != 0 {
		t.Errorf("store touched by rejected registrations: %+v", stats)
	}
}

func TestRegister_InvalidBase64(t *testing.T) {
	h, tokenStore, _ := newTestHandler(t)

	rec := postJSON(t, h.Register, "/api/register", model.RegisterTokenRequest{
		TradePubkey:    strings.Repeat("ab", 32),
		EncryptedToken: "not!!valid@@base64",
	})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if stats := tokenStore.Stats(); stats.Total != 0 {
		t.Error("store touched by invalid base64")
	}
}

func TestRegister_WrongBlobSize(t *testing.T) {
	h, tokenStore, _ := newTestHandler(t)

	rec := postJSON(t, h.Register, "/api/register", model.RegisterTokenRequest{
		TradePubkey:    strings.Repeat("ab", 32),
		EncryptedToken: base64.StdEncoding.EncodeToString(make([]byte, 42)),
	})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if !strings.Contains(resp.Message, "281") {
		t.Errorf("size error should name the expected size, got %q", resp.Message)
	}
	if stats := tokenStore.Stats(); stats.Total != 0 {
		t.Error("store touched by wrong-size blob")
	}
}

func TestRegister_TamperedBlob(t *testing.T) {
	h, tokenStore, tokenCrypto := newTestHandler(t)

	blob, err := crypto.EncryptToken(tokenCrypto.PublicKeyHex(), model.PlatformAndroid, "token")
	if err != nil {
		t.Fatalf("EncryptToken: %v", err)
	}
	blob[len(blob)-1] ^= 0x01

	rec := postJSON(t, h.Register, "/api/register", model.RegisterTokenRequest{
		TradePubkey:    strings.Repeat("ab", 32),
		EncryptedToken: base64.StdEncoding.EncodeToString(blob),
	})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	// The message must not reveal which stage of decryption failed.
	resp := decodeResponse(t, rec)
	if resp.Message != "Failed to decrypt token" {
		t.Errorf("message = %q, want the generic decryption failure", resp.Message)
	}
	if stats := tokenStore.Stats(); stats.Total != 0 {
		t.Error("store touched by tampered blob")
	}
}

func TestRegister_MalformedBody(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/register", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.Register(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUnregister_Idempotent(t *testing.T) {
	h, tokenStore, tokenCrypto := newTestHandler(t)
	tradePubkey := strings.Repeat("cd", 32)

	blob := encryptedTokenB64(t, tokenCrypto, model.PlatformIOS, "apns-token")
	postJSON(t, h.Register, "/api/register", model.RegisterTokenRequest{
		TradePubkey:    tradePubkey,
		EncryptedToken: blob,
	})
	if _, ok := tokenStore.Get(tradePubkey); !ok {
		t.Fatal("registration did not stick")
	}

	// First unregister removes, second finds nothing; both succeed.
	rec := postJSON(t, h.Unregister, "/api/unregister", model.UnregisterTokenRequest{TradePubkey: tradePubkey})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp := decodeResponse(t, rec); !resp.Success || !strings.Contains(resp.Message, "unregistered") {
		t.Errorf("first unregister response = %+v", resp)
	}

	rec = postJSON(t, h.Unregister, "/api/unregister", model.UnregisterTokenRequest{TradePubkey: tradePubkey})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp := decodeResponse(t, rec); !resp.Success || !strings.Contains(resp.Message, "not found") {
		t.Errorf("second unregister response = %+v", resp)
	}
}

func TestUnregister_InvalidTradePubkey(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := postJSON(t, h.Unregister, "/api/unregister", model.UnregisterTokenRequest{TradePubkey: "nope"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	h, tokenStore, tokenCrypto := newTestHandler(t)

	tokenStore.Register(strings.Repeat("01", 32), "a", model.PlatformAndroid)
	tokenStore.Register(strings.Repeat("02", 32), "b", model.PlatformIOS)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp model.StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "running" {
		t.Errorf("status = %q, want running", resp.Status)
	}
	if resp.ServerPubkey != tokenCrypto.PublicKeyHex() {
		t.Errorf("server_pubkey = %q, want %q", resp.ServerPubkey, tokenCrypto.PublicKeyHex())
	}
	if resp.Tokens.Total != 2 || resp.Tokens.Android != 1 || resp.Tokens.IOS != 1 {
		t.Errorf("tokens = %+v, want total 2, android 1, ios 1", resp.Tokens)
	}
}

func TestInfo(t *testing.T) {
	h, _, tokenCrypto := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/info", nil)
	rec := httptest.NewRecorder()
	h.Info(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["server_pubkey"] != tokenCrypto.PublicKeyHex() {
		t.Errorf("server_pubkey = %v", resp["server_pubkey"])
	}
	if size, ok := resp["encrypted_token_size"].(float64); !ok || int(size) != crypto.EncryptedTokenSize {
		t.Errorf("encrypted_token_size = %v, want %d", resp["encrypted_token_size"], crypto.EncryptedTokenSize)
	}
}

func TestHealth(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
