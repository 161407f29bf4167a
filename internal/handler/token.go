package handler

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/mostrop2p/mostro-push/internal/config"
	"github.com/mostrop2p/mostro-push/internal/crypto"
	"github.com/mostrop2p/mostro-push/internal/httputil"
	"github.com/mostrop2p/mostro-push/internal/model"
	"github.com/mostrop2p/mostro-push/internal/store"
)

// TokenHandler serves the registration API. It is the only path that
// feeds the token store, and it only ever does so through a successful
// decryption.
type TokenHandler struct {
	store  *store.TokenStore
	crypto *crypto.TokenCrypto
}

func NewTokenHandler(tokenStore *store.TokenStore, tokenCrypto *crypto.TokenCrypto) *TokenHandler {
	return &TokenHandler{
		store:  tokenStore,
		crypto: tokenCrypto,
	}
}

// Health handles GET /api/health.
func (h *TokenHandler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Status handles GET /api/status.
func (h *TokenHandler) Status(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, model.StatusResponse{
		Status:       "running",
		Version:      config.Version,
		ServerPubkey: h.crypto.PublicKeyHex(),
		Tokens:       h.store.Stats(),
	})
}

// Info handles GET /api/info. Clients read the server pubkey and blob
// size from here before encrypting a token.
func (h *TokenHandler) Info(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"server_pubkey":        h.crypto.PublicKeyHex(),
		"version":              config.Version,
		"encrypted_token_size": crypto.EncryptedTokenSize,
	})
}

// Register handles POST /api/register.
//
// Validation order matters: pubkey format, then base64, then blob size,
// then decryption. The store is never touched unless decryption succeeds,
// and decryption failures get one generic message so the endpoint cannot
// be probed as an oracle.
func (h *TokenHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	log.Printf("[Register] Registering token for trade_pubkey: %s...", shortKey(req.TradePubkey))

	if !isTradePubkey(req.TradePubkey) {
		log.Printf("[WARN] Invalid trade_pubkey format")
		writeFailure(w, http.StatusBadRequest, "Invalid trade_pubkey format (expected 64 hex characters)")
		return
	}

	encryptedToken, err := base64.StdEncoding.DecodeString(req.EncryptedToken)
	if err != nil {
		log.Printf("[WARN] Invalid base64 in encrypted_token: %v", err)
		writeFailure(w, http.StatusBadRequest, "Invalid base64 encoding in encrypted_token")
		return
	}

	if len(encryptedToken) != crypto.EncryptedTokenSize {
		log.Printf("[WARN] Invalid encrypted token size: expected %d, got %d",
			crypto.EncryptedTokenSize, len(encryptedToken))
		writeFailure(w, http.StatusBadRequest, fmt.Sprintf(
			"Invalid encrypted token size (expected %d bytes, got %d)",
			crypto.EncryptedTokenSize, len(encryptedToken)))
		return
	}

	decrypted, err := h.crypto.DecryptToken(encryptedToken)
	if err != nil {
		log.Printf("[ERROR] Failed to decrypt token: %v", err)
		writeFailure(w, http.StatusBadRequest, "Failed to decrypt token")
		return
	}

	h.store.Register(req.TradePubkey, decrypted.DeviceToken, decrypted.Platform)

	log.Printf("[Register] Successfully registered %s token for trade_pubkey: %s...",
		decrypted.Platform, shortKey(req.TradePubkey))

	httputil.WriteJSON(w, http.StatusOK, model.RegisterResponse{
		Success:  true,
		Message:  "Token registered successfully",
		Platform: decrypted.Platform.String(),
	})
}

// Unregister handles POST /api/unregister. Removing an absent token is
// still a success; absence is reported in the message only.
func (h *TokenHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	var req model.UnregisterTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	log.Printf("[Register] Unregistering token for trade_pubkey: %s...", shortKey(req.TradePubkey))

	if !isTradePubkey(req.TradePubkey) {
		log.Printf("[WARN] Invalid trade_pubkey format")
		writeFailure(w, http.StatusBadRequest, "Invalid trade_pubkey format (expected 64 hex characters)")
		return
	}

	removed := h.store.Unregister(req.TradePubkey)

	message := "Token unregistered successfully"
	if !removed {
		message = "Token not found (may have already been unregistered)"
	}
	httputil.WriteJSON(w, http.StatusOK, model.RegisterResponse{
		Success: true,
		Message: message,
	})
}

// isTradePubkey checks the 64-hex-character precondition the store
// relies on. The value stays opaque beyond that.
func isTradePubkey(pubkey string) bool {
	if len(pubkey) != 64 {
		return false
	}
	_, err := hex.DecodeString(pubkey)
	return err == nil
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	httputil.WriteJSON(w, status, model.RegisterResponse{
		Success: false,
		Message: message,
	})
}

func shortKey(pubkey string) string {
	if len(pubkey) < 16 {
		return pubkey
	}
	return pubkey[:16]
}
