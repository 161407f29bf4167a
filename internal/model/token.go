package model

import (
	"time"
)

// Platform identifies the mobile platform a device token belongs to.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// Wire codes for the platform byte inside the encrypted payload.
const (
	PlatformByteIOS     byte = 0x01
	PlatformByteAndroid byte = 0x02
)

// PlatformFromByte maps the payload platform byte to a Platform.
// Returns false for any unrecognized byte value.
func PlatformFromByte(b byte) (Platform, bool) {
	switch b {
	case PlatformByteIOS:
		return PlatformIOS, true
	case PlatformByteAndroid:
		return PlatformAndroid, true
	default:
		return "", false
	}
}

// Byte returns the wire code for the platform.
func (p Platform) Byte() byte {
	if p == PlatformIOS {
		return PlatformByteIOS
	}
	return PlatformByteAndroid
}

func (p Platform) String() string {
	return string(p)
}

// DecryptedToken is the result of successfully decrypting an encrypted
// token blob: which platform the device runs and its opaque push token.
type DecryptedToken struct {
	Platform    Platform
	DeviceToken string
}

// RegisteredToken is a device registration held by the token store.
// Created only from a successful decryption; replaced wholesale when the
// same trade pubkey registers again.
type RegisteredToken struct {
	DeviceToken  string    `json:"-"` // never exposed over HTTP
	Platform     Platform  `json:"platform"`
	RegisteredAt time.Time `json:"registered_at"`
}

// TokenStoreStats is an aggregate snapshot of the token store.
type TokenStoreStats struct {
	Total   int `json:"total"`
	Android int `json:"android"`
	IOS     int `json:"ios"`
}

// RegisterTokenRequest is the body of POST /api/register.
// EncryptedToken is the base64-encoded 281-byte blob produced by the client.
type RegisterTokenRequest struct {
	TradePubkey    string `json:"trade_pubkey"`
	EncryptedToken string `json:"encrypted_token"`
}

// UnregisterTokenRequest is the body of POST /api/unregister.
type UnregisterTokenRequest struct {
	TradePubkey string `json:"trade_pubkey"`
}

// RegisterResponse is returned by /api/register and /api/unregister.
type RegisterResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Platform string `json:"platform,omitempty"`
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Status       string          `json:"status"`
	Version      string          `json:"version"`
	ServerPubkey string          `json:"server_pubkey"`
	Tokens       TokenStoreStats `json:"tokens"`
}
