package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"unicode/utf8"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/mostrop2p/mostro-push/internal/model"
)

// Wire layout of an encrypted token blob:
//
//	[ephemeral_pubkey(33) || nonce(12) || ciphertext(220+16)]
//
// The sizes are a bit-exact contract with clients and must not change
// without a protocol version bump.
const (
	EphemeralPubkeySize = 33
	NonceSize           = 12
	PaddedPayloadSize   = 220
	AuthTagSize         = 16

	// EncryptedTokenSize is the exact length of a valid blob (281 bytes).
	EncryptedTokenSize = EphemeralPubkeySize + NonceSize + PaddedPayloadSize + AuthTagSize

	// MaxTokenLength is the largest device token that fits the padded
	// payload: 220 bytes minus 1 platform byte and 2 length bytes.
	MaxTokenLength = PaddedPayloadSize - 3
)

// Domain separation for the HKDF step. Distinct from every other use of
// secp256k1 ECDH in the Mostro protocol so derived keys never collide.
var (
	hkdfSalt = []byte("mostro-push-v1")
	hkdfInfo = []byte("mostro-token-encryption")
)

var (
	ErrInvalidSecretKey     = errors.New("invalid secret key")
	ErrInvalidTokenSize     = errors.New("invalid encrypted token size")
	ErrInvalidEphemeralKey  = errors.New("invalid ephemeral public key")
	ErrDecryptionFailed     = errors.New("decryption failed")
	ErrInvalidPayloadSize   = errors.New("invalid payload size after decryption")
	ErrInvalidTokenLength   = errors.New("invalid token length in payload")
	ErrInvalidPlatform      = errors.New("invalid platform identifier")
	ErrInvalidTokenEncoding = errors.New("invalid token encoding")
)

// TokenCrypto decrypts device-token blobs that clients encrypted to the
// server's public key. The scheme is ECIES-style: ephemeral secp256k1 ECDH,
// HKDF-SHA256 key derivation, ChaCha20-Poly1305 authenticated decryption.
//
// The secret key is read-only after construction, so a single TokenCrypto
// is safe for concurrent use.
type TokenCrypto struct {
	secretKey *secp256k1.PrivateKey
	publicKey *secp256k1.PublicKey
}

// New builds a TokenCrypto from a hex-encoded secp256k1 scalar.
// Rejects anything that does not decode to a valid non-zero scalar on the
// curve with ErrInvalidSecretKey.
func New(secretKeyHex string) (*TokenCrypto, error) {
	raw, err := hex.DecodeString(secretKeyHex)
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidSecretKey
	}

	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(raw); overflow || scalar.IsZero() {
		return nil, ErrInvalidSecretKey
	}
	secretKey := secp256k1.NewPrivateKey(&scalar)

	return &TokenCrypto{
		secretKey: secretKey,
		publicKey: secretKey.PubKey(),
	}, nil
}

// PublicKeyHex returns the server's compressed public key as lowercase hex.
// Clients encrypt their device tokens to this key.
func (c *TokenCrypto) PublicKeyHex() string {
	return hex.EncodeToString(c.publicKey.SerializeCompressed())
}

// DecryptToken decodes one encrypted token blob into its platform and
// device token.
//
// The length gate runs before any cryptographic work, and authentication
// failures collapse into a single error so callers cannot be used as a
// decryption oracle.
func (c *TokenCrypto) DecryptToken(blob []byte) (*model.DecryptedToken, error) {
	if len(blob) != EncryptedTokenSize {
		log.Printf("[Crypto] Invalid token size: expected %d, got %d", EncryptedTokenSize, len(blob))
		return nil, ErrInvalidTokenSize
	}

	ephemeralBytes := blob[:EphemeralPubkeySize]
	nonce := blob[EphemeralPubkeySize : EphemeralPubkeySize+NonceSize]
	ciphertext := blob[EphemeralPubkeySize+NonceSize:]

	ephemeralPubkey, err := secp256k1.ParsePubKey(ephemeralBytes)
	if err != nil {
		log.Printf("[Crypto] Failed to parse ephemeral pubkey: %v", err)
		return nil, ErrInvalidEphemeralKey
	}

	// ECDH against the ephemeral key only; the client's long-term identity
	// never enters the computation, so each blob is forward secret.
	key, err := deriveKey(c.secretKey, ephemeralPubkey)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	payload, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		log.Printf("[Crypto] Decryption failed")
		return nil, ErrDecryptionFailed
	}

	if len(payload) != PaddedPayloadSize {
		log.Printf("[Crypto] Invalid payload size after decryption: expected %d, got %d", PaddedPayloadSize, len(payload))
		return nil, ErrInvalidPayloadSize
	}

	platform, ok := model.PlatformFromByte(payload[0])
	if !ok {
		log.Printf("[Crypto] Unknown platform byte: 0x%02x", payload[0])
		return nil, ErrInvalidPlatform
	}

	tokenLength := int(binary.BigEndian.Uint16(payload[1:3]))
	if tokenLength > MaxTokenLength {
		log.Printf("[Crypto] Token length %d exceeds maximum %d", tokenLength, MaxTokenLength)
		return nil, ErrInvalidTokenLength
	}

	tokenBytes := payload[3 : 3+tokenLength]
	if !utf8.Valid(tokenBytes) {
		return nil, ErrInvalidTokenEncoding
	}

	return &model.DecryptedToken{
		Platform:    platform,
		DeviceToken: string(tokenBytes),
	}, nil
}

// EncryptToken is the client-side counterpart of DecryptToken: it encrypts
// a device token to the server's compressed public key with a fresh
// ephemeral key and returns the 281-byte blob. Mobile clients embed the
// same construction; this reference encoder exists so Go callers and the
// test suite do not reimplement the wire format by hand.
func EncryptToken(serverPubkeyHex string, platform model.Platform, deviceToken string) ([]byte, error) {
	tokenBytes := []byte(deviceToken)
	if len(tokenBytes) > MaxTokenLength {
		return nil, ErrInvalidTokenLength
	}

	serverRaw, err := hex.DecodeString(serverPubkeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode server pubkey: %w", err)
	}
	serverPubkey, err := secp256k1.ParsePubKey(serverRaw)
	if err != nil {
		return nil, fmt.Errorf("parse server pubkey: %w", err)
	}

	ephemeralKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}

	key, err := deriveKey(ephemeralKey, serverPubkey)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	// Padded payload: platform byte, big-endian length, token, random
	// padding up to 220 bytes so ciphertext length never leaks the true
	// token length.
	payload := make([]byte, PaddedPayloadSize)
	payload[0] = platform.Byte()
	binary.BigEndian.PutUint16(payload[1:3], uint16(len(tokenBytes)))
	copy(payload[3:], tokenBytes)
	if _, err := rand.Read(payload[3+len(tokenBytes):]); err != nil {
		return nil, fmt.Errorf("random padding: %w", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("random nonce: %w", err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	blob := make([]byte, 0, EncryptedTokenSize)
	blob = append(blob, ephemeralKey.PubKey().SerializeCompressed()...)
	blob = append(blob, nonce...)
	blob = aead.Seal(blob, nonce, payload, nil)
	return blob, nil
}

// deriveKey computes the shared-secret x-coordinate between the two keys
// and expands it into a 32-byte symmetric key via HKDF-SHA256.
func deriveKey(secretKey *secp256k1.PrivateKey, publicKey *secp256k1.PublicKey) ([]byte, error) {
	sharedX := secp256k1.GenerateSharedSecret(secretKey, publicKey)

	key := make([]byte, chacha20poly1305.KeySize)
	reader := hkdf.New(sha256.New, sharedX, hkdfSalt, hkdfInfo)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return key, nil
}
