package config

import (
	"errors"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Version is reported by the status and info endpoints.
const Version = "0.2.0"

const defaultRelay = "wss://relay.mostro.network"

type Config struct {
	ServerPort string

	// ServerSecretKey is the hex-encoded secp256k1 scalar clients encrypt
	// device tokens to. Required.
	ServerSecretKey string

	// MostroPubkey is the publisher whose gift-wrapped events trigger
	// pushes (64 hex characters). Required.
	MostroPubkey string

	// NostrRelays are the relay endpoints the listener subscribes to.
	NostrRelays []string

	// FCM service-account credentials; the FCM backend is enabled only
	// when all three are present.
	FCMProjectID   string
	FCMClientEmail string
	FCMPrivateKey  string

	// ExpoPushEnabled turns on the credential-free Expo backend.
	ExpoPushEnabled bool

	// PushTitle and PushBody are the fixed, content-free notification
	// text; the real message stays inside the gift wrap.
	PushTitle string
	PushBody  string
}

// FCMEnabled reports whether the FCM backend is fully configured.
func (c *Config) FCMEnabled() bool {
	return c.FCMProjectID != "" && c.FCMClientEmail != "" && c.FCMPrivateKey != ""
}

func LoadConfig() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading it, relying on environment variables")
	}

	serverPort := os.Getenv("SERVER_PORT")
	if serverPort == "" {
		serverPort = "8080"
	}

	secretKey := os.Getenv("SERVER_SECRET_KEY")
	if secretKey == "" {
		return nil, errors.New("SERVER_SECRET_KEY is required")
	}

	mostroPubkey := os.Getenv("MOSTRO_PUBKEY")
	if mostroPubkey == "" {
		return nil, errors.New("MOSTRO_PUBKEY is required")
	}

	relays := splitRelays(os.Getenv("NOSTR_RELAYS"))
	if len(relays) == 0 {
		relays = []string{defaultRelay}
	}

	pushTitle := os.Getenv("PUSH_TITLE")
	if pushTitle == "" {
		pushTitle = "Mostro"
	}
	pushBody := os.Getenv("PUSH_BODY")
	if pushBody == "" {
		pushBody = "You have a new trade update"
	}

	return &Config{
		ServerPort:      serverPort,
		ServerSecretKey: secretKey,
		MostroPubkey:    mostroPubkey,
		NostrRelays:     relays,

		FCMProjectID:   os.Getenv("FCM_PROJECT_ID"),
		FCMClientEmail: os.Getenv("FCM_CLIENT_EMAIL"),
		FCMPrivateKey:  os.Getenv("FCM_PRIVATE_KEY"),

		ExpoPushEnabled: os.Getenv("EXPO_PUSH_ENABLED") == "true",

		PushTitle: pushTitle,
		PushBody:  pushBody,
	}, nil
}

// splitRelays parses a comma-separated relay list, dropping empties.
func splitRelays(raw string) []string {
	var relays []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			relays = append(relays, trimmed)
		}
	}
	return relays
}
