package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mostrop2p/mostro-push/internal/model"
)

const expoPushURL = "https://exp.host/--/api/v2/push/send"

// ExpoPushService delivers notifications through Expo's Push API. Expo
// handles both iOS and Android behind one endpoint and needs no
// credentials, which makes it the natural fallback backend.
//
// It only understands Expo-format tokens ("ExponentPushToken[...]"); any
// other token is rejected up front so the listener's ordered fallback can
// move on.
type ExpoPushService struct {
	httpClient *http.Client
	title      string
	body       string
}

// expoPushMessage is the payload for Expo's Push API.
type expoPushMessage struct {
	To       []string `json:"to"`
	Title    string   `json:"title,omitempty"`
	Body     string   `json:"body"`
	Sound    string   `json:"sound,omitempty"`
	Priority string   `json:"priority,omitempty"`
}

// expoPushResponse is the per-token ticket list Expo returns.
type expoPushResponse struct {
	Data []struct {
		Status  string `json:"status"` // "ok" or "error"
		Message string `json:"message,omitempty"`
		Details struct {
			Error string `json:"error,omitempty"`
		} `json:"details,omitempty"`
	} `json:"data"`
}

// NewExpoPushService creates an Expo Push backend.
func NewExpoPushService(title, body string) *ExpoPushService {
	return &ExpoPushService{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		title: title,
		body:  body,
	}
}

func (s *ExpoPushService) Name() string {
	return "expo"
}

func (s *ExpoPushService) SupportsPlatform(platform model.Platform) bool {
	return platform == model.PlatformAndroid || platform == model.PlatformIOS
}

// SendToToken posts the notification to Expo's Push API for one token.
func (s *ExpoPushService) SendToToken(ctx context.Context, deviceToken string, platform model.Platform) error {
	if !isExpoToken(deviceToken) {
		return fmt.Errorf("not an expo push token")
	}

	message := expoPushMessage{
		To:       []string{deviceToken},
		Title:    s.title,
		Body:     s.body,
		Sound:    "default",
		Priority: "high",
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, expoPushURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("expo api error: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var pushResp expoPushResponse
	if err := json.Unmarshal(respBody, &pushResp); err != nil {
		// Expo accepted the push; a malformed ticket list is not a
		// delivery failure.
		log.Printf("[ExpoPush] Failed to parse response: %v", err)
		return nil
	}

	for _, ticket := range pushResp.Data {
		if ticket.Status != "ok" {
			return fmt.Errorf("expo ticket error: %s (%s)", ticket.Message, ticket.Details.Error)
		}
	}

	log.Printf("[ExpoPush] Sent %s notification", platform)
	return nil
}

func isExpoToken(token string) bool {
	return strings.HasPrefix(token, "ExponentPushToken[") || strings.HasPrefix(token, "ExpoPushToken[")
}
