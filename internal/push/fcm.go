package push

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/mostrop2p/mostro-push/internal/model"
)

const fcmSendTimeout = 10 * time.Second

// FCMService delivers notifications through Firebase Cloud Messaging.
// FCM reaches Android devices directly and iOS devices by proxying APNs,
// so it serves both platforms.
//
// The notification carries no message content: the actual payload is a
// gift-wrapped Nostr event the device fetches itself, so the push is only
// a wake-up nudge.
type FCMService struct {
	client *messaging.Client
	title  string
	body   string
}

// NewFCMService creates an FCM backend from service-account credentials.
//
// The credentials come from Firebase Console (Project Settings -> Service
// Accounts). Private keys pasted into .env files carry literal "\n"
// sequences, so those are rewritten to real newlines before handing the
// PEM to the SDK.
func NewFCMService(ctx context.Context, projectID, clientEmail, privateKey, title, body string) (*FCMService, error) {
	privateKey = strings.ReplaceAll(privateKey, "\\n", "\n")

	credsJSON := fmt.Sprintf(`{
		"type": "service_account",
		"project_id": %q,
		"private_key": %q,
		"client_email": %q,
		"token_uri": "https://oauth2.googleapis.com/token"
	}`, projectID, privateKey, clientEmail)

	opt := option.WithCredentialsJSON([]byte(credsJSON))
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("get messaging client: %w", err)
	}

	log.Printf("[FCM] Initialized for project: %s", projectID)
	return &FCMService{client: client, title: title, body: body}, nil
}

func (s *FCMService) Name() string {
	return "fcm"
}

func (s *FCMService) SupportsPlatform(platform model.Platform) bool {
	return platform == model.PlatformAndroid || platform == model.PlatformIOS
}

// SendToToken sends the wake-up notification to a single device token.
func (s *FCMService) SendToToken(ctx context.Context, deviceToken string, platform model.Platform) error {
	ctx, cancel := context.WithTimeout(ctx, fcmSendTimeout)
	defer cancel()

	message := &messaging.Message{
		Token: deviceToken,
		Notification: &messaging.Notification{
			Title: s.title,
			Body:  s.body,
		},
		Android: &messaging.AndroidConfig{
			// High priority so the device wakes even in battery-saving mode.
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound: "default",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: "default",
				},
			},
		},
	}

	id, err := s.client.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}

	log.Printf("[FCM] Sent %s notification (message id %s)", platform, id)
	return nil
}
