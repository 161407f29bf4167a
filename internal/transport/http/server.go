package http

import (
	"context"
	"errors"
	"fmt"
	"log"
	stdhttp "net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/mostrop2p/mostro-push/internal/config"
	"github.com/mostrop2p/mostro-push/internal/crypto"
	"github.com/mostrop2p/mostro-push/internal/handler"
	"github.com/mostrop2p/mostro-push/internal/nostr"
	"github.com/mostrop2p/mostro-push/internal/push"
	"github.com/mostrop2p/mostro-push/internal/store"
)

// Run loads configuration, wires every component together and serves
// until SIGINT/SIGTERM. The Nostr listener shares the server's lifetime
// through the signal context.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tokenCrypto, err := crypto.New(cfg.ServerSecretKey)
	if err != nil {
		return fmt.Errorf("failed to initialize crypto: %w", err)
	}
	log.Printf("[Server] Server pubkey: %s", tokenCrypto.PublicKeyHex())

	tokenStore := store.New()

	services, err := buildPushServices(ctx, cfg)
	if err != nil {
		return err
	}
	if len(services) == 0 {
		log.Printf("[Server] WARNING: no push backends configured, events will be dropped")
	}

	listener, err := nostr.NewListener(cfg.NostrRelays, cfg.MostroPubkey, tokenStore, services)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	go listener.Start(ctx)

	tokenHandler := handler.NewTokenHandler(tokenStore, tokenCrypto)
	server := &stdhttp.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: NewRouter(tokenHandler),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Server] Listening on :%s", cfg.ServerPort)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Printf("[Server] Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// buildPushServices assembles the ordered backend list. FCM first when
// configured, Expo as the credential-free fallback.
func buildPushServices(ctx context.Context, cfg *config.Config) ([]push.Service, error) {
	var services []push.Service

	if cfg.FCMEnabled() {
		fcm, err := push.NewFCMService(ctx, cfg.FCMProjectID, cfg.FCMClientEmail, cfg.FCMPrivateKey, cfg.PushTitle, cfg.PushBody)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize FCM: %w", err)
		}
		services = append(services, fcm)
	}

	if cfg.ExpoPushEnabled {
		services = append(services, push.NewExpoPushService(cfg.PushTitle, cfg.PushBody))
	}

	return services, nil
}
