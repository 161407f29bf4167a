package nostr

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/nbd-wtf/go-nostr"

	"github.com/mostrop2p/mostro-push/internal/model"
	"github.com/mostrop2p/mostro-push/internal/push"
)

const (
	// KindGiftWrap is the NIP-59 gift wrap event kind Mostro publishes.
	KindGiftWrap = 1059

	// replayWindow bounds the subscription's lower time bound. Wide enough
	// to cover events published while a reconnect was in flight, narrow
	// enough not to replay old history. Events inside the window can be
	// delivered twice across reconnects; delivery is at-least-once.
	replayWindow = 60 * time.Second

	// The two reconnect delays mirror the deployed bridge: a failed
	// connect or subscribe waits longer than a cleanly closed stream.
	connectFailureDelay = 10 * time.Second
	streamEndDelay      = 5 * time.Second
)

// TokenLookup is the read side of the token store the listener consults.
type TokenLookup interface {
	Get(tradePubkey string) (model.RegisteredToken, bool)
}

// Listener keeps a live subscription to the configured Nostr relays and
// forwards gift-wrapped events to the push backends of their recipients.
//
// It reconnects forever: relay-side failures are treated as transient,
// so there is no retry limit and no fatal error classification.
type Listener struct {
	relayURLs    []string
	mostroPubkey string
	store        TokenLookup
	services     []push.Service
}

// NewListener validates the Mostro publisher pubkey and builds a listener.
// The pubkey must be 64 lowercase hex characters naming a valid curve
// point; anything else fails construction.
func NewListener(relayURLs []string, mostroPubkey string, store TokenLookup, services []push.Service) (*Listener, error) {
	if len(relayURLs) == 0 {
		return nil, errors.New("no relay URLs configured")
	}
	if !nostr.IsValidPublicKey(mostroPubkey) {
		return nil, fmt.Errorf("invalid mostro pubkey format (expected 64 hex characters)")
	}
	raw, err := hex.DecodeString(mostroPubkey)
	if err != nil {
		return nil, fmt.Errorf("invalid mostro pubkey: %w", err)
	}
	// x-only key: lift with the even-y prefix to confirm it is on the curve.
	if _, err := secp256k1.ParsePubKey(append([]byte{0x02}, raw...)); err != nil {
		return nil, fmt.Errorf("invalid mostro pubkey: %w", err)
	}

	return &Listener{
		relayURLs:    relayURLs,
		mostroPubkey: mostroPubkey,
		store:        store,
		services:     services,
	}, nil
}

// Start runs the reconnect loop until ctx is cancelled. Intended to run
// for the lifetime of the process on its own goroutine.
func (l *Listener) Start(ctx context.Context) {
	for {
		err := l.connectAndListen(ctx)
		if ctx.Err() != nil {
			log.Printf("[Listener] Shutting down")
			return
		}
		if err != nil {
			log.Printf("[Listener] Error: %v, reconnecting in %s", err, connectFailureDelay)
			if !sleepContext(ctx, connectFailureDelay) {
				return
			}
		} else {
			log.Printf("[Listener] Connection closed, reconnecting in %s", streamEndDelay)
			if !sleepContext(ctx, streamEndDelay) {
				return
			}
		}
	}
}

// connectAndListen runs one session: connect every relay, subscribe, then
// drain the merged event stream until it ends. Returns an error only for
// connect/subscribe failures; a stream that ends returns nil.
func (l *Listener) connectAndListen(ctx context.Context) error {
	log.Printf("[Listener] Connecting to %d Nostr relays...", len(l.relayURLs))

	relays := make([]*nostr.Relay, 0, len(l.relayURLs))
	defer func() {
		for _, relay := range relays {
			relay.Close()
		}
	}()

	for _, url := range l.relayURLs {
		relay, err := nostr.RelayConnect(ctx, url)
		if err != nil {
			return fmt.Errorf("connect %s: %w", url, err)
		}
		relays = append(relays, relay)
		log.Printf("[Listener] Added relay: %s", url)
	}

	since := nostr.Timestamp(time.Now().Add(-replayWindow).Unix())
	filter := nostr.Filter{
		Kinds:   []int{KindGiftWrap},
		Authors: []string{l.mostroPubkey},
		Since:   &since,
	}

	subs := make([]*nostr.Subscription, 0, len(relays))
	for _, relay := range relays {
		sub, err := relay.Subscribe(ctx, nostr.Filters{filter})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", relay.URL, err)
		}
		subs = append(subs, sub)
	}
	log.Printf("[Listener] Subscribed to kind %d events from %s...", KindGiftWrap, shortKey(l.mostroPubkey))

	// Merge every relay's events onto one channel; it closes once all
	// subscriptions end, which is how a session finishes.
	events := make(chan *nostr.Event)
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *nostr.Subscription) {
			defer wg.Done()
			for event := range sub.Events {
				events <- event
			}
		}(sub)
	}
	go func() {
		wg.Wait()
		close(events)
	}()

	for event := range events {
		l.handleEvent(ctx, event)
	}
	return nil
}

// handleEvent dispatches a single gift-wrapped event to the recipient's
// push backend, if the recipient has a registered device.
func (l *Listener) handleEvent(ctx context.Context, event *nostr.Event) {
	if event.Kind != KindGiftWrap {
		return
	}

	recipient := recipientTag(event)
	if recipient == "" {
		log.Printf("[Listener] No 'p' tag in event %s, skipping", shortKey(event.ID))
		return
	}

	token, ok := l.store.Get(recipient)
	if !ok {
		// Most relay traffic is addressed to devices this bridge has
		// never seen; not an error.
		return
	}

	log.Printf("[Listener] Found registered token for %s..., sending push to %s device",
		shortKey(recipient), token.Platform)

	for _, service := range l.services {
		if !service.SupportsPlatform(token.Platform) {
			continue
		}
		if err := service.SendToToken(ctx, token.DeviceToken, token.Platform); err != nil {
			log.Printf("[Listener] %s delivery failed for event %s: %v",
				service.Name(), shortKey(event.ID), err)
			continue
		}
		log.Printf("[Listener] Push sent via %s for event %s", service.Name(), shortKey(event.ID))
		return
	}

	// No retry queue at this layer; retry is the backend's business.
	log.Printf("[Listener] All eligible backends failed for event %s, dropping", shortKey(event.ID))
}

// recipientTag returns the second element of the first "p" tag, or "".
func recipientTag(event *nostr.Event) string {
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == "p" {
			return tag[1]
		}
	}
	return ""
}

// sleepContext sleeps for d, returning false if ctx was cancelled first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func shortKey(s string) string {
	if len(s) < 16 {
		return s
	}
	return s[:16]
}
