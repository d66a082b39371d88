// Package push sends Web Push messages to browser endpoints and
// classifies provider responses into permanent vs transient failures.
package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"golang.org/x/time/rate"

	"deskwire/internal/subscription"
)

// ErrEndpointGone signals a permanent failure: the provider reported
// the endpoint as no longer existing. The subscription must be removed
// and the send never retried.
var ErrEndpointGone = errors.New("push endpoint gone")

// Sender delivers one payload to one subscription.
type Sender interface {
	Send(ctx context.Context, sub *subscription.PushSubscription, payload []byte) error
}

// WebPush sends VAPID-signed Web Push requests.
type WebPush struct {
	publicKey  string
	privateKey string
	subscriber string
	timeout    time.Duration
	limiter    *rate.Limiter
}

// NewWebPush builds a sender. sendsPerSecond throttles outbound
// provider calls across all workers in this process.
func NewWebPush(publicKey, privateKey, subscriber string, timeout time.Duration, sendsPerSecond int) *WebPush {
	if sendsPerSecond <= 0 {
		sendsPerSecond = 50
	}
	return &WebPush{
		publicKey:  publicKey,
		privateKey: privateKey,
		subscriber: subscriber,
		timeout:    timeout,
		limiter:    rate.NewLimiter(rate.Limit(sendsPerSecond), sendsPerSecond),
	}
}

// PublicKey returns the VAPID public key handed to browsers.
func (w *WebPush) PublicKey() string {
	return w.publicKey
}

// Send delivers the payload. It returns ErrEndpointGone on a permanent
// failure; any other error is transient and may be retried.
func (w *WebPush) Send(ctx context.Context, sub *subscription.PushSubscription, payload []byte) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("push rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		Subscriber:      w.subscriber,
		VAPIDPublicKey:  w.publicKey,
		VAPIDPrivateKey: w.privateKey,
		TTL:             3600,
	})
	if err != nil {
		return fmt.Errorf("push send failed: %w", err)
	}
	defer resp.Body.Close()

	return ClassifyStatus(resp.StatusCode)
}

// ClassifyStatus maps a provider HTTP status to the delivery outcome:
// nil for success, ErrEndpointGone for a dead endpoint, and a transient
// error for everything else.
func ClassifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound || code == http.StatusGone:
		return ErrEndpointGone
	default:
		return fmt.Errorf("push provider returned status %d", code)
	}
}
