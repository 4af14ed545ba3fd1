package core

import (
	"context"
	"fmt"
	"log/slog"
)

// HandleBillingWebhook verifies and applies a billing provider event.
// Signature failures are returned as billing.ErrInvalidSignature.
func (service *CoreService) HandleBillingWebhook(ctx context.Context, payload []byte, signature string) error {
	if service.billing == nil {
		return fmt.Errorf("%w: billing webhooks are not configured", ErrInvalid)
	}
	eventType, err := service.billing.Handle(ctx, payload, signature)
	if err != nil {
		return err
	}
	slog.Info("billing event processed", "type", eventType)
	return nil
}
