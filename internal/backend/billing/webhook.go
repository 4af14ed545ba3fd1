package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jo-hoe/contentdesk/internal/backend/database"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	SignatureHeader    = "Stripe-Signature"
	signatureTolerance = 5 * time.Minute
	planMetadataKey    = "plan"
	statusCanceled     = "canceled"
	statusActive       = "active"
)

// ErrInvalidSignature is returned for payloads that do not carry a valid signature.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Store is the part of the database the billing webhooks update.
type Store interface {
	GetOrganization(ctx context.Context, id string) (*database.Organization, error)
	GetOrganizationByCustomer(ctx context.Context, customerID string) (*database.Organization, error)
	UpdateSubscription(ctx context.Context, orgID, plan, status, customerID, subscriptionID string) error
}

// WebhookHandler keeps organization billing state in sync with payment events.
type WebhookHandler struct {
	secret      string
	store       Store
	planByPrice map[string]string
}

// NewWebhookHandler creates a handler. planByPrice maps price ids to plan names for
// prices that carry neither a plan metadata entry nor a lookup key.
func NewWebhookHandler(secret string, store Store, planByPrice map[string]string) *WebhookHandler {
	return &WebhookHandler{secret: secret, store: store, planByPrice: planByPrice}
}

// Handle verifies and applies one event. Event types that do not concern billing
// state are acknowledged without changes.
func (h *WebhookHandler) Handle(ctx context.Context, payload []byte, signature string) (stripe.EventType, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, h.secret, webhook.ConstructEventOptions{
		Tolerance:                signatureTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return event.Type, fmt.Errorf("failed to parse checkout session: %w", err)
		}
		return event.Type, h.checkoutCompleted(ctx, &session)
	case stripe.EventTypeCustomerSubscriptionCreated, stripe.EventTypeCustomerSubscriptionUpdated:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return event.Type, fmt.Errorf("failed to parse subscription: %w", err)
		}
		return event.Type, h.subscriptionChanged(ctx, &sub)
	case stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return event.Type, fmt.Errorf("failed to parse subscription: %w", err)
		}
		return event.Type, h.subscriptionDeleted(ctx, &sub)
	default:
		slog.Debug("ignoring billing event", "type", event.Type, "id", event.ID)
		return event.Type, nil
	}
}

func (h *WebhookHandler) checkoutCompleted(ctx context.Context, session *stripe.CheckoutSession) error {
	if session.ClientReferenceID == "" {
		slog.Warn("checkout session without organization reference", "session", session.ID)
		return nil
	}
	org, err := h.store.GetOrganization(ctx, session.ClientReferenceID)
	if err != nil {
		return fmt.Errorf("failed to load organization of checkout %s: %w", session.ID, err)
	}

	status := org.SubscriptionStatus
	var customerID, subscriptionID string
	if session.Customer != nil {
		customerID = session.Customer.ID
	}
	if session.Subscription != nil {
		subscriptionID = session.Subscription.ID
		status = statusActive
	}
	if err := h.store.UpdateSubscription(ctx, org.ID, org.Plan, status, customerID, subscriptionID); err != nil {
		return err
	}
	slog.Info("checkout completed", "org", org.ID, "customer", customerID, "subscription", subscriptionID)
	return nil
}

func (h *WebhookHandler) subscriptionChanged(ctx context.Context, sub *stripe.Subscription) error {
	org, err := h.organizationOf(ctx, sub)
	if err != nil {
		return err
	}
	plan := h.planOf(sub)
	if plan == "" {
		plan = org.Plan
	}
	if err := h.store.UpdateSubscription(ctx, org.ID, plan, string(sub.Status), customerID(sub), sub.ID); err != nil {
		return err
	}
	slog.Info("subscription updated", "org", org.ID, "plan", plan, "status", sub.Status)
	return nil
}

func (h *WebhookHandler) subscriptionDeleted(ctx context.Context, sub *stripe.Subscription) error {
	org, err := h.organizationOf(ctx, sub)
	if err != nil {
		return err
	}
	if err := h.store.UpdateSubscription(ctx, org.ID, database.DefaultPlan, statusCanceled, "", ""); err != nil {
		return err
	}
	slog.Info("subscription canceled", "org", org.ID, "subscription", sub.ID)
	return nil
}

// organizationOf finds the organization by customer, falling back to an "org"
// metadata entry set when the subscription was created.
func (h *WebhookHandler) organizationOf(ctx context.Context, sub *stripe.Subscription) (*database.Organization, error) {
	if id := customerID(sub); id != "" {
		org, err := h.store.GetOrganizationByCustomer(ctx, id)
		if err == nil {
			return org, nil
		}
		if !errors.Is(err, database.ErrNotFound) {
			return nil, err
		}
	}
	if orgID := sub.Metadata["org"]; orgID != "" {
		return h.store.GetOrganization(ctx, orgID)
	}
	return nil, fmt.Errorf("no organization for subscription %s: %w", sub.ID, database.ErrNotFound)
}

func (h *WebhookHandler) planOf(sub *stripe.Subscription) string {
	if plan := sub.Metadata[planMetadataKey]; plan != "" {
		return plan
	}
	if sub.Items == nil {
		return ""
	}
	for _, item := range sub.Items.Data {
		if item.Price == nil {
			continue
		}
		if plan := item.Price.Metadata[planMetadataKey]; plan != "" {
			return plan
		}
		if item.Price.LookupKey != "" {
			return item.Price.LookupKey
		}
		if plan, ok := h.planByPrice[item.Price.ID]; ok {
			return plan
		}
	}
	return ""
}

func customerID(sub *stripe.Subscription) string {
	if sub.Customer == nil {
		return ""
	}
	return sub.Customer.ID
}
