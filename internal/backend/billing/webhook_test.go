package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jo-hoe/contentdesk/internal/backend/database"
)

const testSecret = "whsec_test_secret"

func sign(payload string, at time.Time, secret string) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func event(eventType, object string) string {
	return fmt.Sprintf(`{"id":"evt_1","object":"event","api_version":"2020-08-27","type":%q,"data":{"object":%s}}`, eventType, object)
}

func newTestStore(t *testing.T) (database.DatabaseService, *database.Organization) {
	t.Helper()
	ds, err := database.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteDatabase error: %v", err)
	}
	if _, err := ds.CreateDatabase(); err != nil {
		t.Fatalf("CreateDatabase error: %v", err)
	}
	t.Cleanup(func() { _ = ds.Close() })

	ctx := context.Background()
	if _, err := ds.UpsertUser(ctx, "user_1", "owner@example.com", "USER"); err != nil {
		t.Fatalf("UpsertUser error: %v", err)
	}
	org, err := ds.CreateOrganization(ctx, "Acme", "user_1")
	if err != nil {
		t.Fatalf("CreateOrganization error: %v", err)
	}
	return ds, org
}

func handle(t *testing.T, h *WebhookHandler, payload string) {
	t.Helper()
	if _, err := h.Handle(context.Background(), []byte(payload), sign(payload, time.Now(), testSecret)); err != nil {
		t.Fatalf("Handle error: %v", err)
	}
}

func TestWebhookHandler_SubscriptionLifecycle(t *testing.T) {
	ds, org := newTestStore(t)
	h := NewWebhookHandler(testSecret, ds, map[string]string{"price_agency": "agency"})
	ctx := context.Background()

	handle(t, h, event("checkout.session.completed",
		fmt.Sprintf(`{"id":"cs_1","object":"checkout.session","client_reference_id":%q,"customer":"cus_1","subscription":"sub_1"}`, org.ID)))

	got, err := ds.GetOrganizationByCustomer(ctx, "cus_1")
	if err != nil {
		t.Fatalf("GetOrganizationByCustomer error: %v", err)
	}
	if got.ID != org.ID || got.SubscriptionStatus != "active" || got.StripeSubscriptionID != "sub_1" {
		t.Fatalf("unexpected organization after checkout: %+v", got)
	}

	tests := []struct {
		name       string
		price      string
		wantPlan   string
		wantStatus string
	}{
		{"metadata plan", `{"id":"price_pro","object":"price","metadata":{"plan":"pro"}}`, "pro", "active"},
		{"lookup key", `{"id":"price_x","object":"price","lookup_key":"studio"}`, "studio", "past_due"},
		{"configured price", `{"id":"price_agency","object":"price"}`, "agency", "active"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := fmt.Sprintf(`{"id":"sub_1","object":"subscription","customer":"cus_1","status":%q,"items":{"object":"list","data":[{"id":"si_1","object":"subscription_item","price":%s}]}}`,
				tt.wantStatus, tt.price)
			handle(t, h, event("customer.subscription.updated", sub))

			got, err := ds.GetOrganization(ctx, org.ID)
			if err != nil {
				t.Fatalf("GetOrganization error: %v", err)
			}
			if got.Plan != tt.wantPlan || got.SubscriptionStatus != tt.wantStatus {
				t.Fatalf("plan/status = %s/%s, want %s/%s", got.Plan, got.SubscriptionStatus, tt.wantPlan, tt.wantStatus)
			}
		})
	}

	handle(t, h, event("customer.subscription.deleted", `{"id":"sub_1","object":"subscription","customer":"cus_1","status":"canceled"}`))
	got, _ = ds.GetOrganization(ctx, org.ID)
	if got.Plan != database.DefaultPlan || got.SubscriptionStatus != "canceled" {
		t.Fatalf("plan/status after delete = %s/%s", got.Plan, got.SubscriptionStatus)
	}
}

func TestWebhookHandler_RejectsBadSignature(t *testing.T) {
	ds, _ := newTestStore(t)
	h := NewWebhookHandler(testSecret, ds, nil)
	payload := event("invoice.paid", `{"id":"in_1","object":"invoice"}`)

	tests := []struct {
		name      string
		signature string
	}{
		{"missing", ""},
		{"wrong secret", sign(payload, time.Now(), "whsec_other")},
		{"too old", sign(payload, time.Now().Add(-10*time.Minute), testSecret)},
	}
	for _, tt := range tests {
		if _, err := h.Handle(context.Background(), []byte(payload), tt.signature); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("%s: error = %v, want ErrInvalidSignature", tt.name, err)
		}
	}
}

func TestWebhookHandler_UnknownEventsAcknowledged(t *testing.T) {
	ds, _ := newTestStore(t)
	h := NewWebhookHandler(testSecret, ds, nil)
	payload := event("invoice.paid", `{"id":"in_1","object":"invoice"}`)

	eventType, err := h.Handle(context.Background(), []byte(payload), sign(payload, time.Now(), testSecret))
	if err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	if eventType != "invoice.paid" {
		t.Fatalf("event type = %q", eventType)
	}
}

func TestWebhookHandler_UnknownCustomer(t *testing.T) {
	ds, _ := newTestStore(t)
	h := NewWebhookHandler(testSecret, ds, nil)
	payload := event("customer.subscription.updated", `{"id":"sub_9","object":"subscription","customer":"cus_unknown","status":"active"}`)

	_, err := h.Handle(context.Background(), []byte(payload), sign(payload, time.Now(), testSecret))
	if !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}
