package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jo-hoe/contentdesk/internal/backend/auth"
	"github.com/jo-hoe/contentdesk/internal/backend/realtime"
)

// fakeGPU answers the run and status endpoints of the GPU job service.
type fakeGPU struct {
	server *httptest.Server

	mu         sync.Mutex
	webhooks   []string
	failSubmit bool
	statusBody string
}

func newFakeGPU(t *testing.T) *fakeGPU {
	t.Helper()
	gpu := &fakeGPU{statusBody: `{"id":"rp-1","status":"IN_PROGRESS"}`}
	gpu.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gpu.mu.Lock()
		defer gpu.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/run"):
			if gpu.failSubmit {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"no workers available"}`))
				return
			}
			var body struct {
				Webhook string `json:"webhook"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			gpu.webhooks = append(gpu.webhooks, body.Webhook)
			_, _ = w.Write([]byte(`{"id":"rp-1","status":"IN_QUEUE"}`))
		case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/status/"):
			_, _ = w.Write([]byte(gpu.statusBody))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(gpu.server.Close)
	return gpu
}

func (gpu *fakeGPU) setFailSubmit(fail bool) {
	gpu.mu.Lock()
	defer gpu.mu.Unlock()
	gpu.failSubmit = fail
}

func (gpu *fakeGPU) setStatus(body string) {
	gpu.mu.Lock()
	defer gpu.mu.Unlock()
	gpu.statusBody = body
}

func (gpu *fakeGPU) lastWebhook() string {
	gpu.mu.Lock()
	defer gpu.mu.Unlock()
	if len(gpu.webhooks) == 0 {
		return ""
	}
	return gpu.webhooks[len(gpu.webhooks)-1]
}

func testConfig(gpuURL string) *ServiceConfig {
	config := &ServiceConfig{
		PublicURL: "https://desk.example.com",
		Database:  Database{Type: "sqlite", ConnectionString: ":memory:"},
		Auth:      AuthConfig{HMACSecret: "session-secret-0123456789", Issuer: "test"},
		Realtime:  RealtimeConfig{TokenSecret: "realtime-secret-0123456789"},
		RunPod: RunPodConfig{
			BaseURL:       gpuURL,
			APIKey:        "rp-key",
			WebhookSecret: "webhook-secret-0123456789",
			Timeout:       2 * time.Second,
			Endpoints:     map[string]string{JobTypeImage: "ep-image"},
		},
	}
	config.applyDefaults()
	return config
}

func newTestService(t *testing.T) (*CoreService, *fakeGPU) {
	t.Helper()
	gpu := newFakeGPU(t)
	config := testConfig(gpu.server.URL)
	if err := config.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	service, err := NewCoreService(context.Background(), config)
	if err != nil {
		t.Fatalf("NewCoreService error: %v", err)
	}
	t.Cleanup(func() { _ = service.Close() })
	return service, gpu
}

// newSession creates the user and returns a session carrying its platform role.
func newSession(t *testing.T, service *CoreService, userID, role string) *auth.Session {
	t.Helper()
	ctx := context.Background()
	if _, err := service.Database().UpsertUser(ctx, userID, userID+"@example.com", "USER"); err != nil {
		t.Fatalf("UpsertUser error: %v", err)
	}
	if role != "USER" {
		if err := service.Database().SetUserRole(ctx, userID, role); err != nil {
			t.Fatalf("SetUserRole error: %v", err)
		}
	}
	return &auth.Session{UserID: userID, Email: userID + "@example.com", Role: role}
}

func subscribe(t *testing.T, service *CoreService, channel string) *realtime.Subscription {
	t.Helper()
	sub, err := service.broker.Subscribe(context.Background(), channel)
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	t.Cleanup(sub.Close)
	return sub
}

func receiveEvent(t *testing.T, sub *realtime.Subscription) realtime.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatalf("subscription on %s closed", sub.Channel())
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("no event on %s", sub.Channel())
	}
	return realtime.Event{}
}

func TestNewCoreService_Defaults(t *testing.T) {
	service, _ := newTestService(t)

	if service.Verifier() == nil || service.Tracker() == nil || service.Tokens() == nil {
		t.Fatalf("core components not wired")
	}
	if _, ok := service.broker.(*realtime.LocalBroker); !ok {
		t.Fatalf("expected local broker without redis, got %T", service.broker)
	}
	if service.billing != nil {
		t.Fatalf("billing must stay disabled without webhook secret")
	}
	if err := service.SweepPosts(context.Background()); err != nil {
		t.Fatalf("SweepPosts error: %v", err)
	}
	if err := service.SweepChanges(context.Background()); err != nil {
		t.Fatalf("SweepChanges error: %v", err)
	}
}

func TestNewCoreService_InvalidDatabase(t *testing.T) {
	config := testConfig("http://127.0.0.1:1")
	config.Database.Type = "mysql"
	if _, err := NewCoreService(context.Background(), config); err == nil {
		t.Fatalf("expected error for unsupported database")
	}
}
