package core

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/url"
	"testing"
	"time"

	"github.com/jo-hoe/contentdesk/internal/backend/database"
	"github.com/jo-hoe/contentdesk/internal/backend/realtime"
	"github.com/jo-hoe/contentdesk/internal/backend/runpod"
	"github.com/jo-hoe/contentdesk/internal/backend/storage"
)

func pngBase64(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode error: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func createJob(t *testing.T, service *CoreService, userID string) *database.GenerationJob {
	t.Helper()
	session := newSession(t, service, userID, "USER")
	job, err := service.CreateGenerationJob(context.Background(), session, CreateJobRequest{
		Type:   "image",
		Prompt: "a lighthouse at dusk",
		Params: json.RawMessage(`{"steps":20}`),
	})
	if err != nil {
		t.Fatalf("CreateGenerationJob error: %v", err)
	}
	return job
}

func TestCreateGenerationJob_Submits(t *testing.T) {
	service, gpu := newTestService(t)
	sub := subscribe(t, service, realtime.GenerationChannel("u1"))

	job := createJob(t, service, "u1")

	if job.Status != database.JobStatusSubmitted || job.ExternalID != "rp-1" {
		t.Fatalf("unexpected job after submit: %+v", job)
	}
	hook, err := url.Parse(gpu.lastWebhook())
	if err != nil {
		t.Fatalf("webhook url: %v", err)
	}
	if hook.Path != runpod.WebhookPath || hook.Query().Get("jobId") != job.ID {
		t.Fatalf("unexpected webhook url %q", gpu.lastWebhook())
	}
	if !service.VerifyJobWebhook(job.ID, hook.Query().Get("sig")) {
		t.Fatalf("webhook signature of submitted job does not verify")
	}
	if service.VerifyJobWebhook("other-job", hook.Query().Get("sig")) {
		t.Fatalf("signature must be bound to the job id")
	}

	ev := receiveEvent(t, sub)
	if ev.Name != EventJobCreated {
		t.Fatalf("event = %q, want %q", ev.Name, EventJobCreated)
	}
}

func TestCreateGenerationJob_SubmitFailure(t *testing.T) {
	service, gpu := newTestService(t)
	gpu.setFailSubmit(true)
	session := newSession(t, service, "u1", "USER")
	sub := subscribe(t, service, realtime.GenerationChannel("u1"))

	_, err := service.CreateGenerationJob(context.Background(), session, CreateJobRequest{Type: "image", Prompt: "x"})
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("error = %v, want ErrUpstream", err)
	}

	jobs, err := service.ListJobs(context.Background(), session)
	if err != nil {
		t.Fatalf("ListJobs error: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != database.JobStatusFailed || jobs[0].Error == "" {
		t.Fatalf("expected one FAILED job, got %+v", jobs)
	}
	if ev := receiveEvent(t, sub); ev.Name != EventJobFailed {
		t.Fatalf("event = %q, want %q", ev.Name, EventJobFailed)
	}
}

func TestCreateGenerationJob_Rejects(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	owner := newSession(t, service, "owner", "USER")
	stranger := newSession(t, service, "stranger", "USER")
	org, err := service.CreateOrganization(ctx, owner, "Acme")
	if err != nil {
		t.Fatalf("CreateOrganization error: %v", err)
	}

	tests := []struct {
		name    string
		session string
		req     CreateJobRequest
		wantErr error
	}{
		{"unknown type", "owner", CreateJobRequest{Type: "music", Prompt: "x"}, ErrInvalid},
		{"empty prompt", "owner", CreateJobRequest{Type: "image", Prompt: "  "}, ErrInvalid},
		{"invalid params", "owner", CreateJobRequest{Type: "image", Prompt: "x", Params: json.RawMessage(`{`)}, ErrInvalid},
		{"type without endpoint", "owner", CreateJobRequest{Type: "video", Prompt: "x"}, ErrInvalid},
		{"not a member", "stranger", CreateJobRequest{OrgID: org.ID, Type: "image", Prompt: "x"}, ErrForbidden},
		{"missing org", "owner", CreateJobRequest{OrgID: "nope", Type: "image", Prompt: "x"}, database.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := owner
			if tt.session == "stranger" {
				session = stranger
			}
			_, err := service.CreateGenerationJob(ctx, session, tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := service.CreateGenerationJob(ctx, owner, CreateJobRequest{OrgID: org.ID, Type: "IMAGE", Prompt: "x"}); err != nil {
		t.Fatalf("member job with upper-case type failed: %v", err)
	}
}

func TestGetJob_OwnerOnly(t *testing.T) {
	service, _ := newTestService(t)
	job := createJob(t, service, "u1")
	other := newSession(t, service, "u2", "ADMIN")

	if _, err := service.GetJob(context.Background(), other, job.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("GetJob by other user error = %v, want ErrForbidden", err)
	}
	owner := newSession(t, service, "u1", "USER")
	got, err := service.GetJob(context.Background(), owner, job.ID)
	if err != nil || got.ID != job.ID {
		t.Fatalf("GetJob by owner = %+v, %v", got, err)
	}
	if _, err := service.GetJob(context.Background(), owner, "missing"); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("GetJob(missing) error = %v, want ErrNotFound", err)
	}
}

func TestHandleJobWebhook_ImageOutput(t *testing.T) {
	service, _ := newTestService(t)
	job := createJob(t, service, "u1")
	sub := subscribe(t, service, realtime.GenerationChannel("u1"))
	ctx := context.Background()

	output, _ := json.Marshal(map[string]string{"image": "data:image/png;base64," + pngBase64(t, 640, 320)})
	updated, err := service.HandleJobWebhook(ctx, job.ID, &runpod.JobStatus{ID: "rp-1", Status: runpod.StatusCompleted, Output: output})
	if err != nil {
		t.Fatalf("HandleJobWebhook error: %v", err)
	}
	if updated.Status != database.JobStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED (error %q)", updated.Status, updated.Error)
	}
	if updated.OutputKey != storage.GenerationOutputKey(job.ID) || updated.ThumbnailKey != storage.GenerationThumbnailKey(job.ID) {
		t.Fatalf("unexpected keys: %+v", updated)
	}

	store := service.objects.(*storage.MemoryStore)
	thumb, ok := store.Get(updated.ThumbnailKey)
	if !ok {
		t.Fatalf("thumbnail not stored")
	}
	decoded, err := png.Decode(bytes.NewReader(thumb.Data))
	if err != nil {
		t.Fatalf("thumbnail is not a png: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() > 320 || b.Dy() > 320 {
		t.Fatalf("thumbnail too large: %v", b)
	}
	if _, ok := store.Get(updated.OutputKey); !ok {
		t.Fatalf("output not stored")
	}

	if ev := receiveEvent(t, sub); ev.Name != EventJobUpdated {
		t.Fatalf("event = %q, want %q", ev.Name, EventJobUpdated)
	}

	// Redelivery and late failures leave the finished job alone.
	again, err := service.HandleJobWebhook(ctx, job.ID, &runpod.JobStatus{ID: "rp-1", Status: runpod.StatusFailed, Error: "late"})
	if err != nil {
		t.Fatalf("second HandleJobWebhook error: %v", err)
	}
	if again.Status != database.JobStatusCompleted || again.Error != "" {
		t.Fatalf("terminal job changed: %+v", again)
	}
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event for unchanged job: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleJobWebhook_Outcomes(t *testing.T) {
	tests := []struct {
		name       string
		status     runpod.JobStatus
		wantStatus string
		wantURL    string
		wantError  string
	}{
		{
			name:       "video url",
			status:     runpod.JobStatus{Status: runpod.StatusCompleted, Output: json.RawMessage(`{"video_url":"https://cdn.test/v.mp4"}`)},
			wantStatus: database.JobStatusCompleted,
			wantURL:    "https://cdn.test/v.mp4",
		},
		{
			name:       "list output",
			status:     runpod.JobStatus{Status: runpod.StatusCompleted, Output: json.RawMessage(`[{"audio_url":"https://cdn.test/a.mp3"}]`)},
			wantStatus: database.JobStatusCompleted,
			wantURL:    "https://cdn.test/a.mp3",
		},
		{
			name:       "empty output",
			status:     runpod.JobStatus{Status: runpod.StatusCompleted},
			wantStatus: database.JobStatusFailed,
			wantError:  "job returned no output",
		},
		{
			name:       "broken image",
			status:     runpod.JobStatus{Status: runpod.StatusCompleted, Output: json.RawMessage(`{"image":"aGVsbG8="}`)},
			wantStatus: database.JobStatusFailed,
			wantError:  "failed to process image output",
		},
		{
			name:       "failed with message",
			status:     runpod.JobStatus{Status: runpod.StatusFailed, Error: "CUDA out of memory"},
			wantStatus: database.JobStatusFailed,
			wantError:  "CUDA out of memory",
		},
		{
			name:       "timed out",
			status:     runpod.JobStatus{Status: runpod.StatusTimedOut},
			wantStatus: database.JobStatusFailed,
			wantError:  "job timed_out",
		},
		{
			name:       "still running",
			status:     runpod.JobStatus{Status: runpod.StatusInProgress},
			wantStatus: database.JobStatusSubmitted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, _ := newTestService(t)
			job := createJob(t, service, "u1")

			updated, err := service.HandleJobWebhook(context.Background(), job.ID, &tt.status)
			if err != nil {
				t.Fatalf("HandleJobWebhook error: %v", err)
			}
			if updated.Status != tt.wantStatus || updated.OutputURL != tt.wantURL || updated.Error != tt.wantError {
				t.Fatalf("got status=%s url=%q error=%q, want %s %q %q",
					updated.Status, updated.OutputURL, updated.Error, tt.wantStatus, tt.wantURL, tt.wantError)
			}
		})
	}
}

func TestHandleJobWebhook_Rejects(t *testing.T) {
	service, _ := newTestService(t)
	job := createJob(t, service, "u1")
	ctx := context.Background()

	if _, err := service.HandleJobWebhook(ctx, job.ID, &runpod.JobStatus{ID: "rp-other", Status: runpod.StatusCompleted}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("mismatched external id error = %v, want ErrInvalid", err)
	}
	if _, err := service.HandleJobWebhook(ctx, "missing", &runpod.JobStatus{Status: runpod.StatusCompleted}); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("missing job error = %v, want ErrNotFound", err)
	}
}

func TestReconcileStaleJobs(t *testing.T) {
	service, gpu := newTestService(t)
	job := createJob(t, service, "u1")
	ctx := context.Background()

	// Nothing is stale yet.
	if n, err := service.ReconcileStaleJobs(ctx); err != nil || n != 0 {
		t.Fatalf("ReconcileStaleJobs = %d, %v; want 0", n, err)
	}

	service.now = func() time.Time { return time.Now().Add(time.Hour) }
	if n, err := service.ReconcileStaleJobs(ctx); err != nil || n != 0 {
		t.Fatalf("ReconcileStaleJobs with running job = %d, %v; want 0", n, err)
	}

	gpu.setStatus(`{"id":"rp-1","status":"COMPLETED","output":{"image_url":"https://cdn.test/i.png"}}`)
	n, err := service.ReconcileStaleJobs(ctx)
	if err != nil {
		t.Fatalf("ReconcileStaleJobs error: %v", err)
	}
	if n != 1 {
		t.Fatalf("finished = %d, want 1", n)
	}
	owner := newSession(t, service, "u1", "USER")
	got, err := service.GetJob(ctx, owner, job.ID)
	if err != nil {
		t.Fatalf("GetJob error: %v", err)
	}
	if got.Status != database.JobStatusCompleted || got.OutputURL != "https://cdn.test/i.png" {
		t.Fatalf("unexpected reconciled job: %+v", got)
	}
	if err := service.ReconcileTask(ctx); err != nil {
		t.Fatalf("ReconcileTask error: %v", err)
	}
}
