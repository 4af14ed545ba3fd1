package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jo-hoe/contentdesk/internal/backend/changetracker"
	"github.com/jo-hoe/contentdesk/internal/backend/database"
	"github.com/jo-hoe/contentdesk/internal/backend/storage"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency = 4
	DefaultBatchSize   = 50
	mediaURLTTL        = time.Hour
)

// Store is the part of the database the sweep works on.
type Store interface {
	ListDuePosts(ctx context.Context, now time.Time, limit int) ([]*database.Post, error)
	ClaimPost(ctx context.Context, id string) (bool, error)
	SetPostStatus(ctx context.Context, id, status, externalID, errMsg string, publishedAt time.Time) error
}

// Result counts the outcome of one sweep.
type Result struct {
	Published int
	Failed    int
	// Skipped counts due posts another sweep claimed first or that were
	// unscheduled before they could be claimed.
	Skipped int
}

// PostScheduler publishes scheduled posts once they are due.
type PostScheduler struct {
	store       Store
	poster      Poster
	media       storage.ObjectStore
	tracker     *changetracker.Tracker
	concurrency int
	batchSize   int
	now         func() time.Time
}

// NewPostScheduler creates a scheduler. media and tracker may be nil.
func NewPostScheduler(store Store, poster Poster, media storage.ObjectStore, tracker *changetracker.Tracker, concurrency int) *PostScheduler {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if poster == nil {
		poster = LogPoster{}
	}
	return &PostScheduler{
		store:       store,
		poster:      poster,
		media:       media,
		tracker:     tracker,
		concurrency: concurrency,
		batchSize:   DefaultBatchSize,
		now:         time.Now,
	}
}

// Sweep publishes every due post. Each post is claimed first so that concurrent
// sweeps publish it once. A failing post is marked FAILED and does not stop the
// others.
func (s *PostScheduler) Sweep(ctx context.Context) (Result, error) {
	posts, err := s.store.ListDuePosts(ctx, s.now(), s.batchSize)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list due posts: %w", err)
	}
	if len(posts) == 0 {
		return Result{}, nil
	}

	var published, failed, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, post := range posts {
		g.Go(func() error {
			claimed, err := s.store.ClaimPost(gctx, post.ID)
			if err != nil {
				failed.Add(1)
				slog.Warn("failed to claim post", "post", post.ID, "org", post.OrgID, "error", err)
				return nil
			}
			if !claimed {
				skipped.Add(1)
				return nil
			}
			if err := s.publish(gctx, post); err != nil {
				failed.Add(1)
				slog.Warn("failed to publish post", "post", post.ID, "org", post.OrgID, "error", err)
				return nil
			}
			published.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	result := Result{Published: int(published.Load()), Failed: int(failed.Load()), Skipped: int(skipped.Load())}
	slog.Info("post sweep completed", "due", len(posts), "published", result.Published,
		"failed", result.Failed, "skipped", result.Skipped)
	return result, nil
}

func (s *PostScheduler) publish(ctx context.Context, post *database.Post) error {
	mediaURL, err := s.mediaURL(ctx, post)
	var externalID string
	if err == nil {
		externalID, err = s.poster.Publish(ctx, post, mediaURL)
	}

	status, kind, errMsg := database.PostStatusPublished, changetracker.KindPublished, ""
	publishedAt := s.now()
	if err != nil {
		status, kind, errMsg = database.PostStatusFailed, changetracker.KindUpdated, err.Error()
		publishedAt = time.Time{}
	}
	if serr := s.store.SetPostStatus(ctx, post.ID, status, externalID, errMsg, publishedAt); serr != nil {
		return fmt.Errorf("failed to record status %s: %w", status, serr)
	}
	if s.tracker != nil {
		s.tracker.MarkChanged(ctx, post.AuthorID, post.ID, kind)
	}
	return err
}

func (s *PostScheduler) mediaURL(ctx context.Context, post *database.Post) (string, error) {
	if post.MediaKey == "" || s.media == nil {
		return "", nil
	}
	return s.media.PresignGet(ctx, post.MediaKey, mediaURLTTL)
}
