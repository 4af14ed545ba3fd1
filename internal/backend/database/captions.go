package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"
)

func (s *SQLDatabase) AddCaption(ctx context.Context, orgID, authorID, caption string) (*CaptionItem, error) {
	id, err := generateID()
	if err != nil {
		return nil, err
	}
	now := toMillis(time.Now())
	item := &CaptionItem{
		ID:        id,
		OrgID:     orgID,
		AuthorID:  authorID,
		Caption:   caption,
		CreatedAt: fromMillis(now),
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.lockCaptionQueue(ctx, tx, orgID); err != nil {
			return err
		}
		items, err := s.listCaptions(ctx, tx, orgID)
		if err != nil {
			return err
		}
		last := ""
		if len(items) > 0 {
			last = items[len(items)-1].Rank
		}
		item.Rank = RankAfter(last)
		_, err = s.exec(ctx, tx, `INSERT INTO caption_queue (id, org_id, author_id, caption, rank, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			item.ID, item.OrgID, item.AuthorID, item.Caption, item.Rank, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add caption to queue of organization %s: %w", orgID, err)
	}
	return item, nil
}

// lockCaptionQueue serializes rank assignment within an organization's queue
// by locking its organization row until tx ends. SQLite transactions already
// run one at a time.
func (s *SQLDatabase) lockCaptionQueue(ctx context.Context, tx *sql.Tx, orgID string) error {
	var id string
	err := s.queryRow(ctx, tx, s.lockOrgQuery(), orgID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *SQLDatabase) lockOrgQuery() string {
	query := "SELECT id FROM organizations WHERE id = ?"
	if s.dialect == dialectPostgres {
		query += " FOR UPDATE"
	}
	return query
}

func (s *SQLDatabase) ListCaptions(ctx context.Context, orgID string) ([]*CaptionItem, error) {
	return s.listCaptions(ctx, s.db, orgID)
}

func (s *SQLDatabase) listCaptions(ctx context.Context, q queryer, orgID string) ([]*CaptionItem, error) {
	rows, err := s.query(ctx, q, `SELECT id, org_id, author_id, caption, rank, created_at
		FROM caption_queue WHERE org_id = ?`, orgID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	items := []*CaptionItem{}
	for rows.Next() {
		var item CaptionItem
		var created int64
		if err := rows.Scan(&item.ID, &item.OrgID, &item.AuthorID, &item.Caption, &item.Rank, &created); err != nil {
			return nil, err
		}
		item.CreatedAt = fromMillis(created)
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Ranks compare byte-wise; database collations may not, so order here.
	sort.Slice(items, func(i, j int) bool {
		if items[i].Rank != items[j].Rank {
			return items[i].Rank < items[j].Rank
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *SQLDatabase) MoveCaption(ctx context.Context, orgID, id, beforeID string) (*CaptionItem, error) {
	if id == beforeID {
		return nil, fmt.Errorf("caption %s cannot be moved before itself: %w", id, ErrInvalidArgument)
	}

	var moved *CaptionItem
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.lockCaptionQueue(ctx, tx, orgID); err != nil {
			return err
		}
		items, err := s.listCaptions(ctx, tx, orgID)
		if err != nil {
			return err
		}

		// Remove the moved item so its own rank is not used as a neighbor.
		others := make([]*CaptionItem, 0, len(items))
		for _, item := range items {
			if item.ID == id {
				moved = item
				continue
			}
			others = append(others, item)
		}
		if moved == nil {
			return ErrNotFound
		}

		var prev, next string
		if beforeID == "" {
			if len(others) > 0 {
				prev = others[len(others)-1].Rank
			}
		} else {
			idx := -1
			for i, item := range others {
				if item.ID == beforeID {
					idx = i
					break
				}
			}
			if idx < 0 {
				return ErrNotFound
			}
			next = others[idx].Rank
			if idx > 0 {
				prev = others[idx-1].Rank
			}
		}

		if beforeID == "" {
			moved.Rank = RankAfter(prev)
		} else {
			moved.Rank = Between(prev, next)
		}
		_, err = s.exec(ctx, tx, "UPDATE caption_queue SET rank = ? WHERE id = ? AND org_id = ?", moved.Rank, id, orgID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

func (s *SQLDatabase) DeleteCaption(ctx context.Context, orgID, id string) error {
	res, err := s.exec(ctx, s.db, "DELETE FROM caption_queue WHERE id = ? AND org_id = ?", id, orgID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}
