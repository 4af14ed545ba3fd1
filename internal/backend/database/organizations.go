package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultPlan               = "free"
	DefaultSubscriptionStatus = "none"
	ownerRole                 = "OWNER"
)

const organizationColumns = `id, name, slug, plan, subscription_status, stripe_customer_id,
	stripe_subscription_id, created_at, updated_at`

func scanOrganization(row rowScanner) (*Organization, error) {
	var o Organization
	var created, updated int64
	err := row.Scan(&o.ID, &o.Name, &o.Slug, &o.Plan, &o.SubscriptionStatus,
		&o.StripeCustomerID, &o.StripeSubscriptionID, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	o.CreatedAt = fromMillis(created)
	o.UpdatedAt = fromMillis(updated)
	return &o, nil
}

func (s *SQLDatabase) CreateOrganization(ctx context.Context, name, ownerID string) (*Organization, error) {
	id, err := generateID()
	if err != nil {
		return nil, err
	}
	slug, err := generateSlug(name)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	org := &Organization{
		ID:                 id,
		Name:               name,
		Slug:               slug,
		Plan:               DefaultPlan,
		SubscriptionStatus: DefaultSubscriptionStatus,
		CreatedAt:          fromMillis(toMillis(now)),
		UpdatedAt:          fromMillis(toMillis(now)),
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, `INSERT INTO organizations (`+organizationColumns+`)
			VALUES (?, ?, ?, ?, ?, '', '', ?, ?)`,
			org.ID, org.Name, org.Slug, org.Plan, org.SubscriptionStatus, toMillis(now), toMillis(now)); err != nil {
			return fmt.Errorf("failed to insert organization: %w", err)
		}
		if _, err := s.exec(ctx, tx, "INSERT INTO members (org_id, user_id, role, created_at) VALUES (?, ?, ?, ?)",
			org.ID, ownerID, ownerRole, toMillis(now)); err != nil {
			return fmt.Errorf("failed to insert owner membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return org, nil
}

func (s *SQLDatabase) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	return scanOrganization(s.queryRow(ctx, s.db, "SELECT "+organizationColumns+" FROM organizations WHERE id = ?", id))
}

func (s *SQLDatabase) GetOrganizationByCustomer(ctx context.Context, customerID string) (*Organization, error) {
	if customerID == "" {
		return nil, ErrNotFound
	}
	return scanOrganization(s.queryRow(ctx, s.db,
		"SELECT "+organizationColumns+" FROM organizations WHERE stripe_customer_id = ?", customerID))
}

func (s *SQLDatabase) ListOrganizationsForUser(ctx context.Context, userID string) ([]*Organization, error) {
	rows, err := s.query(ctx, s.db, `SELECT o.id, o.name, o.slug, o.plan, o.subscription_status,
			o.stripe_customer_id, o.stripe_subscription_id, o.created_at, o.updated_at
		FROM organizations o JOIN members m ON m.org_id = o.id
		WHERE m.user_id = ? ORDER BY o.created_at, o.id`, userID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	orgs := []*Organization{}
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

// UpdateSubscription overwrites billing state; empty customerID or subscriptionID keep the stored value.
func (s *SQLDatabase) UpdateSubscription(ctx context.Context, orgID, plan, status, customerID, subscriptionID string) error {
	res, err := s.exec(ctx, s.db, `UPDATE organizations SET
			plan = ?,
			subscription_status = ?,
			stripe_customer_id = CASE WHEN CAST(? AS TEXT) <> '' THEN ? ELSE stripe_customer_id END,
			stripe_subscription_id = CASE WHEN CAST(? AS TEXT) <> '' THEN ? ELSE stripe_subscription_id END,
			updated_at = ?
		WHERE id = ?`,
		plan, status, customerID, customerID, subscriptionID, subscriptionID, toMillis(time.Now()), orgID)
	if err != nil {
		return fmt.Errorf("failed to update subscription of organization %s: %w", orgID, err)
	}
	return affectedOrNotFound(res)
}

func (s *SQLDatabase) AddMember(ctx context.Context, orgID, userID, role string) error {
	_, err := s.exec(ctx, s.db, `INSERT INTO members (org_id, user_id, role, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (org_id, user_id) DO UPDATE SET role = excluded.role`,
		orgID, userID, role, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to add member %s to organization %s: %w", userID, orgID, err)
	}
	return nil
}

func (s *SQLDatabase) GetMemberRole(ctx context.Context, orgID, userID string) (string, error) {
	var role string
	err := s.queryRow(ctx, s.db, "SELECT role FROM members WHERE org_id = ? AND user_id = ?", orgID, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return role, nil
}

func (s *SQLDatabase) ListMembers(ctx context.Context, orgID string) ([]*Member, error) {
	rows, err := s.query(ctx, s.db,
		"SELECT org_id, user_id, role, created_at FROM members WHERE org_id = ? ORDER BY created_at, user_id", orgID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	members := []*Member{}
	for rows.Next() {
		var m Member
		var created int64
		if err := rows.Scan(&m.OrgID, &m.UserID, &m.Role, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = fromMillis(created)
		members = append(members, &m)
	}
	return members, rows.Err()
}

func (s *SQLDatabase) ListMemberOrgIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.query(ctx, s.db, "SELECT org_id FROM members WHERE user_id = ? ORDER BY org_id", userID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLDatabase) RemoveMember(ctx context.Context, orgID, userID string) error {
	res, err := s.exec(ctx, s.db, "DELETE FROM members WHERE org_id = ? AND user_id = ?", orgID, userID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (s *SQLDatabase) CreatePlan(ctx context.Context, plan *Plan) (*Plan, error) {
	id, err := generateID()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	created := *plan
	created.ID = id
	created.CreatedAt = fromMillis(toMillis(now))
	_, err = s.exec(ctx, s.db, `INSERT INTO plans (id, name, price_cents, monthly_credits, max_members, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		created.ID, created.Name, created.PriceCents, created.MonthlyCredits, created.MaxMembers, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("failed to create plan %s: %w", plan.Name, err)
	}
	return &created, nil
}

func (s *SQLDatabase) ListPlans(ctx context.Context) ([]*Plan, error) {
	rows, err := s.query(ctx, s.db,
		"SELECT id, name, price_cents, monthly_credits, max_members, created_at FROM plans ORDER BY price_cents, name")
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	plans := []*Plan{}
	for rows.Next() {
		var p Plan
		var created int64
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents, &p.MonthlyCredits, &p.MaxMembers, &created); err != nil {
			return nil, err
		}
		p.CreatedAt = fromMillis(created)
		plans = append(plans, &p)
	}
	return plans, rows.Err()
}
