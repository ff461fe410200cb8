package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/feedhaven/feedhaven/internal/models"
)

const subscriptionColumns = `id, title, description, source, source_type, url, icon_path,
	download_enclosures, update_interval, last_updated, unread_articles, created_at`

func scanSubscription(row interface{ Scan(...interface{}) error }) (*models.Subscription, error) {
	var sub models.Subscription
	var lastUpdated sql.NullTime
	err := row.Scan(&sub.ID, &sub.Title, &sub.Description, &sub.Source, &sub.SourceType,
		&sub.URL, &sub.IconPath, &sub.DownloadEnclosures, &sub.UpdateInterval,
		&lastUpdated, &sub.UnreadArticles, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lastUpdated.Valid {
		t := lastUpdated.Time
		sub.LastUpdated = &t
	}
	return &sub, nil
}

// AddSubscription inserts a single subscription record.
func (s *Store) AddSubscription(sub *models.Subscription) error {
	if sub.Title == "" {
		sub.Title = "New subscription"
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO subscriptions
		(id, title, description, source, source_type, url, icon_path,
		 download_enclosures, update_interval, last_updated, unread_articles, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		sub.ID, sub.Title, sub.Description, sub.Source, sub.SourceType, sub.URL,
		sub.IconPath, sub.DownloadEnclosures, sub.UpdateInterval, sub.LastUpdated,
		sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add subscription: %w", err)
	}
	return nil
}

// AddSubscriptions inserts a batch of subscriptions in a single
// transaction. Used by the OPML importer.
func (s *Store) AddSubscriptions(subs []*models.Subscription) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO subscriptions
		(id, title, description, source, source_type, url, icon_path,
		 download_enclosures, update_interval, last_updated, unread_articles, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, sub := range subs {
		if sub.Title == "" {
			sub.Title = "New subscription"
		}
		if sub.CreatedAt.IsZero() {
			sub.CreatedAt = now
		}
		_, err := stmt.Exec(sub.ID, sub.Title, sub.Description, sub.Source, sub.SourceType,
			sub.URL, sub.IconPath, sub.DownloadEnclosures, sub.UpdateInterval,
			sub.LastUpdated, sub.CreatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetSubscription fetches a single subscription by id.
func (s *Store) GetSubscription(id string) (*models.Subscription, error) {
	row := s.db.QueryRow("SELECT "+subscriptionColumns+" FROM subscriptions WHERE id = ?", id)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("subscription %s not found", id)
	}
	return sub, err
}

// GetAllSubscriptions returns every subscription ordered by creation time.
func (s *Store) GetAllSubscriptions() ([]*models.Subscription, error) {
	rows, err := s.db.Query("SELECT " + subscriptionColumns + " FROM subscriptions ORDER BY created_at, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// GetDueSubscriptions returns subscriptions whose update interval has
// elapsed as of now. Interval 0 means "never auto-update"; a subscription
// that has never been updated is always due.
func (s *Store) GetDueSubscriptions(now time.Time) ([]*models.Subscription, error) {
	rows, err := s.db.Query(`
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE update_interval > 0
		  AND (last_updated IS NULL OR strftime('%s', ?) - strftime('%s', last_updated) >= update_interval)
		ORDER BY created_at, id`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// SubscriptionUpdate carries the channel metadata refreshed after a fetch.
// Nil fields are left untouched.
type SubscriptionUpdate struct {
	Title          *string
	Description    *string
	URL            *string
	IconPath       *string
	UpdateInterval *int
	LastUpdated    *time.Time
}

// UpdateSubscription applies the non-nil fields of upd to the record.
func (s *Store) UpdateSubscription(id string, upd SubscriptionUpdate) error {
	query := "UPDATE subscriptions SET "
	var args []interface{}
	appendSet := func(col string, val interface{}) {
		if len(args) > 0 {
			query += ", "
		}
		query += col + " = ?"
		args = append(args, val)
	}
	if upd.Title != nil {
		appendSet("title", *upd.Title)
	}
	if upd.Description != nil {
		appendSet("description", *upd.Description)
	}
	if upd.URL != nil {
		appendSet("url", *upd.URL)
	}
	if upd.IconPath != nil {
		appendSet("icon_path", *upd.IconPath)
	}
	if upd.UpdateInterval != nil {
		appendSet("update_interval", *upd.UpdateInterval)
	}
	if upd.LastUpdated != nil {
		appendSet("last_updated", *upd.LastUpdated)
	}
	if len(args) == 0 {
		return nil
	}
	query += " WHERE id = ?"
	args = append(args, id)

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update subscription %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("subscription %s not found", id)
	}
	return nil
}

// DeleteSubscription removes a subscription; its articles go with it via
// the foreign key cascade.
func (s *Store) DeleteSubscription(id string) error {
	res, err := s.db.Exec("DELETE FROM subscriptions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete subscription %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("subscription %s not found", id)
	}
	return nil
}

// MarkSubscriptionRead sets the read flag on all of a subscription's
// articles and resets the unread counter. Marking unread restores the
// counter to the article count.
func (s *Store) MarkSubscriptionRead(id string, read bool) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if read {
		_, err = tx.Exec("UPDATE articles SET read = 1, last_read = ? WHERE subscription_id = ? AND read = 0",
			time.Now(), id)
	} else {
		_, err = tx.Exec("UPDATE articles SET read = 0, last_read = NULL WHERE subscription_id = ? AND read = 1", id)
	}
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		UPDATE subscriptions SET unread_articles =
			(SELECT COUNT(*) FROM articles WHERE subscription_id = ? AND read = 0)
		WHERE id = ?`, id, id)
	if err != nil {
		return err
	}

	return tx.Commit()
}
