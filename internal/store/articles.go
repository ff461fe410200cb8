package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/feedhaven/feedhaven/internal/models"
)

const articleColumns = `id, subscription_id, author, title, body, url, categories,
	date, enclosures, favourite, read, last_read`

func scanArticle(row interface{ Scan(...interface{}) error }) (*models.Article, error) {
	var a models.Article
	var enclosures string
	var lastRead sql.NullTime
	err := row.Scan(&a.ID, &a.SubscriptionID, &a.Author, &a.Title, &a.Body, &a.URL,
		&a.Categories, &a.Date, &enclosures, &a.Favourite, &a.Read, &lastRead)
	if err != nil {
		return nil, err
	}
	if lastRead.Valid {
		t := lastRead.Time
		a.LastRead = &t
	}
	if enclosures != "" && enclosures != "[]" {
		// A malformed enclosure list is not worth failing the whole row.
		_ = json.Unmarshal([]byte(enclosures), &a.Enclosures)
	}
	return &a, nil
}

// AddArticles inserts a batch of articles for one subscription in a single
// transaction and bumps the unread counter by the batch size. The batch is
// all-or-nothing: any per-row failure rolls back every row.
func (s *Store) AddArticles(subscriptionID string, articles []*models.Article) error {
	if len(articles) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO articles
		(id, subscription_id, author, title, body, url, categories, date,
		 enclosures, favourite, read, last_read)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, NULL)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range articles {
		enclosures, err := json.Marshal(a.Enclosures)
		if err != nil {
			return fmt.Errorf("failed to serialize enclosures for %q: %w", a.Title, err)
		}
		_, err = stmt.Exec(a.ID, subscriptionID, a.Author, a.Title, a.Body, a.URL,
			a.Categories, a.Date, string(enclosures))
		if err != nil {
			return fmt.Errorf("failed to insert article %q: %w", a.Title, err)
		}
	}

	_, err = tx.Exec("UPDATE subscriptions SET unread_articles = unread_articles + ? WHERE id = ?",
		len(articles), subscriptionID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// GetArticle fetches a single article by id.
func (s *Store) GetArticle(id string) (*models.Article, error) {
	row := s.db.QueryRow("SELECT "+articleColumns+" FROM articles WHERE id = ?", id)
	a, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("article %s not found", id)
	}
	return a, err
}

// GetArticles returns articles matching the filter, newest first.
func (s *Store) GetArticles(filter models.ArticleFilter) ([]*models.Article, error) {
	query := "SELECT " + articleColumns + " FROM articles WHERE 1=1"
	var args []interface{}
	if filter.SubscriptionID != "" {
		query += " AND subscription_id = ?"
		args = append(args, filter.SubscriptionID)
	}
	if filter.OnlyFavourites {
		query += " AND favourite = 1"
	}
	if filter.OnlyUnread {
		query += " AND read = 0"
	}
	if filter.Search != "" {
		query += " AND (title LIKE ? OR body LIKE ?)"
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern)
	}
	query += " ORDER BY date DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var articles []*models.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// DeleteArticle removes one article, keeping the owning subscription's
// unread counter consistent.
func (s *Store) DeleteArticle(id string) (subscriptionID string, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var read bool
	err = tx.QueryRow("SELECT subscription_id, read FROM articles WHERE id = ?", id).
		Scan(&subscriptionID, &read)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("article %s not found", id)
	}
	if err != nil {
		return "", err
	}

	if _, err = tx.Exec("DELETE FROM articles WHERE id = ?", id); err != nil {
		return "", err
	}
	if !read {
		_, err = tx.Exec("UPDATE subscriptions SET unread_articles = unread_articles - 1 WHERE id = ?",
			subscriptionID)
		if err != nil {
			return "", err
		}
	}

	return subscriptionID, tx.Commit()
}

// MarkArticleRead toggles the read flag. Transitioning to read stamps
// last_read, used by the expiry sweep.
func (s *Store) MarkArticleRead(id string, read bool) (subscriptionID string, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var wasRead bool
	err = tx.QueryRow("SELECT subscription_id, read FROM articles WHERE id = ?", id).
		Scan(&subscriptionID, &wasRead)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("article %s not found", id)
	}
	if err != nil {
		return "", err
	}
	if wasRead == read {
		return subscriptionID, tx.Commit()
	}

	if read {
		_, err = tx.Exec("UPDATE articles SET read = 1, last_read = ? WHERE id = ?", time.Now(), id)
	} else {
		_, err = tx.Exec("UPDATE articles SET read = 0, last_read = NULL WHERE id = ?", id)
	}
	if err != nil {
		return "", err
	}

	delta := -1
	if !read {
		delta = 1
	}
	_, err = tx.Exec("UPDATE subscriptions SET unread_articles = unread_articles + ? WHERE id = ?",
		delta, subscriptionID)
	if err != nil {
		return "", err
	}

	return subscriptionID, tx.Commit()
}

// MarkArticleFavourite toggles the favourite flag.
func (s *Store) MarkArticleFavourite(id string, favourite bool) error {
	res, err := s.db.Exec("UPDATE articles SET favourite = ? WHERE id = ?", favourite, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("article %s not found", id)
	}
	return nil
}

// DeleteExpiredArticles removes read, non-favourite articles last read
// before the cutoff. Returns how many were deleted.
func (s *Store) DeleteExpiredArticles(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`
		DELETE FROM articles
		WHERE read = 1 AND favourite = 0 AND last_read IS NOT NULL AND last_read < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
