// Package cache manages the on-disk cache layout: one directory per
// subscription holding its icon and one subdirectory per article for
// locally cached images referenced from rewritten article bodies.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
)

const iconFileName = "icon.png"

// Manager resolves and maintains cache paths under a single root.
type Manager struct {
	root string
}

func New(root string) *Manager {
	return &Manager{root: root}
}

// Root returns the cache root directory.
func (m *Manager) Root() string {
	return m.root
}

// SubscriptionDir returns the cache directory for a subscription.
func (m *Manager) SubscriptionDir(subscriptionID string) string {
	return filepath.Join(m.root, subscriptionID)
}

// ArticleDir returns the image cache directory for one article.
func (m *Manager) ArticleDir(subscriptionID, articleID string) string {
	return filepath.Join(m.root, subscriptionID, articleID)
}

// IconPath returns the icon location for a subscription. The file may not
// exist yet.
func (m *Manager) IconPath(subscriptionID string) string {
	return filepath.Join(m.root, subscriptionID, iconFileName)
}

// EnsureArticleDir creates an article's image directory.
func (m *Manager) EnsureArticleDir(subscriptionID, articleID string) (string, error) {
	dir := m.ArticleDir(subscriptionID, articleID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create article cache dir: %w", err)
	}
	return dir, nil
}

// WriteIcon stores the encoded icon bytes for a subscription and returns
// the icon path.
func (m *Manager) WriteIcon(subscriptionID string, data []byte) (string, error) {
	dir := m.SubscriptionDir(subscriptionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create subscription cache dir: %w", err)
	}
	path := m.IconPath(subscriptionID)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write icon: %w", err)
	}
	return path, nil
}

// RemoveSubscription deletes a subscription's entire cache subtree.
func (m *Manager) RemoveSubscription(subscriptionID string) error {
	if subscriptionID == "" {
		return nil
	}
	return os.RemoveAll(m.SubscriptionDir(subscriptionID))
}

// RemoveArticle deletes one article's image cache directory.
func (m *Manager) RemoveArticle(subscriptionID, articleID string) error {
	if subscriptionID == "" || articleID == "" {
		return nil
	}
	return os.RemoveAll(m.ArticleDir(subscriptionID, articleID))
}
