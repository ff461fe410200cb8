// Package events carries the typed notifications broadcast by the storage
// gateway and consumed by the updater, the websocket hub and any other
// observer. It decouples writers from any specific UI.
package events

// Event is a single typed notification. Name identifies the event kind on
// the wire; Payload is the JSON-serializable body.
type Event struct {
	Name    string      `json:"event"`
	Payload interface{} `json:"data,omitempty"`
}

// Event names, one per mutation the storage gateway performs.
const (
	SubscriptionsAdded  = "subscriptionsAdded"
	SubscriptionDeleted = "subscriptionDeleted"
	SubscriptionUpdated = "subscriptionUpdated"
	SubscriptionRead    = "subscriptionRead"
	ArticlesAdded       = "articlesAdded"
	ArticlesDeleted     = "articlesDeleted"
	ArticleFavourited   = "articleFavourited"
	ArticleRead         = "articleRead"
	ReadArticlesDeleted = "readArticlesDeleted"
	Error               = "error"

	// Updater state, surfaced for UI observers.
	UpdaterStatus   = "updaterStatus"
	UpdaterProgress = "updaterProgress"

	// Enclosure transfer state.
	TransferUpdated = "transferUpdated"
)

// Payload types for the events above.

type SubscriptionsAddedPayload struct {
	IDs []string `json:"ids"`
}

type SubscriptionPayload struct {
	ID string `json:"id"`
}

type SubscriptionReadPayload struct {
	ID     string `json:"id"`
	IsRead bool   `json:"is_read"`
}

type ArticlesPayload struct {
	ArticleIDs     []string `json:"article_ids"`
	SubscriptionID string   `json:"subscription_id"`
}

type ArticleFavouritedPayload struct {
	ID          string `json:"id"`
	IsFavourite bool   `json:"is_favourite"`
}

type ArticleReadPayload struct {
	ID             string `json:"id"`
	SubscriptionID string `json:"subscription_id"`
	IsRead         bool   `json:"is_read"`
}

type ReadArticlesDeletedPayload struct {
	Count int `json:"count"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type UpdaterStatusPayload struct {
	Status     string `json:"status"`
	StatusText string `json:"status_text"`
}

type UpdaterProgressPayload struct {
	Progress int `json:"progress"`
}

type TransferPayload struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}
