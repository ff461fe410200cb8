// Package transport implements the strategies used to retrieve raw feed
// bytes: an HTTP downloader with manual redirect handling, an external
// process runner and a plugin-backed fetcher. All three share the Transfer
// contract consumed by the update queue.
package transport

// Status is the lifecycle state of a transfer.
type Status int

const (
	StatusIdle Status = iota
	StatusActive
	StatusCanceled
	StatusReady
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusActive:
		return "active"
	case StatusCanceled:
		return "canceled"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Transfer is the common contract of all transport strategies. A transfer
// runs at most once: Start begins the operation, Done is closed exactly
// once when it finishes, and Result is valid only when Status is
// StatusReady. Cancel is best-effort.
type Transfer interface {
	Start()
	Cancel()
	Status() Status
	Err() error
	Result() []byte
	Done() <-chan struct{}
}
