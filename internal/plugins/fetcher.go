package plugins

import (
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"github.com/feedhaven/feedhaven/internal/transport"
)

// feedFetch adapts one plugin runtime to the transport.FeedFetcher
// contract. Each instance serves a single getFeed invocation.
type feedFetch struct {
	runtime  *Runtime
	finished chan transport.FetchResult

	mu       sync.Mutex
	started  bool
	canceled bool
}

func newFeedFetch(runtime *Runtime) *feedFetch {
	return &feedFetch{
		runtime:  runtime,
		finished: make(chan transport.FetchResult, 1),
	}
}

// GetFeed starts the asynchronous fetch. It reports false when the fetch
// was already started or canceled.
func (f *feedFetch) GetFeed(settings map[string]string) bool {
	f.mu.Lock()
	if f.started || f.canceled {
		f.mu.Unlock()
		return false
	}
	f.started = true
	f.mu.Unlock()

	go f.run(settings)
	return true
}

// Cancel marks the fetch canceled. The plugin call itself cannot be
// interrupted mid-flight; its eventual result is discarded. Calling it
// more than once is harmless.
func (f *feedFetch) Cancel() {
	f.mu.Lock()
	wasStarted := f.started
	f.canceled = true
	f.mu.Unlock()
	if !wasStarted {
		select {
		case f.finished <- transport.FetchResult{Status: transport.FetchCanceled}:
		default:
		}
	}
}

func (f *feedFetch) Finished() <-chan transport.FetchResult {
	return f.finished
}

func (f *feedFetch) run(settings map[string]string) {
	val, err := f.runtime.Call("getFeed", settings)

	f.mu.Lock()
	canceled := f.canceled
	f.mu.Unlock()
	if canceled {
		f.finished <- transport.FetchResult{Status: transport.FetchCanceled}
		return
	}

	if err != nil {
		f.finished <- transport.FetchResult{Status: transport.FetchError, Err: err}
		return
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		f.finished <- transport.FetchResult{
			Status: transport.FetchError,
			Err:    fmt.Errorf("plugin %q getFeed returned no data", f.runtime.Manifest().ID),
		}
		return
	}

	f.finished <- transport.FetchResult{Status: transport.FetchReady, Data: []byte(val.String())}
}
