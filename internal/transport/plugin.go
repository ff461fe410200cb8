package transport

import (
	"fmt"
	"sync"
)

// FetchStatus is the outcome a feed-fetch plugin reports.
type FetchStatus int

const (
	FetchReady FetchStatus = iota
	FetchCanceled
	FetchError
)

// FetchResult is the completion notification of a plugin fetch.
type FetchResult struct {
	Status FetchStatus
	Data   []byte
	Err    error
}

// FeedFetcher is the contract a feed-fetch plugin object implements.
// GetFeed reports whether the asynchronous operation was accepted; the
// result arrives on Finished. The internals (login, pagination, scraping)
// are opaque to the caller.
type FeedFetcher interface {
	GetFeed(settings map[string]string) bool
	Cancel()
	Finished() <-chan FetchResult
}

// FetcherResolver resolves a FeedFetcher by plugin identifier. The plugin
// registry implements it.
type FetcherResolver interface {
	ResolveFeedFetcher(pluginID string) (FeedFetcher, error)
}

// PluginFetch adapts a resolved FeedFetcher to the Transfer contract.
type PluginFetch struct {
	resolver FetcherResolver
	pluginID string
	settings map[string]string

	mu      sync.Mutex
	status  Status
	err     error
	result  []byte
	fetcher FeedFetcher
	done    chan struct{}
}

// NewPluginFetch prepares a plugin-backed fetch.
func NewPluginFetch(resolver FetcherResolver, pluginID string, settings map[string]string) *PluginFetch {
	return &PluginFetch{
		resolver: resolver,
		pluginID: pluginID,
		settings: settings,
		status:   StatusIdle,
		done:     make(chan struct{}),
	}
}

func (p *PluginFetch) Start() {
	p.mu.Lock()
	if p.status != StatusIdle {
		p.mu.Unlock()
		return
	}
	p.status = StatusActive
	p.mu.Unlock()

	go p.run()
}

func (p *PluginFetch) Cancel() {
	p.mu.Lock()
	fetcher := p.fetcher
	p.mu.Unlock()
	if fetcher != nil {
		fetcher.Cancel()
	}
}

func (p *PluginFetch) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *PluginFetch) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *PluginFetch) Result() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

func (p *PluginFetch) Done() <-chan struct{} {
	return p.done
}

func (p *PluginFetch) run() {
	defer close(p.done)

	fetcher, err := p.resolver.ResolveFeedFetcher(p.pluginID)
	if err != nil {
		p.finish(StatusError, nil, err)
		return
	}

	p.mu.Lock()
	p.fetcher = fetcher
	p.mu.Unlock()

	if !fetcher.GetFeed(p.settings) {
		p.finish(StatusError, nil, fmt.Errorf("plugin %q rejected the fetch request", p.pluginID))
		return
	}

	res := <-fetcher.Finished()
	switch res.Status {
	case FetchReady:
		p.finish(StatusReady, res.Data, nil)
	case FetchCanceled:
		p.finish(StatusCanceled, nil, nil)
	default:
		err := res.Err
		if err == nil {
			err = fmt.Errorf("plugin %q reported an error", p.pluginID)
		}
		p.finish(StatusError, nil, err)
	}
}

func (p *PluginFetch) finish(status Status, data []byte, err error) {
	p.mu.Lock()
	p.status = status
	p.result = data
	p.err = err
	p.mu.Unlock()
}
