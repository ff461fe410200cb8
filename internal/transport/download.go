package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
)

// MaxRedirects bounds how many Location hops a download will follow before
// failing with ErrMaxRedirects.
const MaxRedirects = 8

// ErrMaxRedirects is returned when a download exceeds MaxRedirects hops.
var ErrMaxRedirects = errors.New("Maximum redirects reached")

// minProgressBuffer is how many bytes must arrive before the progress
// value is recomputed, so that tiny reads don't churn observers.
const minProgressBuffer = 64 * 1024

// Download retrieves a URL over HTTP (or a file:// URI through the same
// abstraction) with manual redirect following and byte accounting.
type Download struct {
	url        string
	userAgent  string
	client     *http.Client
	onProgress func(percent int)

	ctx    context.Context
	cancel context.CancelFunc

	mu               sync.Mutex
	status           Status
	err              error
	result           []byte
	bytesTransferred int64
	contentLength    int64
	progress         int
	sinceLastReport  int64
	canceled         bool // set by Cancel, not by Pause
	done             chan struct{}
}

// NewDownload prepares a download for the given URL. Local file paths must
// already be in file:// URI form; see NormalizeSource.
func NewDownload(rawURL, userAgent string) *Download {
	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	// file:// URIs go through the same downloader so that local feeds share
	// the redirect/error handling path.
	transport.RegisterProtocol("file", http.NewFileTransport(http.Dir("/")))

	ctx, cancel := context.WithCancel(context.Background())
	return &Download{
		url:       rawURL,
		userAgent: userAgent,
		client: &http.Client{
			Transport: transport,
			// Redirects are followed manually so the hop count can be
			// bounded and reported.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		ctx:    ctx,
		cancel: cancel,
		status: StatusIdle,
		done:   make(chan struct{}),
	}
}

// OnProgress registers an observer for download progress (0-100). Must be
// called before Start.
func (d *Download) OnProgress(fn func(percent int)) {
	d.onProgress = fn
}

// NormalizeSource converts a local file path into the file:// URI form the
// downloader expects; URLs pass through unchanged.
func NormalizeSource(source string) string {
	if strings.Contains(source, "://") {
		return source
	}
	abs, err := filepath.Abs(source)
	if err != nil {
		abs = source
	}
	return "file://" + filepath.ToSlash(abs)
}

func (d *Download) Start() {
	d.mu.Lock()
	if d.status != StatusIdle {
		d.mu.Unlock()
		return
	}
	d.status = StatusActive
	d.mu.Unlock()

	go d.fetch()
}

// Cancel aborts the transfer. The resulting status is StatusCanceled, as
// opposed to Pause which aborts without marking the transfer canceled.
func (d *Download) Cancel() {
	d.mu.Lock()
	d.canceled = true
	d.mu.Unlock()
	d.cancel()
}

// Pause aborts the in-flight request without treating it as a user cancel;
// the transfer finishes with StatusError and a context error.
func (d *Download) Pause() {
	d.cancel()
}

func (d *Download) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Download) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Result returns the downloaded bytes; valid only once Status is
// StatusReady.
func (d *Download) Result() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.result
}

func (d *Download) Done() <-chan struct{} {
	return d.done
}

// Progress reports bytes transferred against the declared Content-Length,
// 0-100. Unknown lengths report 0 until completion.
func (d *Download) Progress() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.progress
}

// BytesTransferred reports how many body bytes have arrived so far.
func (d *Download) BytesTransferred() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bytesTransferred
}

func (d *Download) fetch() {
	defer close(d.done)

	current := d.url
	for hop := 0; ; hop++ {
		resp, err := d.get(current)
		if err != nil {
			d.finishError(err)
			return
		}

		if location := redirectTarget(resp); location != "" {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if hop >= MaxRedirects {
				d.finishError(ErrMaxRedirects)
				return
			}
			next, err := resolveLocation(current, location)
			if err != nil {
				d.finishError(fmt.Errorf("invalid redirect location %q: %w", location, err))
				return
			}
			current = next
			continue
		}

		d.readBody(resp)
		return
	}
}

func (d *Download) get(rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(d.ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", d.userAgent)
	return d.client.Do(req)
}

func (d *Download) readBody(resp *http.Response) {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		d.finishError(fmt.Errorf("server returned %s", resp.Status))
		return
	}

	d.mu.Lock()
	d.contentLength = resp.ContentLength
	d.mu.Unlock()

	var body []byte
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			body = append(body, buf[:n]...)
			d.account(int64(n))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			d.finishError(err)
			return
		}
	}

	d.mu.Lock()
	d.result = body
	d.progress = 100
	d.status = StatusReady
	d.mu.Unlock()
	if d.onProgress != nil {
		d.onProgress(100)
	}
}

// account tracks received bytes, recomputing progress only once a minimum
// buffer has accumulated.
func (d *Download) account(n int64) {
	d.mu.Lock()
	d.bytesTransferred += n
	d.sinceLastReport += n
	if d.sinceLastReport < minProgressBuffer || d.contentLength <= 0 {
		d.mu.Unlock()
		return
	}
	d.sinceLastReport = 0
	percent := int(d.bytesTransferred * 100 / d.contentLength)
	if percent > 100 {
		percent = 100
	}
	changed := percent != d.progress
	d.progress = percent
	fn := d.onProgress
	d.mu.Unlock()

	if changed && fn != nil {
		fn(percent)
	}
}

func (d *Download) finishError(err error) {
	d.mu.Lock()
	if d.canceled {
		d.status = StatusCanceled
	} else {
		d.status = StatusError
		d.err = err
	}
	d.mu.Unlock()
}

func redirectTarget(resp *http.Response) string {
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return resp.Header.Get("Location")
	}
	return ""
}

func resolveLocation(base, location string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(ref).String(), nil
}
