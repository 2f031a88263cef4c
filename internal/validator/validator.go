// Package validator checks that external resource URLs are reachable
// before they are surfaced to users. Known learning platforms get
// platform-specific checks; everything else falls back to a plain
// HTTP probe.
package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sync"
	"time"
)

const (
	// DefaultConcurrency bounds how many URLs are probed at once.
	DefaultConcurrency = 3

	// DefaultTimeout is the per-URL request timeout.
	DefaultTimeout = 10 * time.Second

	// DefaultCacheTTL is how long a validation verdict is reused.
	DefaultCacheTTL = 24 * time.Hour

	defaultMaxRetries = 2
)

// Platform identifiers returned in validation results.
const (
	PlatformYouTube  = "youtube"
	PlatformCoursera = "coursera"
	PlatformUdemy    = "udemy"
	PlatformGeneric  = "generic"
)

var (
	youtubeRe  = regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/)([a-zA-Z0-9_-]{11})`)
	courseraRe = regexp.MustCompile(`coursera\.org/learn/([^/]+)`)
	udemyRe    = regexp.MustCompile(`udemy\.com/course/([^/]+)`)
)

// Result is the verdict for a single URL. Confidence expresses how
// certain the verdict is: 1.0 for a definitive answer, lower values
// for failures that may be transient.
type Result struct {
	URL        string    `json:"url"`
	Valid      bool      `json:"valid"`
	StatusCode int       `json:"status_code,omitempty"`
	Platform   string    `json:"platform"`
	Title      string    `json:"title,omitempty"`
	Author     string    `json:"author,omitempty"`
	Error      string    `json:"error,omitempty"`
	Confidence float64   `json:"confidence"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Validator probes resource URLs with a bounded worker pool and caches
// verdicts in memory.
type Validator struct {
	client      *http.Client
	concurrency int
	timeout     time.Duration
	cacheTTL    time.Duration
	maxRetries  int
	logger      *slog.Logger

	mu    sync.RWMutex
	cache map[string]Result
}

// Option configures a Validator.
type Option func(*Validator)

// WithConcurrency sets the worker pool width.
func WithConcurrency(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.concurrency = n
		}
	}
}

// WithTimeout sets the per-URL request timeout.
func WithTimeout(d time.Duration) Option {
	return func(v *Validator) {
		v.timeout = d
	}
}

// WithCacheTTL sets how long verdicts are cached.
func WithCacheTTL(d time.Duration) Option {
	return func(v *Validator) {
		v.cacheTTL = d
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(v *Validator) {
		v.client = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

// New creates a Validator with the given options.
func New(opts ...Option) *Validator {
	v := &Validator{
		client:      &http.Client{},
		concurrency: DefaultConcurrency,
		timeout:     DefaultTimeout,
		cacheTTL:    DefaultCacheTTL,
		maxRetries:  defaultMaxRetries,
		logger:      slog.Default(),
		cache:       make(map[string]Result),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateAll probes every URL concurrently, bounded by the pool
// width, and returns results in the same order as the input.
func (v *Validator) ValidateAll(ctx context.Context, urls []string) []Result {
	results := make([]Result, len(urls))
	sem := make(chan struct{}, v.concurrency)
	var wg sync.WaitGroup

	for i, url := range urls {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = v.Validate(ctx, url)
		}(i, url)
	}
	wg.Wait()
	return results
}

// Validate probes a single URL, consulting the verdict cache first.
func (v *Validator) Validate(ctx context.Context, url string) Result {
	if cached, ok := v.fromCache(url); ok {
		v.logger.Debug("using cached validation", "url", url)
		return cached
	}

	var result Result
	switch platform(url) {
	case PlatformYouTube:
		result = v.validateYouTube(ctx, url)
	case PlatformCoursera:
		result = v.validateGeneric(ctx, url, PlatformCoursera)
	case PlatformUdemy:
		result = v.validateGeneric(ctx, url, PlatformUdemy)
	default:
		result = v.validateGeneric(ctx, url, PlatformGeneric)
	}

	v.mu.Lock()
	v.cache[url] = result
	v.mu.Unlock()
	return result
}

// Stats summarizes the cached verdicts.
type Stats struct {
	TotalChecked int     `json:"total_checked"`
	ValidCount   int     `json:"valid_count"`
	InvalidCount int     `json:"invalid_count"`
	SuccessRate  float64 `json:"success_rate"`
}

// ValidationStats reports aggregate counts over cached verdicts.
func (v *Validator) ValidationStats() Stats {
	v.mu.RLock()
	defer v.mu.RUnlock()

	stats := Stats{TotalChecked: len(v.cache)}
	if stats.TotalChecked == 0 {
		return stats
	}
	for _, r := range v.cache {
		if r.Valid {
			stats.ValidCount++
		}
	}
	stats.InvalidCount = stats.TotalChecked - stats.ValidCount
	stats.SuccessRate = float64(stats.ValidCount) / float64(stats.TotalChecked) * 100
	return stats
}

func (v *Validator) fromCache(url string) (Result, bool) {
	v.mu.RLock()
	cached, ok := v.cache[url]
	v.mu.RUnlock()
	if !ok {
		return Result{}, false
	}
	if time.Since(cached.CheckedAt) >= v.cacheTTL {
		v.mu.Lock()
		delete(v.cache, url)
		v.mu.Unlock()
		return Result{}, false
	}
	return cached, true
}

// validateYouTube checks a video through the oEmbed endpoint, which
// needs no API key and returns 404 for removed or private videos.
func (v *Validator) validateYouTube(ctx context.Context, url string) Result {
	videoID := extractYouTubeID(url)
	if videoID == "" {
		return Result{
			URL:       url,
			Platform:  PlatformYouTube,
			Error:     "invalid youtube url format",
			CheckedAt: time.Now().UTC(),
		}
	}

	oembedURL := fmt.Sprintf(
		"https://www.youtube.com/oembed?url=https://www.youtube.com/watch?v=%s&format=json",
		videoID,
	)

	reqCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, oembedURL, nil)
	if err != nil {
		return Result{URL: url, Platform: PlatformYouTube, Error: err.Error(), Confidence: 0.3, CheckedAt: time.Now().UTC()}
	}
	resp, err := v.client.Do(req)
	if err != nil {
		confidence := 0.3
		if reqCtx.Err() == context.DeadlineExceeded {
			confidence = 0.5
		}
		v.logger.Warn("youtube validation failed", "url", url, "error", err)
		return Result{URL: url, Platform: PlatformYouTube, Error: err.Error(), Confidence: confidence, CheckedAt: time.Now().UTC()}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var meta struct {
			Title      string `json:"title"`
			AuthorName string `json:"author_name"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&meta)
		return Result{
			URL:        url,
			Valid:      true,
			StatusCode: http.StatusOK,
			Platform:   PlatformYouTube,
			Title:      meta.Title,
			Author:     meta.AuthorName,
			Confidence: 1.0,
			CheckedAt:  time.Now().UTC(),
		}
	case http.StatusNotFound:
		// A definitive verdict either way carries full confidence.
		return Result{
			URL:        url,
			StatusCode: http.StatusNotFound,
			Platform:   PlatformYouTube,
			Error:      "video not found or unavailable",
			Confidence: 1.0,
			CheckedAt:  time.Now().UTC(),
		}
	default:
		return Result{
			URL:        url,
			StatusCode: resp.StatusCode,
			Platform:   PlatformYouTube,
			Error:      fmt.Sprintf("unexpected status: %d", resp.StatusCode),
			Confidence: 0.3,
			CheckedAt:  time.Now().UTC(),
		}
	}
}

// validateGeneric probes with HEAD, falling back to GET when HEAD is
// not allowed. Rate limiting and timeouts are retried with backoff.
func (v *Validator) validateGeneric(ctx context.Context, url, plat string) Result {
	var lastErr string

	for attempt := 0; attempt <= v.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return Result{URL: url, Platform: plat, Error: ctx.Err().Error(), Confidence: 0.3, CheckedAt: time.Now().UTC()}
			}
		}

		status, err := v.probe(ctx, http.MethodHead, url)
		if err != nil {
			lastErr = err.Error()
			continue
		}

		switch {
		case status == http.StatusOK:
			return Result{URL: url, Valid: true, StatusCode: status, Platform: plat, Confidence: 1.0, CheckedAt: time.Now().UTC()}
		case status == http.StatusMethodNotAllowed:
			getStatus, err := v.probe(ctx, http.MethodGet, url)
			if err != nil {
				lastErr = err.Error()
				continue
			}
			valid := getStatus >= 200 && getStatus < 400
			result := Result{URL: url, Valid: valid, StatusCode: getStatus, Platform: plat, CheckedAt: time.Now().UTC()}
			if valid {
				result.Confidence = 1.0
			} else {
				result.Error = fmt.Sprintf("HTTP %d", getStatus)
			}
			return result
		case status == http.StatusTooManyRequests:
			lastErr = "rate limited"
			continue
		default:
			return Result{URL: url, StatusCode: status, Platform: plat, Error: fmt.Sprintf("HTTP %d", status), CheckedAt: time.Now().UTC()}
		}
	}

	if lastErr == "" {
		lastErr = "unknown error"
	}
	return Result{URL: url, Platform: plat, Error: lastErr, Confidence: 0.3, CheckedAt: time.Now().UTC()}
}

func (v *Validator) probe(ctx context.Context, method, url string) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func platform(url string) string {
	switch {
	case youtubeRe.MatchString(url):
		return PlatformYouTube
	case courseraRe.MatchString(url):
		return PlatformCoursera
	case udemyRe.MatchString(url):
		return PlatformUdemy
	default:
		return PlatformGeneric
	}
}

func extractYouTubeID(url string) string {
	m := youtubeRe.FindStringSubmatch(url)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
