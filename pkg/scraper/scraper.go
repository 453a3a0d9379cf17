package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xhad/chatweb/internal/models"
	"github.com/xhad/chatweb/pkg/logger"
	"github.com/xhad/chatweb/pkg/ragerr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type ScraperConfig struct {
	MaxDepth          int     // 0 fetches only the given page
	RateLimit         float64 // requests per second
	IgnorePatterns    []string
	AllowedExtensions []string
	Languages         []string
	UserAgent         string
	Timeout           time.Duration
	MaxBodyBytes      int64
	OnProgress        func(url string)
	Logger            *zap.Logger
}

type Scraper struct {
	config  ScraperConfig
	client  *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// crawl holds the state of one Fetch call.
type crawl struct {
	visited  map[string]bool
	baseHost string
	docs     []models.Document
}

func NewWithConfig(config ScraperConfig) *Scraper {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}
	if len(config.Languages) == 0 {
		config.Languages = []string{"en", "te", "hi", "ta"}
	}
	if config.UserAgent == "" {
		config.UserAgent = "chatweb/1.0"
	}
	if config.MaxBodyBytes == 0 {
		config.MaxBodyBytes = 10 << 20
	}

	return &Scraper{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		log:     logger.OrNop(config.Logger).Named("scraper"),
	}
}

// Fetch downloads rawURL and, up to MaxDepth, the same-host pages it links
// to. Only a failure on rawURL itself fails the call.
func (s *Scraper) Fetch(ctx context.Context, rawURL string) ([]models.Document, error) {
	parsedURL, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, ragerr.Fetch("parse url", err)
	}
	if (parsedURL.Scheme != "http" && parsedURL.Scheme != "https") || parsedURL.Host == "" {
		return nil, ragerr.Fetch("parse url", fmt.Errorf("not an absolute http(s) URL: %q", rawURL))
	}

	c := &crawl{
		visited:  make(map[string]bool),
		baseHost: parsedURL.Host,
	}

	links, err := s.visit(ctx, c, parsedURL.String(), 0)
	if err != nil {
		return nil, ragerr.Fetch("get "+parsedURL.String(), err)
	}
	s.follow(ctx, c, links, 1)

	if len(c.docs) == 0 {
		return nil, ragerr.Fetch("extract "+parsedURL.String(), errors.New("page has no extractable text"))
	}

	s.log.Info("fetched site",
		zap.String("url", parsedURL.String()),
		zap.Int("documents", len(c.docs)))

	return c.docs, nil
}

func (s *Scraper) follow(ctx context.Context, c *crawl, links []string, depth int) {
	if depth > s.config.MaxDepth {
		return
	}
	for _, link := range links {
		if ctx.Err() != nil {
			return
		}
		if c.visited[link] || !s.shouldProcessURL(c, link) {
			continue
		}

		next, err := s.visit(ctx, c, link, depth)
		if err != nil {
			s.log.Warn("skipping linked page", zap.String("url", link), zap.Error(err))
			continue
		}
		s.follow(ctx, c, next, depth+1)
	}
}

func (s *Scraper) shouldProcessURL(c *crawl, urlStr string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	// Check if URL is from the same host
	if parsedURL.Host != c.baseHost {
		return false
	}

	// Check extensions
	ext := strings.ToLower(parsedURL.Path)
	validExt := false
	for _, allowedExt := range s.config.AllowedExtensions {
		if strings.HasSuffix(ext, allowedExt) {
			validExt = true
			break
		}
	}
	if !validExt {
		return false
	}

	// Check ignore patterns
	for _, pattern := range s.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}

	return true
}

// visit fetches one page, records its document and returns the absolute
// links found on it.
func (s *Scraper) visit(ctx context.Context, c *crawl, urlStr string, depth int) ([]string, error) {
	c.visited[urlStr] = true
	if s.config.OnProgress != nil {
		s.config.OnProgress(urlStr)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.config.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ragerr.ErrUnsupportedContent, contentType)
	}

	var page extracted
	switch mediaType {
	case "text/html", "application/xhtml+xml":
		page, err = extractHTML(bytes.NewReader(body), resp.Request.URL)
	case "text/plain":
		page = extracted{content: normalizeText(string(body))}
	case "application/pdf":
		page, err = extractPDF(body)
	default:
		return nil, fmt.Errorf("%w: %s", ragerr.ErrUnsupportedContent, mediaType)
	}
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(page.content) == "" {
		s.log.Debug("page has no text", zap.String("url", urlStr))
		return page.links, nil
	}

	c.docs = append(c.docs, models.Document{
		ID:      uuid.NewString(),
		URL:     urlStr,
		Title:   page.title,
		Content: page.content,
		Metadata: map[string]interface{}{
			"source":       urlStr,
			"title":        page.title,
			"depth":        depth,
			"fetched_at":   time.Now().UTC().Format(time.RFC3339),
			"content_type": mediaType,
			"languages":    detectLanguages(page.content, s.config.Languages),
		},
	})

	return page.links, nil
}
