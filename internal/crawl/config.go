package crawl

import (
	"fmt"
	"net/url"
	"strings"
)

// Default registry selectors.
const (
	DefaultCollectionSelector = `a[href^="./vypis-sl"]`
	DefaultDetailSelector     = `a[href^="./vypis-sl-detail"]`
	DefaultDownloadSelector   = `a[href^="/ias/content/download"]`
)

// Config controls how the registry is walked.
type Config struct {
	// BaseURL is the registry UI root, e.g. https://or.justice.cz/ias/ui.
	BaseURL        string
	ResultsPerPage int

	CollectionSelector string
	DetailSelector     string
	DownloadSelector   string
	// DownloadBaseURL resolves document links. Empty means the page URL.
	DownloadBaseURL string

	// DocumentLimit caps detail pages followed per listing; 0 means no limit.
	DocumentLimit int
	// MaxRequests caps page requests per crawl; 0 means no limit.
	MaxRequests int
	Concurrency int
}

// DefaultConfig returns the settings used against or.justice.cz.
func DefaultConfig() Config {
	return Config{
		BaseURL:            "https://or.justice.cz/ias/ui",
		ResultsPerPage:     1,
		CollectionSelector: DefaultCollectionSelector,
		DetailSelector:     DefaultDetailSelector,
		DownloadSelector:   DefaultDownloadSelector,
		DownloadBaseURL:    "https://or.justice.cz",
		DocumentLimit:      3,
		MaxRequests:        100,
		Concurrency:        8,
	}
}

func (c *Config) validate() error {
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("invalid registry base url %q: %w", c.BaseURL, err)
	}
	if c.DownloadBaseURL != "" {
		if _, err := url.ParseRequestURI(c.DownloadBaseURL); err != nil {
			return fmt.Errorf("invalid download base url %q: %w", c.DownloadBaseURL, err)
		}
	}
	if strings.TrimSpace(c.CollectionSelector) == "" ||
		strings.TrimSpace(c.DetailSelector) == "" ||
		strings.TrimSpace(c.DownloadSelector) == "" {
		return fmt.Errorf("all stage selectors are required")
	}
	if c.DocumentLimit < 0 || c.MaxRequests < 0 {
		return fmt.Errorf("document limit and max requests must be >= 0")
	}
	if c.ResultsPerPage <= 0 {
		c.ResultsPerPage = 1
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	return nil
}

// StartURL builds the registry search URL for an entity name.
func (c Config) StartURL(entityName string) string {
	query := url.Values{}
	query.Set("jenPlatne", "PLATNE")
	query.Set("polozek", fmt.Sprint(c.ResultsPerPage))
	query.Set("typHledani", "STARTS_WITH")
	query.Set("nazev", entityName)
	return strings.TrimRight(c.BaseURL, "/") + "/rejstrik-$firma?" + query.Encode()
}
