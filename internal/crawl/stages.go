package crawl

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/registry-harvester/internal/harvest"
)

// stageHandler consumes one fetched page.
type stageHandler func(r *run, req harvest.CrawlRequest, resp harvest.FetchResponse) error

func (o *Orchestrator) handleStart(r *run, req harvest.CrawlRequest, resp harvest.FetchResponse) error {
	links, err := extractLinks(resp, o.cfg.CollectionSelector, pageBase(req, resp), 0)
	if err != nil {
		return err
	}
	if len(links) == 0 {
		return fmt.Errorf("search %s: %w", req.URL, harvest.ErrEntityNotFound)
	}
	for _, link := range links {
		r.enqueue(harvest.CrawlRequest{URL: link, Stage: harvest.StageListing})
	}
	return nil
}

func (o *Orchestrator) handleListing(r *run, req harvest.CrawlRequest, resp harvest.FetchResponse) error {
	links, err := extractLinks(resp, o.cfg.DetailSelector, pageBase(req, resp), o.cfg.DocumentLimit)
	if err != nil {
		return err
	}
	for _, link := range links {
		r.enqueue(harvest.CrawlRequest{URL: link, Stage: harvest.StageDetail})
	}
	return nil
}

func (o *Orchestrator) handleDetail(r *run, req harvest.CrawlRequest, resp harvest.FetchResponse) error {
	base := pageBase(req, resp)
	if o.cfg.DownloadBaseURL != "" {
		parsed, err := url.Parse(o.cfg.DownloadBaseURL)
		if err != nil {
			return fmt.Errorf("parse download base url: %w", err)
		}
		base = parsed
	}
	links, err := extractLinks(resp, o.cfg.DownloadSelector, base, 0)
	if err != nil {
		return err
	}
	for _, link := range links {
		if r.ctx.Err() != nil {
			return r.ctx.Err()
		}
		if !r.markSeen(link) {
			continue
		}
		if err := o.download(r, link); err != nil {
			if fatal := r.fatalErr(); fatal != nil {
				return fatal
			}
			r.itemFailed(link, harvest.StageDetail, err)
		}
	}
	return nil
}

// download fetches one document, stores it and appends it to the checkpoint.
// Store and checkpoint failures abort the crawl.
func (o *Orchestrator) download(r *run, link string) error {
	resp, err := r.fetch(link, harvest.StageDetail)
	if err != nil {
		return err
	}
	meta := harvest.ExtractDocumentMetadata(r.entityKey, resp.Headers, resp.Body, o.clock.Now(), o.seq.Add(1)-1)
	if _, err := o.blobs.PutObject(r.ctx, meta.Filename, meta.ContentType, bytes.NewReader(resp.Body)); err != nil {
		return r.abort(fmt.Errorf("store document %s: %w", meta.Filename, err))
	}
	if err := r.cp.Append(r.ctx, meta.Filename); err != nil {
		return r.abort(fmt.Errorf("record document %s: %w", meta.Filename, err))
	}
	r.documentStored()
	r.logger.Info("document stored",
		zap.String("filename", meta.Filename),
		zap.String("content_type", meta.ContentType),
		zap.Int("bytes", len(resp.Body)),
	)
	return nil
}

// pageBase is the URL relative links on a page resolve against.
func pageBase(req harvest.CrawlRequest, resp harvest.FetchResponse) *url.URL {
	raw := resp.URL
	if raw == "" {
		raw = req.URL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}

// extractLinks returns the resolved href of every element matching selector,
// in document order, keeping at most limit links when limit > 0.
func extractLinks(resp harvest.FetchResponse, selector string, base *url.URL, limit int) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", resp.URL, err)
	}
	var links []string
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if limit > 0 && len(links) >= limit {
			return false
		}
		href, ok := s.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return true
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return true
		}
		links = append(links, base.ResolveReference(ref).String())
		return true
	})
	return links, nil
}
