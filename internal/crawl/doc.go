// Package crawl walks the registry from an entity search to its downloadable
// documents.
//
// A crawl moves through three stages. START is the search result page, where
// collection links are followed. LISTING pages offer links to detail pages, of
// which the first DocumentLimit are followed. DETAIL pages carry the download
// links; each document is fetched, stored and appended to the download
// checkpoint. Page requests share a per-crawl cap and a concurrency bound;
// document downloads happen inside the DETAIL handler's slot and are not capped.
//
// Item failures are logged and counted. Store failures stop the crawl.
package crawl
