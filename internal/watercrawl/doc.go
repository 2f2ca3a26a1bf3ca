// Package watercrawl is an HTTP client for the WaterCrawl REST API. It covers
// crawl, search and sitemap requests, and exposes each job's server-sent
// status stream as an EventSource that callers pull from one event at a time.
package watercrawl
