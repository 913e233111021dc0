// Package ingest pulls feed entries and normalises HTML sources to plain text.
package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"
)

const defaultMaxItems = 50

// Entry is one feed item mapped to a future source.
type Entry struct {
	ExternalID  string
	Title       string
	Content     string
	ContentType string
	Published   string
}

// FeedFetcher reads RSS/Atom feeds over HTTP.
type FeedFetcher struct {
	Client   *http.Client
	MaxItems int
}

func NewFeedFetcher(timeout time.Duration) *FeedFetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &FeedFetcher{Client: &http.Client{Timeout: timeout}, MaxItems: defaultMaxItems}
}

// Fetch parses the feed at feedURL. Items without a title or identity are skipped.
func (f *FeedFetcher) Fetch(ctx context.Context, feedURL string) ([]Entry, error) {
	parser := gofeed.NewParser()
	if f.Client != nil {
		parser.Client = f.Client
	}
	parser.UserAgent = "TraceLayer/1.0 (feed integration)"
	feed, err := parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}
	return entriesFromFeed(feed, f.maxItems()), nil
}

// ParseString parses a feed document already in memory.
func (f *FeedFetcher) ParseString(doc string) ([]Entry, error) {
	feed, err := gofeed.NewParser().ParseString(doc)
	if err != nil {
		return nil, err
	}
	return entriesFromFeed(feed, f.maxItems()), nil
}

func (f *FeedFetcher) maxItems() int {
	if f.MaxItems <= 0 {
		return defaultMaxItems
	}
	return f.MaxItems
}

func entriesFromFeed(feed *gofeed.Feed, max int) []Entry {
	var out []Entry
	for _, item := range feed.Items {
		if len(out) >= max {
			break
		}
		if e, ok := entryFromItem(item); ok {
			out = append(out, e)
		}
	}
	return out
}

func entryFromItem(item *gofeed.Item) (Entry, bool) {
	id := item.GUID
	if id == "" {
		id = item.Link
	}
	title := strings.TrimSpace(item.Title)
	if id == "" || title == "" {
		return Entry{}, false
	}
	content := item.Content
	if content == "" {
		content = item.Description
	}
	contentType := "text"
	if looksLikeHTML(content) {
		contentType = "html"
	}
	var published string
	if item.PublishedParsed != nil {
		published = item.PublishedParsed.UTC().Format(time.RFC3339)
	} else if item.UpdatedParsed != nil {
		published = item.UpdatedParsed.UTC().Format(time.RFC3339)
	}
	return Entry{ExternalID: id, Title: title, Content: strings.TrimSpace(content), ContentType: contentType, Published: published}, true
}

func looksLikeHTML(s string) bool {
	return strings.Contains(s, "<") && strings.Contains(s, ">")
}

// NormalizeHTML extracts readable text. Readability handles full pages; fragments it
// rejects fall back to the document's plain text.
func NormalizeHTML(html, pageURL string) (string, error) {
	var base *url.URL
	if pageURL != "" {
		base, _ = url.Parse(pageURL)
	}
	if base == nil {
		base = &url.URL{Scheme: "https", Host: "source.local"}
	}
	if article, err := readability.FromReader(strings.NewReader(html), base); err == nil {
		if text := collapse(article.TextContent); text != "" {
			return text, nil
		}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script,style,noscript").Remove()
	return collapse(doc.Text()), nil
}

func collapse(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
