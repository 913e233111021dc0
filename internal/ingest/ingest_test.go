package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const rssDoc = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Team updates</title>
<item><guid>m-1</guid><title>Kickoff notes</title><description><![CDATA[<p>We agreed on <b>SSO</b>.</p>]]></description><pubDate>Mon, 01 Jan 2024 10:00:00 GMT</pubDate></item>
<item><guid>m-2</guid><title>Plain update</title><description>Latency budget is 200ms</description></item>
<item><guid>m-3</guid><title></title><description>no title</description></item>
</channel></rss>`

func TestParseStringMapsItems(t *testing.T) {
	f := &FeedFetcher{}
	entries, err := f.ParseString(rssDoc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ExternalID != "m-1" || entries[0].ContentType != "html" || entries[0].Published != "2024-01-01T10:00:00Z" {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
	if entries[1].ContentType != "text" {
		t.Fatalf("expected text content, got %+v", entries[1])
	}
}

func TestFetchOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssDoc))
	}))
	defer srv.Close()
	f := NewFeedFetcher(5 * time.Second)
	f.MaxItems = 1
	entries, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected max items to cap at 1, got %d", len(entries))
	}
}

func TestFetchReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()
	if _, err := NewFeedFetcher(0).Fetch(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected error for 410 feed")
	}
}

func TestNormalizeHTMLFragment(t *testing.T) {
	text, err := NormalizeHTML(`<div><script>var x=1</script><p>Users must   sign in with SSO.</p></div>`, "")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !strings.Contains(text, "Users must sign in with SSO.") {
		t.Fatalf("unexpected text %q", text)
	}
	if strings.Contains(text, "var x") {
		t.Fatalf("script leaked into text %q", text)
	}
}
