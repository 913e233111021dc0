// Package share implements token-addressed, read-only snapshots of a BRD.
package share

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html/template"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"tracelayer/internal/brd"
	"tracelayer/internal/domain"
)

type Permission string

const (
	PermissionView    Permission = "view"
	PermissionComment Permission = "comment"
	PermissionEdit    Permission = "edit"
)

var permissionRank = map[Permission]int{PermissionView: 0, PermissionComment: 1, PermissionEdit: 2}

func ParsePermission(s string) (Permission, error) {
	p := Permission(s)
	if _, ok := permissionRank[p]; !ok {
		return "", fmt.Errorf("unknown permission %q", s)
	}
	return p, nil
}

// Allows reports whether p grants at least required.
func (p Permission) Allows(required Permission) bool {
	have, ok := permissionRank[p]
	if !ok {
		return false
	}
	want, ok := permissionRank[required]
	if !ok {
		return false
	}
	return have >= want
}

// LookupError is the reason a token did not resolve.
type LookupError string

const (
	NotFound LookupError = "not_found"
	Expired  LookupError = "expired"
)

func (e LookupError) Error() string { return string(e) }

// SharedSnapshot is what a token holder may read.
type SharedSnapshot struct {
	Token      string       `json:"token"`
	ProjectID  string       `json:"project_id"`
	Permission Permission   `json:"permission"`
	Document   brd.Document `json:"document"`
	ExpiresAt  string       `json:"expires_at,omitempty"`
	ViewCount  int          `json:"view_count"`
	CreatedAt  string       `json:"created_at"`
}

// NewToken returns 32 random bytes, base64url encoded without padding.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Resolve classifies a stored share at now. Revoked shares read as not found.
func Resolve(s domain.SharedDocument, now time.Time) (SharedSnapshot, error) {
	if s.RevokedAt != "" {
		return SharedSnapshot{}, NotFound
	}
	if s.ExpiresAt != "" {
		exp, err := time.Parse(time.RFC3339, s.ExpiresAt)
		if err != nil {
			return SharedSnapshot{}, fmt.Errorf("share %s: bad expiry: %w", s.Token, err)
		}
		if !now.Before(exp) {
			return SharedSnapshot{}, Expired
		}
	}
	var doc brd.Document
	if err := json.Unmarshal([]byte(s.SnapshotJSON), &doc); err != nil {
		return SharedSnapshot{}, fmt.Errorf("share %s: decode snapshot: %w", s.Token, err)
	}
	return SharedSnapshot{
		Token:      s.Token,
		ProjectID:  s.ProjectID,
		Permission: Permission(s.Permission),
		Document:   doc,
		ExpiresAt:  s.ExpiresAt,
		ViewCount:  s.ViewCount,
		CreatedAt:  s.CreatedAt,
	}, nil
}

var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// RenderHTML converts the snapshot's document to an HTML fragment.
func RenderHTML(doc brd.Document) (template.HTML, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(brd.Markdown(doc)), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil //nolint: gosec
}

var pageTmpl = template.Must(template.New("share").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title>
<style>body{font-family:system-ui,sans-serif;max-width:52rem;margin:2rem auto;padding:0 1rem;color:#1f2937}
.notice{padding:1rem;border-radius:.5rem;background:#fef3c7}.meta{color:#6b7280;font-size:.875rem}</style></head>
<body>{{if .Notice}}<div class="notice"><h1>{{.Title}}</h1><p>{{.Notice}}</p></div>{{else}}
<p class="meta">Shared {{.Permission}} link · {{.Views}} views{{if .ExpiresAt}} · expires {{.ExpiresAt}}{{end}}</p>
{{.Body}}{{end}}</body></html>`))

type page struct {
	Title      string
	Notice     string
	Permission Permission
	Views      int
	ExpiresAt  string
	Body       template.HTML
}

// WritePage renders the full HTML page for a resolved snapshot.
func WritePage(buf *bytes.Buffer, snap SharedSnapshot) error {
	body, err := RenderHTML(snap.Document)
	if err != nil {
		return err
	}
	return pageTmpl.Execute(buf, page{
		Title:      snap.Document.Title,
		Permission: snap.Permission,
		Views:      snap.ViewCount,
		ExpiresAt:  snap.ExpiresAt,
		Body:       body,
	})
}

// WriteErrorPage renders the screen shown for unknown or expired links.
func WriteErrorPage(buf *bytes.Buffer, reason LookupError) error {
	p := page{Title: "Link not found", Notice: "This shared document does not exist or has been revoked."}
	if reason == Expired {
		p = page{Title: "Link expired", Notice: "This shared document link has expired. Ask the owner for a new one."}
	}
	return pageTmpl.Execute(buf, p)
}
