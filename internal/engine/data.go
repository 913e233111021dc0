package engine

import (
	"context"
	"errors"
	"strings"

	"tracelayer/internal/brd"
	"tracelayer/internal/domain"
	"tracelayer/internal/repo"
)

const (
	defaultSearchLimit = 20
	maxRecentSearches  = 10
)

func (e Engine) Requirements(ctx context.Context, projectID string) ([]domain.Requirement, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return nonNil(e.Repo.ListRequirements(ctx, projectID))
}

func (e Engine) Stakeholders(ctx context.Context, projectID string) ([]domain.Stakeholder, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return nonNil(e.Repo.ListStakeholders(ctx, projectID))
}

func (e Engine) Decisions(ctx context.Context, projectID string) ([]domain.Decision, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return nonNil(e.Repo.ListDecisions(ctx, projectID))
}

func (e Engine) Timeline(ctx context.Context, projectID string) ([]domain.TimelineEvent, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return nonNil(e.Repo.ListTimeline(ctx, projectID))
}

func (e Engine) TraceLinks(ctx context.Context, projectID string) ([]domain.TraceLink, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return nonNil(e.Repo.ListTraceLinks(ctx, projectID))
}

// LatestDocument returns the newest BRD version or ErrNoDocument.
func (e Engine) LatestDocument(ctx context.Context, projectID string) (brd.Document, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return brd.Document{}, err
	}
	doc, err := e.Repo.LatestDocument(ctx, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		return brd.Document{}, ErrNoDocument
	}
	return doc, err
}

// SearchResults groups matches per entity kind.
type SearchResults struct {
	Query        string               `json:"query"`
	Requirements []domain.Requirement `json:"requirements"`
	Stakeholders []domain.Stakeholder `json:"stakeholders"`
	Decisions    []domain.Decision    `json:"decisions"`
}

// Search matches query case-insensitively and records it in the actor's recent searches.
func (e Engine) Search(ctx context.Context, projectID, query, actorID string, limit int) (SearchResults, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return SearchResults{}, errors.New("query is required")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return SearchResults{}, err
	}
	res := SearchResults{Query: query}
	var err error
	if res.Requirements, err = nonNil(e.Repo.SearchRequirements(ctx, projectID, query, limit)); err != nil {
		return SearchResults{}, err
	}
	if res.Stakeholders, err = nonNil(e.Repo.SearchStakeholders(ctx, projectID, query, limit)); err != nil {
		return SearchResults{}, err
	}
	if res.Decisions, err = nonNil(e.Repo.SearchDecisions(ctx, projectID, query, limit)); err != nil {
		return SearchResults{}, err
	}
	if actorID != "" {
		if _, err := e.PushRecentSearch(ctx, actorID, query); err != nil {
			return SearchResults{}, err
		}
	}
	return res, nil
}

func nonNil[T any](items []T, err error) ([]T, error) {
	if items == nil && err == nil {
		items = []T{}
	}
	return items, err
}
