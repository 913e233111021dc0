package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"tracelayer/internal/domain"
)

// GetPreferences returns stored preferences or the defaults when none exist.
func (r Repo) GetPreferences(ctx context.Context, tx *sql.Tx, actorID string) (domain.Preferences, error) {
	prefs := domain.Preferences{ActorID: actorID, Theme: "system", RecentSearches: []string{}}
	var recent string
	var onboarded int
	err := r.q(tx).QueryRowContext(ctx, `SELECT theme, recent_searches_json, onboarded, updated_at FROM preferences WHERE actor_id=?`, actorID).
		Scan(&prefs.Theme, &recent, &onboarded, &prefs.UpdatedAt)
	if err == sql.ErrNoRows {
		return prefs, nil
	}
	if err != nil {
		return prefs, err
	}
	prefs.Onboarded = onboarded != 0
	if err := json.Unmarshal([]byte(recent), &prefs.RecentSearches); err != nil {
		return prefs, err
	}
	if prefs.RecentSearches == nil {
		prefs.RecentSearches = []string{}
	}
	return prefs, nil
}

func (r Repo) UpsertPreferences(ctx context.Context, tx *sql.Tx, prefs domain.Preferences) error {
	recent := prefs.RecentSearches
	if recent == nil {
		recent = []string{}
	}
	data, err := json.Marshal(recent)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO preferences(actor_id, theme, recent_searches_json, onboarded, updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(actor_id) DO UPDATE SET theme=excluded.theme, recent_searches_json=excluded.recent_searches_json,
onboarded=excluded.onboarded, updated_at=excluded.updated_at`,
		prefs.ActorID, prefs.Theme, string(data), boolInt(prefs.Onboarded), prefs.UpdatedAt)
	return err
}
