package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/haasonsaas/recall/pkg/models"
)

const settingsID = "default"

// GetSettings returns the singleton settings record, creating an empty one
// on first access.
func (s *Store) GetSettings(ctx context.Context) (*models.UserSettings, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, voice, personality, privacy, storage, llm, search, memory, updated_at
		 FROM user_settings WHERE id = ?`, settingsID)
	us, err := scanSettings(row)
	if err == sql.ErrNoRows {
		us = &models.UserSettings{ID: settingsID, UpdatedAt: now()}
		if err := s.writeSettings(ctx, us, true); err != nil {
			return nil, err
		}
		return us, nil
	}
	return us, err
}

// UpdateSettings merges the given groups into the stored record. Only
// non-nil groups replace their stored counterpart.
func (s *Store) UpdateSettings(ctx context.Context, patch *models.UserSettings) (*models.UserSettings, error) {
	cur, err := s.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	if patch.Voice != nil {
		cur.Voice = patch.Voice
	}
	if patch.Personality != nil {
		cur.Personality = patch.Personality
	}
	if patch.Privacy != nil {
		cur.Privacy = patch.Privacy
	}
	if patch.Storage != nil {
		cur.Storage = patch.Storage
	}
	if patch.LLM != nil {
		cur.LLM = patch.LLM
	}
	if patch.Search != nil {
		cur.Search = patch.Search
	}
	if patch.Memory != nil {
		cur.Memory = patch.Memory
	}
	cur.UpdatedAt = now()
	if err := s.writeSettings(ctx, cur, false); err != nil {
		return nil, err
	}
	return cur, nil
}

func (s *Store) writeSettings(ctx context.Context, us *models.UserSettings, insert bool) error {
	groups := make([]string, 7)
	for i, m := range []map[string]any{us.Voice, us.Personality, us.Privacy, us.Storage, us.LLM, us.Search, us.Memory} {
		raw, err := marshalMeta(m)
		if err != nil {
			return err
		}
		groups[i] = raw
	}

	if insert {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO user_settings (id, voice, personality, privacy, storage, llm, search, memory, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			us.ID, groups[0], groups[1], groups[2], groups[3], groups[4], groups[5], groups[6], us.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert settings: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE user_settings SET voice = ?, personality = ?, privacy = ?, storage = ?, llm = ?, search = ?, memory = ?, updated_at = ? WHERE id = ?`,
		groups[0], groups[1], groups[2], groups[3], groups[4], groups[5], groups[6], us.UpdatedAt, us.ID)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return nil
}

func scanSettings(row rowScanner) (*models.UserSettings, error) {
	var us models.UserSettings
	var groups [7]string
	err := row.Scan(&us.ID, &groups[0], &groups[1], &groups[2], &groups[3], &groups[4], &groups[5], &groups[6], &us.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan settings: %w", err)
	}
	dst := []*map[string]any{&us.Voice, &us.Personality, &us.Privacy, &us.Storage, &us.LLM, &us.Search, &us.Memory}
	for i, raw := range groups {
		m, err := unmarshalMeta(raw)
		if err != nil {
			return nil, err
		}
		*dst[i] = m
	}
	us.UpdatedAt = us.UpdatedAt.UTC()
	return &us, nil
}
