// Package settings keeps each user's default owner, repo and tag in a
// secret gist on their own account.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mscno/ghdrive/pkg/errs"
	"github.com/mscno/ghdrive/pkg/model"
)

const (
	GistDescription = "ghdrive-config"
	GistFilename    = "ghdrive-config.json"
)

// GistClient is the subset of the GitHub client the store needs.
type GistClient interface {
	FindGist(ctx context.Context, token, description, filename string) (model.Gist, bool, error)
	CreateGist(ctx context.Context, token string, gist model.Gist) (model.Gist, error)
	UpdateGist(ctx context.Context, token string, gist model.Gist) (model.Gist, error)
}

// Store reads and writes UserConfig. Nothing is cached locally.
type Store struct {
	gists  GistClient
	logger *slog.Logger
}

// New creates a Store.
func New(gists GistClient, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{gists: gists, logger: logger}
}

// Get returns the caller's settings, or an empty config tagged latest when
// none were saved yet.
func (s *Store) Get(ctx context.Context, token string) (model.UserConfig, error) {
	gist, ok, err := s.gists.FindGist(ctx, token, GistDescription, GistFilename)
	if err != nil {
		return model.UserConfig{}, err
	}
	if !ok {
		return model.UserConfig{Tag: model.DefaultTag}, nil
	}
	content, ok := gist.Files[GistFilename]
	if !ok || strings.TrimSpace(content) == "" {
		return model.UserConfig{Tag: model.DefaultTag}, nil
	}

	var cfg model.UserConfig
	if err := json.Unmarshal([]byte(content), &cfg); err != nil {
		s.logger.Warn("ignoring unreadable settings gist", "gist_id", gist.ID, "error", err)
		return model.UserConfig{Tag: model.DefaultTag}, nil
	}
	return normalize(cfg), nil
}

// Save writes cfg, creating the gist on first use and editing it after.
func (s *Store) Save(ctx context.Context, token string, cfg model.UserConfig) (model.UserConfig, error) {
	cfg = normalize(cfg)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return model.UserConfig{}, errs.Wrap(errs.KindUnknown, "encoding settings", err)
	}

	gist, ok, err := s.gists.FindGist(ctx, token, GistDescription, GistFilename)
	if err != nil {
		return model.UserConfig{}, err
	}
	if !ok {
		created, err := s.gists.CreateGist(ctx, token, model.Gist{
			Description: GistDescription,
			Files:       map[string]string{GistFilename: string(data)},
		})
		if err != nil {
			return model.UserConfig{}, fmt.Errorf("creating settings gist: %w", err)
		}
		s.logger.Info("settings gist created", "gist_id", created.ID)
		return cfg, nil
	}

	if _, err := s.gists.UpdateGist(ctx, token, model.Gist{
		ID:          gist.ID,
		Description: GistDescription,
		Files:       map[string]string{GistFilename: string(data)},
	}); err != nil {
		return model.UserConfig{}, fmt.Errorf("updating settings gist: %w", err)
	}
	return cfg, nil
}

func normalize(cfg model.UserConfig) model.UserConfig {
	return model.UserConfig{
		Owner: strings.TrimSpace(cfg.Owner),
		Repo:  strings.TrimSpace(cfg.Repo),
		Tag:   model.NormalizeTag(cfg.Tag),
	}
}
