// Package bucket maps storage operations onto GitHub releases: a release
// tag is a bucket and its assets are the stored files.
package bucket

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/mscno/ghdrive/pkg/errs"
	"github.com/mscno/ghdrive/pkg/model"
)

// Upstream is the subset of the GitHub client the store needs.
type Upstream interface {
	GetReleaseByTag(ctx context.Context, token, owner, repo, tag string) (model.Release, error)
	CreateRelease(ctx context.Context, token, owner, repo, tag string) (model.Release, error)
	ListReleases(ctx context.Context, token, owner, repo string) ([]model.Release, error)
	UploadAsset(ctx context.Context, token, owner, repo string, releaseID int64, name, contentType string, body io.Reader, size int64) (model.Asset, error)
	DeleteAsset(ctx context.Context, token, owner, repo string, assetID int64) error
}

// Store is the release-backed bucket store.
type Store struct {
	upstream Upstream
	logger   *slog.Logger
}

// New creates a Store.
func New(upstream Upstream, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{upstream: upstream, logger: logger}
}

// GetOrCreateRelease returns the release for ref.Tag, creating it when it
// does not exist. A create that loses a race to another creator re-reads
// the release once.
func (s *Store) GetOrCreateRelease(ctx context.Context, ref model.BucketRef, token string) (model.Release, error) {
	tag := model.NormalizeTag(ref.Tag)

	rel, err := s.upstream.GetReleaseByTag(ctx, token, ref.Owner, ref.Repo, tag)
	if err == nil {
		return rel, nil
	}
	if !errs.IsNotFound(err) {
		return model.Release{}, err
	}

	rel, err = s.upstream.CreateRelease(ctx, token, ref.Owner, ref.Repo, tag)
	if err == nil {
		return rel, nil
	}
	if errs.StatusOf(err) != http.StatusUnprocessableEntity {
		return model.Release{}, err
	}
	s.logger.Debug("release created concurrently, re-reading", "owner", ref.Owner, "repo", ref.Repo, "tag", tag)
	if rel, rerr := s.upstream.GetReleaseByTag(ctx, token, ref.Owner, ref.Repo, tag); rerr == nil {
		return rel, nil
	}
	return model.Release{}, err
}

// UploadAsset stores body as filename in release.
func (s *Store) UploadAsset(ctx context.Context, ref model.BucketRef, release model.Release, filename, contentType string, body io.Reader, size int64, token string) (model.Asset, error) {
	if filename == "" {
		return model.Asset{}, errs.New(errs.KindInvalidInput, "filename is required")
	}
	asset, err := s.upstream.UploadAsset(ctx, token, ref.Owner, ref.Repo, release.ID, filename, contentType, body, size)
	if err != nil {
		return model.Asset{}, err
	}
	s.logger.Info("asset uploaded",
		"owner", ref.Owner, "repo", ref.Repo, "tag", release.TagName, "asset", asset.Name, "size", asset.Size)
	return asset, nil
}

// Put resolves the bucket and uploads body into it.
func (s *Store) Put(ctx context.Context, ref model.BucketRef, filename, contentType string, body io.Reader, size int64, token string) (model.Release, model.Asset, error) {
	rel, err := s.GetOrCreateRelease(ctx, ref, token)
	if err != nil {
		return model.Release{}, model.Asset{}, err
	}
	asset, err := s.UploadAsset(ctx, ref, rel, filename, contentType, body, size, token)
	if err != nil {
		return model.Release{}, model.Asset{}, err
	}
	return rel, asset, nil
}

// ListReleases returns every release of owner/repo with its assets, most
// recent first as GitHub orders them.
func (s *Store) ListReleases(ctx context.Context, owner, repo, token string) ([]model.Release, error) {
	return s.upstream.ListReleases(ctx, token, owner, repo)
}

// DeleteAsset removes an asset.
func (s *Store) DeleteAsset(ctx context.Context, owner, repo string, assetID int64, token string) error {
	if assetID <= 0 {
		return errs.New(errs.KindInvalidInput, "invalid asset id")
	}
	if err := s.upstream.DeleteAsset(ctx, token, owner, repo, assetID); err != nil {
		return err
	}
	s.logger.Info("asset deleted", "owner", owner, "repo", repo, "asset_id", assetID)
	return nil
}
