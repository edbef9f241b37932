package model

import (
	"strings"
	"time"
)

// DefaultTag is the bucket used when the caller does not name one.
const DefaultTag = "latest"

// Identity is the GitHub account behind a token.
type Identity struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
}

// BucketRef identifies a release used as a storage bucket.
type BucketRef struct {
	Owner string
	Repo  string
	Tag   string
}

// NewBucketRef builds a BucketRef, normalising the tag.
func NewBucketRef(owner, repo, tag string) BucketRef {
	return BucketRef{Owner: owner, Repo: repo, Tag: NormalizeTag(tag)}
}

// NormalizeTag maps empty, blank and the browser's "undefined" to DefaultTag.
func NormalizeTag(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" || tag == "undefined" {
		return DefaultTag
	}
	return tag
}

// Release is a GitHub release seen as a bucket.
type Release struct {
	ID          int64
	TagName     string
	Name        string
	CreatedAt   time.Time
	PublishedAt time.Time
	HTMLURL     string
	Assets      []Asset
}

// FindAsset returns the asset with exactly the given name.
func (r Release) FindAsset(name string) (Asset, bool) {
	for _, a := range r.Assets {
		if a.Name == name {
			return a, true
		}
	}
	return Asset{}, false
}

// Asset is a file stored in a release.
type Asset struct {
	ID                 int64
	Name               string
	Size               int64
	DownloadCount      int64
	CreatedAt          time.Time
	BrowserDownloadURL string
	// APIURL is the REST endpoint that serves the binary when requested
	// with Accept: application/octet-stream.
	APIURL      string
	ContentType string
}

// UserConfig is the per-account settings document kept in a gist.
type UserConfig struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
	Tag   string `json:"tag"`
}

// Gist is the subset of a GitHub gist the settings store needs.
type Gist struct {
	ID          string
	Description string
	Files       map[string]string // filename -> content
}
