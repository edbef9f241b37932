package server

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// validateOwnerRepo ensures owner and repo are plain GitHub names.
func validateOwnerRepo(owner, repo string) error {
	if owner == "" || repo == "" {
		return fmt.Errorf("owner and repo are required")
	}
	if !namePattern.MatchString(owner) || !namePattern.MatchString(repo) {
		return fmt.Errorf("invalid owner or repo name")
	}
	return nil
}

func parseAssetID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid asset id %q", raw)
	}
	return id, nil
}

// withQuery returns base with params merged into its query string.
func withQuery(base string, params url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
