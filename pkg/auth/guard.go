package auth

import (
	"context"
	"log/slog"

	"github.com/mscno/ghdrive/pkg/errs"
	"github.com/mscno/ghdrive/pkg/identity"
)

// RestrictedMessage is returned to callers denied by the access policy.
const RestrictedMessage = "this repository is restricted to its owner; fork the project and use your own repository"

// Policy reserves one repository for its owner. It takes effect only when
// both fields are non-blank.
type Policy struct {
	Owner string
	Repo  string
}

// Active reports whether the policy restricts anything.
func (p Policy) Active() bool {
	return p.Owner != "" && p.Repo != ""
}

func (p Policy) covers(owner, repo string) bool {
	return p.Active() && owner == p.Owner && repo == p.Repo
}

// LoginResolver maps a token to its GitHub login.
type LoginResolver interface {
	Login(ctx context.Context, token string) (string, error)
}

// Guard enforces a Policy.
type Guard struct {
	policy Policy
	logins LoginResolver
	logger *slog.Logger
}

// NewGuard creates a Guard.
func NewGuard(policy Policy, logins LoginResolver, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{policy: policy, logins: logins, logger: logger}
}

// Check returns nil when token may operate on owner/repo. Only the
// restricted repository triggers an identity lookup.
func (g *Guard) Check(ctx context.Context, owner, repo, token string) error {
	if !g.policy.covers(owner, repo) {
		return nil
	}
	login, err := g.logins.Login(ctx, token)
	if err != nil {
		return err
	}
	if login == g.policy.Owner {
		return nil
	}
	g.logger.Warn("access denied to restricted repository",
		"owner", owner, "repo", repo, "login", login, "fingerprint", identity.Fingerprint(token))
	return errs.New(errs.KindForbidden, RestrictedMessage)
}
