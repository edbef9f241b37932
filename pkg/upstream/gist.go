package upstream

import (
	"context"

	"github.com/google/go-github/v71/github"
	"github.com/mscno/ghdrive/pkg/model"
)

// FindGist returns the first gist of the token's owner whose description
// equals description or which contains filename. ok is false when none does.
func (g *GitHub) FindGist(ctx context.Context, token, description, filename string) (model.Gist, bool, error) {
	ctx, cancel := g.metadata(ctx)
	defer cancel()

	client := g.client(token)
	opts := &github.GistListOptions{ListOptions: github.ListOptions{PerPage: listPageSize}}
	for page := 0; page < g.maxPages; page++ {
		gists, resp, err := client.Gists.List(ctx, "", opts)
		if err != nil {
			return model.Gist{}, false, translate(err)
		}
		for _, gist := range gists {
			if gist.GetDescription() == description || hasFile(gist, filename) {
				// Listing truncates file contents; fetch the full gist.
				full, _, err := client.Gists.Get(ctx, gist.GetID())
				if err != nil {
					return model.Gist{}, false, translate(err)
				}
				return toGist(full), true, nil
			}
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return model.Gist{}, false, nil
}

// CreateGist creates a secret gist.
func (g *GitHub) CreateGist(ctx context.Context, token string, gist model.Gist) (model.Gist, error) {
	ctx, cancel := g.metadata(ctx)
	defer cancel()

	created, _, err := g.client(token).Gists.Create(ctx, fromGist(gist, false))
	if err != nil {
		return model.Gist{}, translate(err)
	}
	return toGist(created), nil
}

// UpdateGist replaces the content of the files named in gist.
func (g *GitHub) UpdateGist(ctx context.Context, token string, gist model.Gist) (model.Gist, error) {
	ctx, cancel := g.metadata(ctx)
	defer cancel()

	edit := fromGist(gist, false)
	edit.Public = nil
	updated, _, err := g.client(token).Gists.Edit(ctx, gist.ID, edit)
	if err != nil {
		return model.Gist{}, translate(err)
	}
	return toGist(updated), nil
}

func hasFile(gist *github.Gist, filename string) bool {
	_, ok := gist.Files[github.GistFilename(filename)]
	return ok
}

func toGist(gist *github.Gist) model.Gist {
	out := model.Gist{
		ID:          gist.GetID(),
		Description: gist.GetDescription(),
		Files:       make(map[string]string, len(gist.Files)),
	}
	for name, f := range gist.Files {
		out.Files[string(name)] = f.GetContent()
	}
	return out
}

func fromGist(gist model.Gist, public bool) *github.Gist {
	files := make(map[github.GistFilename]github.GistFile, len(gist.Files))
	for name, content := range gist.Files {
		files[github.GistFilename(name)] = github.GistFile{
			Filename: github.Ptr(name),
			Content:  github.Ptr(content),
		}
	}
	return &github.Gist{
		Description: github.Ptr(gist.Description),
		Public:      github.Ptr(public),
		Files:       files,
	}
}
