// Package testutl provides an in-process fake of the GitHub services the
// gateway talks to: the REST API, the upload host, the signed content
// store behind asset downloads and the OAuth token endpoint.
package testutl

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Routes counted by FakeGitHub.Calls.
const (
	RouteUser          = "GET /user"
	RouteGetByTag      = "GET /repos/{owner}/{repo}/releases/tags/{tag}"
	RouteCreateRelease = "POST /repos/{owner}/{repo}/releases"
	RouteListReleases  = "GET /repos/{owner}/{repo}/releases"
	RouteUploadAsset   = "POST /repos/{owner}/{repo}/releases/{id}/assets"
	RouteGetAsset      = "GET /repos/{owner}/{repo}/releases/assets/{id}"
	RouteDeleteAsset   = "DELETE /repos/{owner}/{repo}/releases/assets/{id}"
	RouteListGists     = "GET /gists"
	RouteGetGist       = "GET /gists/{id}"
	RouteCreateGist    = "POST /gists"
	RouteEditGist      = "PATCH /gists/{id}"
	RouteOAuthToken    = "POST /login/oauth/access_token"
	RouteBlob          = "GET /blob/{id}"
	RoutePublic        = "GET /{owner}/{repo}/releases/download/{tag}/{name}"
)

// User is an account known to the fake.
type User struct {
	Login string
	ID    int64
}

type fakeAsset struct {
	ID          int64
	Name        string
	ContentType string
	Content     []byte
	CreatedAt   time.Time
	Downloads   int64
}

type fakeRelease struct {
	ID        int64
	Tag       string
	Name      string
	Body      string
	CreatedAt time.Time
	Assets    []*fakeAsset
}

type fakeGist struct {
	ID          string
	Owner       string
	Description string
	Public      bool
	Files       map[string]string
}

// FakeGitHub is a stateful fake of GitHub. API serves the REST and upload
// endpoints; Content serves signed downloads and public release URLs on a
// different host, so tests can tell whether a credential leaked to it.
type FakeGitHub struct {
	API     *httptest.Server
	Content *httptest.Server

	mu       sync.Mutex
	users    map[string]User // token -> user
	codes    map[string]string
	releases map[string][]*fakeRelease // owner/repo -> releases, oldest first
	gists    []*fakeGist
	calls    map[string]int
	nextID   int64

	loopRedirects bool
	blobStatus    int
	// blobAuth records the Authorization headers seen by the content host.
	blobAuth []string
}

// NewFakeGitHub starts both servers. Call Close when done.
func NewFakeGitHub() *FakeGitHub {
	f := &FakeGitHub{
		users:    make(map[string]User),
		codes:    make(map[string]string),
		releases: make(map[string][]*fakeRelease),
		calls:    make(map[string]int),
		nextID:   1000,
	}

	api := http.NewServeMux()
	api.HandleFunc(RouteUser, f.handleUser)
	api.HandleFunc(RouteGetByTag, f.handleGetByTag)
	api.HandleFunc(RouteCreateRelease, f.handleCreateRelease)
	api.HandleFunc(RouteListReleases, f.handleListReleases)
	api.HandleFunc(RouteUploadAsset, f.handleUploadAsset)
	api.HandleFunc(RouteGetAsset, f.handleGetAsset)
	api.HandleFunc(RouteDeleteAsset, f.handleDeleteAsset)
	api.HandleFunc(RouteListGists, f.handleListGists)
	api.HandleFunc(RouteGetGist, f.handleGetGist)
	api.HandleFunc(RouteCreateGist, f.handleCreateGist)
	api.HandleFunc(RouteEditGist, f.handleEditGist)
	api.HandleFunc(RouteOAuthToken, f.handleOAuthToken)
	f.API = httptest.NewServer(f.count(api))

	content := http.NewServeMux()
	content.HandleFunc(RouteBlob, f.handleBlob)
	content.HandleFunc(RoutePublic, f.handlePublic)
	f.Content = httptest.NewServer(f.count(content))
	return f
}

// Close stops both servers.
func (f *FakeGitHub) Close() {
	f.API.Close()
	f.Content.Close()
}

// APIURL is the REST base URL with a trailing slash.
func (f *FakeGitHub) APIURL() string { return f.API.URL + "/" }

// WebURL is the base for public download links.
func (f *FakeGitHub) WebURL() string { return f.Content.URL }

// TokenURL is the OAuth token endpoint.
func (f *FakeGitHub) TokenURL() string { return f.API.URL + "/login/oauth/access_token" }

// AddUser registers token as belonging to login.
func (f *FakeGitHub) AddUser(token, login string, id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[token] = User{Login: login, ID: id}
}

// IssueCode makes code exchangeable for token at the OAuth endpoint.
func (f *FakeGitHub) IssueCode(code, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes[code] = token
}

// Calls returns how often route was hit.
func (f *FakeGitHub) Calls(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[route]
}

// ReleaseCount returns the number of releases of owner/repo.
func (f *FakeGitHub) ReleaseCount(owner, repo string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.releases[owner+"/"+repo])
}

// AddRelease seeds a release and returns its id.
func (f *FakeGitHub) AddRelease(owner, repo, tag string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addReleaseLocked(owner+"/"+repo, tag).ID
}

// AddAsset seeds an asset in the release tagged tag, creating it if needed.
func (f *FakeGitHub) AddAsset(owner, repo, tag, name string, content []byte) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := owner + "/" + repo
	rel := f.findReleaseLocked(key, tag)
	if rel == nil {
		rel = f.addReleaseLocked(key, tag)
	}
	a := &fakeAsset{ID: f.id(), Name: name, ContentType: "application/octet-stream", Content: content, CreatedAt: time.Now().UTC()}
	rel.Assets = append(rel.Assets, a)
	return a.ID
}

// SetLoopRedirects makes every signed download redirect to itself.
func (f *FakeGitHub) SetLoopRedirects(loop bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loopRedirects = loop
}

// SetBlobStatus makes signed downloads fail with status; 0 restores them.
func (f *FakeGitHub) SetBlobStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobStatus = status
}

// BlobAuthorization returns the Authorization headers received by the
// content host, one per request.
func (f *FakeGitHub) BlobAuthorization() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.blobAuth...)
}

// GistFile returns the content of filename in login's gists.
func (f *FakeGitHub) GistFile(login, filename string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.gists {
		if g.Owner != login {
			continue
		}
		if c, ok := g.Files[filename]; ok {
			return c, true
		}
	}
	return "", false
}

// GistCount returns how many gists login owns.
func (f *FakeGitHub) GistCount(login string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, g := range f.gists {
		if g.Owner == login {
			n++
		}
	}
	return n
}

func (f *FakeGitHub) count(next http.Handler) http.Handler {
	mux, _ := next.(*http.ServeMux)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if mux != nil {
			if _, pattern := mux.Handler(r); pattern != "" {
				f.mu.Lock()
				f.calls[pattern]++
				f.mu.Unlock()
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeGitHub) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *FakeGitHub) addReleaseLocked(key, tag string) *fakeRelease {
	rel := &fakeRelease{ID: f.id(), Tag: tag, Name: tag, CreatedAt: time.Now().UTC()}
	f.releases[key] = append(f.releases[key], rel)
	return rel
}

func (f *FakeGitHub) findReleaseLocked(key, tag string) *fakeRelease {
	for _, rel := range f.releases[key] {
		if rel.Tag == tag {
			return rel
		}
	}
	return nil
}

// user authenticates r; it writes a 401 and returns false on failure.
func (f *FakeGitHub) user(w http.ResponseWriter, r *http.Request) (User, bool) {
	header := r.Header.Get("Authorization")
	token := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(header, "Bearer "), "token "))
	f.mu.Lock()
	u, ok := f.users[token]
	f.mu.Unlock()
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Bad credentials")
		return User{}, false
	}
	return u, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg, "documentation_url": "https://docs.github.com/rest"})
}

func (f *FakeGitHub) assetJSON(key string, a *fakeAsset, tag string) map[string]any {
	return map[string]any{
		"id":                   a.ID,
		"name":                 a.Name,
		"size":                 len(a.Content),
		"download_count":       a.Downloads,
		"content_type":         a.ContentType,
		"state":                "uploaded",
		"created_at":           a.CreatedAt.Format(time.RFC3339),
		"url":                  fmt.Sprintf("%s/repos/%s/releases/assets/%d", f.API.URL, key, a.ID),
		"browser_download_url": fmt.Sprintf("%s/%s/releases/download/%s/%s", f.Content.URL, key, url.PathEscape(tag), url.PathEscape(a.Name)),
	}
}

func (f *FakeGitHub) releaseJSON(key string, rel *fakeRelease) map[string]any {
	assets := make([]map[string]any, 0, len(rel.Assets))
	for _, a := range rel.Assets {
		assets = append(assets, f.assetJSON(key, a, rel.Tag))
	}
	return map[string]any{
		"id":           rel.ID,
		"tag_name":     rel.Tag,
		"name":         rel.Name,
		"body":         rel.Body,
		"created_at":   rel.CreatedAt.Format(time.RFC3339),
		"published_at": rel.CreatedAt.Format(time.RFC3339),
		"html_url":     fmt.Sprintf("%s/%s/releases/tag/%s", f.Content.URL, key, rel.Tag),
		"assets":       assets,
	}
}

func (f *FakeGitHub) handleUser(w http.ResponseWriter, r *http.Request) {
	u, ok := f.user(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"login": u.Login, "id": u.ID})
}

func (f *FakeGitHub) handleGetByTag(w http.ResponseWriter, r *http.Request) {
	if _, ok := f.user(w, r); !ok {
		return
	}
	key := r.PathValue("owner") + "/" + r.PathValue("repo")
	f.mu.Lock()
	defer f.mu.Unlock()
	rel := f.findReleaseLocked(key, r.PathValue("tag"))
	if rel == nil {
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, f.releaseJSON(key, rel))
}

func (f *FakeGitHub) handleCreateRelease(w http.ResponseWriter, r *http.Request) {
	if _, ok := f.user(w, r); !ok {
		return
	}
	var body struct {
		TagName string `json:"tag_name"`
		Name    string `json:"name"`
		Body    string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TagName == "" {
		writeMessage(w, http.StatusUnprocessableEntity, "Validation Failed")
		return
	}
	key := r.PathValue("owner") + "/" + r.PathValue("repo")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findReleaseLocked(key, body.TagName) != nil {
		writeMessage(w, http.StatusUnprocessableEntity, "Validation Failed")
		return
	}
	rel := f.addReleaseLocked(key, body.TagName)
	rel.Name = body.Name
	rel.Body = body.Body
	writeJSON(w, http.StatusCreated, f.releaseJSON(key, rel))
}

func (f *FakeGitHub) handleListReleases(w http.ResponseWriter, r *http.Request) {
	if _, ok := f.user(w, r); !ok {
		return
	}
	key := r.PathValue("owner") + "/" + r.PathValue("repo")
	f.mu.Lock()
	defer f.mu.Unlock()
	rels := f.releases[key]
	out := make([]map[string]any, 0, len(rels))
	for i := len(rels) - 1; i >= 0; i-- {
		out = append(out, f.releaseJSON(key, rels[i]))
	}
	writeJSON(w, http.StatusOK, paginate(w, r, out))
}

// paginate slices items by the page and per_page query parameters and sets
// a Link header pointing at the next page.
func paginate(w http.ResponseWriter, r *http.Request, items []map[string]any) []map[string]any {
	q := r.URL.Query()
	perPage, err := strconv.Atoi(q.Get("per_page"))
	if err != nil || perPage <= 0 {
		perPage = 30
	}
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page <= 0 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= len(items) {
		return []map[string]any{}
	}
	end := min(start+perPage, len(items))
	if end < len(items) {
		next := *r.URL
		nq := next.Query()
		nq.Set("page", strconv.Itoa(page+1))
		nq.Set("per_page", strconv.Itoa(perPage))
		next.RawQuery = nq.Encode()
		next.Scheme = "http"
		next.Host = r.Host
		w.Header().Set("Link", fmt.Sprintf("<%s>; rel=\"next\"", next.String()))
	}
	return items[start:end]
}

func (f *FakeGitHub) handleUploadAsset(w http.ResponseWriter, r *http.Request) {
	if _, ok := f.user(w, r); !ok {
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	}
	name := r.URL.Query().Get("name")
	content, err := io.ReadAll(r.Body)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "could not read body")
		return
	}
	if r.ContentLength >= 0 && int64(len(content)) != r.ContentLength {
		writeMessage(w, http.StatusBadRequest, "body does not match Content-Length")
		return
	}

	key := r.PathValue("owner") + "/" + r.PathValue("repo")
	f.mu.Lock()
	defer f.mu.Unlock()
	var rel *fakeRelease
	for _, candidate := range f.releases[key] {
		if candidate.ID == id {
			rel = candidate
		}
	}
	if rel == nil {
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	}
	for _, a := range rel.Assets {
		if a.Name == name {
			writeMessage(w, http.StatusUnprocessableEntity, "Validation Failed")
			return
		}
	}
	a := &fakeAsset{ID: f.id(), Name: name, ContentType: r.Header.Get("Content-Type"), Content: content, CreatedAt: time.Now().UTC()}
	rel.Assets = append(rel.Assets, a)
	writeJSON(w, http.StatusCreated, f.assetJSON(key, a, rel.Tag))
}

func (f *FakeGitHub) findAssetLocked(key string, id int64) (*fakeRelease, int) {
	for _, rel := range f.releases[key] {
		for i, a := range rel.Assets {
			if a.ID == id {
				return rel, i
			}
		}
	}
	return nil, -1
}

func (f *FakeGitHub) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	if _, ok := f.user(w, r); !ok {
		return
	}
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	key := r.PathValue("owner") + "/" + r.PathValue("repo")
	f.mu.Lock()
	defer f.mu.Unlock()
	rel, i := f.findAssetLocked(key, id)
	if rel == nil {
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	}
	a := rel.Assets[i]
	if r.Header.Get("Accept") != "application/octet-stream" {
		writeJSON(w, http.StatusOK, f.assetJSON(key, a, rel.Tag))
		return
	}
	http.Redirect(w, r, fmt.Sprintf("%s/blob/%d?sig=signed", f.Content.URL, a.ID), http.StatusFound)
}

func (f *FakeGitHub) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	if _, ok := f.user(w, r); !ok {
		return
	}
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	key := r.PathValue("owner") + "/" + r.PathValue("repo")
	f.mu.Lock()
	defer f.mu.Unlock()
	rel, i := f.findAssetLocked(key, id)
	if rel == nil {
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	}
	rel.Assets = append(rel.Assets[:i], rel.Assets[i+1:]...)
	w.WriteHeader(http.StatusNoContent)
}

func (f *FakeGitHub) findBlobLocked(id int64) *fakeAsset {
	for _, rels := range f.releases {
		for _, rel := range rels {
			for _, a := range rel.Assets {
				if a.ID == id {
					return a
				}
			}
		}
	}
	return nil
}

func (f *FakeGitHub) handleBlob(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	f.mu.Lock()
	f.blobAuth = append(f.blobAuth, r.Header.Get("Authorization"))
	loop, status := f.loopRedirects, f.blobStatus
	a := f.findBlobLocked(id)
	if a != nil {
		a.Downloads++
	}
	f.mu.Unlock()

	switch {
	case loop:
		http.Redirect(w, r, r.URL.String(), http.StatusFound)
	case status != 0:
		writeMessage(w, status, "Request has expired")
	case a == nil || r.URL.Query().Get("sig") == "":
		writeMessage(w, http.StatusNotFound, "Not Found")
	default:
		w.Header().Set("Content-Type", a.ContentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(a.Content)))
		_, _ = w.Write(a.Content)
	}
}

func (f *FakeGitHub) handlePublic(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("owner") + "/" + r.PathValue("repo")
	f.mu.Lock()
	defer f.mu.Unlock()
	rel := f.findReleaseLocked(key, r.PathValue("tag"))
	if rel == nil {
		http.NotFound(w, r)
		return
	}
	a, ok := findByName(rel.Assets, r.PathValue("name"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", a.ContentType)
	_, _ = w.Write(a.Content)
}

func findByName(assets []*fakeAsset, name string) (*fakeAsset, bool) {
	for _, a := range assets {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

type gistFileJSON struct {
	Filename string `json:"filename,omitempty"`
	Content  string `json:"content"`
}

type gistJSON struct {
	ID          string                   `json:"id,omitempty"`
	Description string                   `json:"description"`
	Public      bool                     `json:"public"`
	Files       map[string]*gistFileJSON `json:"files"`
}

func (g *fakeGist) toJSON(withContent bool) gistJSON {
	out := gistJSON{ID: g.ID, Description: g.Description, Public: g.Public, Files: map[string]*gistFileJSON{}}
	for name, content := range g.Files {
		file := &gistFileJSON{Filename: name}
		if withContent {
			file.Content = content
		}
		out.Files[name] = file
	}
	return out
}

func (f *FakeGitHub) handleListGists(w http.ResponseWriter, r *http.Request) {
	u, ok := f.user(w, r)
	if !ok {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []gistJSON{}
	for _, g := range f.gists {
		if g.Owner == u.Login {
			out = append(out, g.toJSON(false))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (f *FakeGitHub) findGistLocked(owner, id string) *fakeGist {
	for _, g := range f.gists {
		if g.ID == id && g.Owner == owner {
			return g
		}
	}
	return nil
}

func (f *FakeGitHub) handleGetGist(w http.ResponseWriter, r *http.Request) {
	u, ok := f.user(w, r)
	if !ok {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	g := f.findGistLocked(u.Login, r.PathValue("id"))
	if g == nil {
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, g.toJSON(true))
}

func (f *FakeGitHub) handleCreateGist(w http.ResponseWriter, r *http.Request) {
	u, ok := f.user(w, r)
	if !ok {
		return
	}
	var body gistJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Files) == 0 {
		writeMessage(w, http.StatusUnprocessableEntity, "Validation Failed")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	g := &fakeGist{
		ID:          fmt.Sprintf("g%d", f.id()),
		Owner:       u.Login,
		Description: body.Description,
		Public:      body.Public,
		Files:       map[string]string{},
	}
	for name, file := range body.Files {
		g.Files[name] = file.Content
	}
	f.gists = append(f.gists, g)
	writeJSON(w, http.StatusCreated, g.toJSON(true))
}

func (f *FakeGitHub) handleEditGist(w http.ResponseWriter, r *http.Request) {
	u, ok := f.user(w, r)
	if !ok {
		return
	}
	var body gistJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeMessage(w, http.StatusUnprocessableEntity, "Validation Failed")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	g := f.findGistLocked(u.Login, r.PathValue("id"))
	if g == nil {
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	}
	if body.Description != "" {
		g.Description = body.Description
	}
	for name, file := range body.Files {
		g.Files[name] = file.Content
	}
	writeJSON(w, http.StatusOK, g.toJSON(true))
}

func (f *FakeGitHub) handleOAuthToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	f.mu.Lock()
	token, ok := f.codes[r.Form.Get("code")]
	if ok {
		delete(f.codes, r.Form.Get("code"))
	}
	f.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "bad_verification_code",
			"error_description": "The code passed is incorrect or expired.",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": token, "token_type": "bearer", "scope": "repo,gist"})
}
