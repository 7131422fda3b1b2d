package scripting

import (
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/dop251/goja"
	"github.com/kittclouds/kiln/internal/store"
)

// bindStdlib installs the known standard library spec §4.11 promises:
// an HTTP client, regex, the host's native JSON (goja already provides
// ECMAScript JSON.parse/stringify), popup/interaction helpers, kiln/
// session/workspace path accessors, and db-find/db-outlinks/db-inlinks/
// db-query graph-query shortcuts.
func bindStdlib(vm *goja.Runtime, rt *Runtime) error {
	if err := vm.Set("http", buildHTTPModule(vm)); err != nil {
		return err
	}
	if err := vm.Set("regex", buildRegexModule(vm)); err != nil {
		return err
	}
	if err := vm.Set("popup", buildPopupModule(vm, rt)); err != nil {
		return err
	}
	if err := vm.Set("kiln", map[string]any{"root": func() string { return rt.paths.KilnRoot }}); err != nil {
		return err
	}
	if err := vm.Set("session", map[string]any{"root": func() string { return rt.paths.SessionRoot }}); err != nil {
		return err
	}
	if err := vm.Set("workspace", map[string]any{"root": func() string { return rt.paths.WorkspaceRoot }}); err != nil {
		return err
	}
	if err := vm.Set("db", buildDBModule(vm, rt)); err != nil {
		return err
	}
	return nil
}

var httpClient = &http.Client{Timeout: 15 * time.Second}

func buildHTTPModule(vm *goja.Runtime) map[string]any {
	get := func(url string) (map[string]any, error) {
		resp, err := httpClient.Get(url)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
		if err != nil {
			return nil, err
		}
		return map[string]any{"status": resp.StatusCode, "body": string(body)}, nil
	}
	post := func(url, contentType, body string) (map[string]any, error) {
		resp, err := httpClient.Post(url, contentType, stringReader(body))
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
		if err != nil {
			return nil, err
		}
		return map[string]any{"status": resp.StatusCode, "body": string(respBody)}, nil
	}
	return map[string]any{"get": get, "post": post}
}

type stringReaderT struct {
	s   string
	pos int
}

func (r *stringReaderT) Read(p []byte) (int, error) {
	if r.pos >= len(r.s) {
		return 0, io.EOF
	}
	n := copy(p, r.s[r.pos:])
	r.pos += n
	return n, nil
}

func stringReader(s string) io.Reader { return &stringReaderT{s: s} }

func buildRegexModule(vm *goja.Runtime) map[string]any {
	match := func(pattern, input string) (bool, error) {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, err
		}
		return re.MatchString(input), nil
	}
	findAll := func(pattern, input string) ([]string, error) {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		return re.FindAllString(input, -1), nil
	}
	replace := func(pattern, input, repl string) (string, error) {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return "", err
		}
		return re.ReplaceAllString(input, repl), nil
	}
	return map[string]any{"match": match, "find_all": findAll, "replace": replace}
}

// buildPopupModule exposes interactive helpers that publish an
// InteractionRequested event and block (with a timeout) for a matching
// answer delivered through Runtime.Resolve, keyed by a correlation id — the scripting
// runtime's minimal slice of the correlation-id-keyed oneshot pattern
// C12's tool executor formalizes for every interactive tool.
func buildPopupModule(vm *goja.Runtime, rt *Runtime) map[string]any {
	ask := func(prompt string) (string, error) {
		return rt.interactions.ask(rt.bus, prompt, 5*time.Minute)
	}
	confirm := func(prompt string) (bool, error) {
		answer, err := rt.interactions.ask(rt.bus, prompt, 5*time.Minute)
		if err != nil {
			return false, err
		}
		return answer == "yes" || answer == "y" || answer == "true", nil
	}
	return map[string]any{"ask": ask, "confirm": confirm}
}

func buildDBModule(vm *goja.Runtime, rt *Runtime) map[string]any {
	find := func(id string) (*store.Entity, error) { return rt.st.GetEntity(id) }
	outlinks := func(id string) ([]*store.Relation, error) { return rt.st.ListRelationsFrom(id) }
	inlinks := func(id string) ([]*store.Relation, error) { return rt.st.ListRelationsTo(id) }
	query := func(surface map[string]any) (*store.QueryResult, error) {
		return rt.st.Query(decodeQuerySurface(surface))
	}
	return map[string]any{
		"find":     find,
		"outlinks": outlinks,
		"inlinks":  inlinks,
		"query":    query,
	}
}

func decodeQuerySurface(m map[string]any) store.QuerySurface {
	var q store.QuerySurface
	if v, ok := m["id"].(string); ok {
		q.ID = v
	}
	if v, ok := m["out_edges_of"].(string); ok {
		q.OutEdgesOf = v
	}
	if v, ok := m["in_edges_of"].(string); ok {
		q.InEdgesOf = v
	}
	if v, ok := m["tag_path"].(string); ok {
		q.TagPath = v
	}
	if v, ok := m["limit"].(int64); ok {
		q.Limit = int(v)
	}
	return q
}
