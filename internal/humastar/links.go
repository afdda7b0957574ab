package humastar

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// Linker holds the hypermedia links derived from a registered API, keyed by
// operation path.
type Linker struct {
	entry string
	skip  []string
	links map[string][]string
}

// NewLinker creates an empty Linker. Its Transformer can be installed in the
// API config before routes exist; Discover fills it in afterwards.
func NewLinker(entry string, skipTags ...string) *Linker {
	return &Linker{entry: entry, skip: skipTags, links: map[string][]string{}}
}

// AutoLinks creates a Linker and discovers the links of api.
func AutoLinks(api huma.API, entry string, skipTags ...string) *Linker {
	l := NewLinker(entry, skipTags...)
	l.Discover(api)
	return l
}

// Discover walks the OpenAPI paths of api and derives links between them:
// items link up to their collection, collections to their item template,
// the entry path to every collection and the OpenAPI document. Paths tagged
// with one of the skip tags get no links. Call after all routes are
// registered.
func (l *Linker) Discover(api huma.API) {
	entry := l.entry
	oapi := api.OpenAPI()

	var collections, items []string
	for p, pi := range oapi.Paths {
		if hasAnyTag(primaryTags(pi), l.skip) {
			continue
		}
		if strings.Contains(p, "{") {
			items = append(items, p)
		} else {
			collections = append(collections, p)
		}
	}
	sort.Strings(collections)
	sort.Strings(items)

	for _, item := range items {
		parent := path.Dir(item)
		if _, ok := oapi.Paths[parent]; ok {
			l.add(item, parent, "collection")
			l.add(item, parent, "up")
		}
		if pi := oapi.Paths[item]; pi.Put != nil || pi.Patch != nil {
			l.add(item, item, "edit")
		}
	}

	for _, coll := range collections {
		for _, item := range items {
			if path.Dir(item) == coll {
				l.add(coll, item, "item")
			}
		}
		if oapi.Paths[coll].Post != nil {
			l.add(coll, coll, "create-form")
		}
		if coll != entry {
			l.add(coll, entry, "up")
			l.add(entry, coll, lastSegment(coll))
		}
	}

	l.add(entry, "/openapi.json", "service-desc")
	l.add(entry, "/docs", "service-doc")

	for p, pi := range oapi.Paths {
		for _, op := range operationsOf(pi) {
			if op != nil {
				injectResponseLinks(op, l.links[p])
			}
		}
	}
}

// Links returns the derived Link header values of an operation path.
func (l *Linker) Links(opPath string) []string {
	return l.links[opPath]
}

// EntryLinks returns the links of the entry path, for non-Huma handlers.
func (l *Linker) EntryLinks() []string {
	return l.links[l.entry]
}

// Transformer returns a Huma Transformer that sets the derived links, a self
// link on item paths, pagination links of [Pager] bodies and action links of
// [Actor] bodies as RFC 8288 Link headers.
func (l *Linker) Transformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}

		for _, link := range l.links[op.Path] {
			ctx.AppendHeader("Link", link)
		}
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}
		if p, ok := v.(Pager); ok {
			for _, link := range p.PaginationLinks(ctx.URL().Path) {
				ctx.AppendHeader("Link", link)
			}
		}
		if a, ok := v.(Actor); ok {
			for _, action := range a.Actions() {
				ctx.AppendHeader("Link", action.LinkHeader())
			}
		}
		return v, nil
	}
}

func (l *Linker) add(from, to, rel string) {
	val := fmt.Sprintf(`<%s>; rel="%s"`, to, rel)
	for _, existing := range l.links[from] {
		if existing == val {
			return
		}
	}
	l.links[from] = append(l.links[from], val)
}

func primaryTags(pi *huma.PathItem) []string {
	for _, op := range operationsOf(pi) {
		if op != nil && len(op.Tags) > 0 {
			return op.Tags
		}
	}
	return nil
}

func operationsOf(pi *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{pi.Get, pi.Post, pi.Put, pi.Patch, pi.Delete}
}

func hasAnyTag(tags, want []string) bool {
	for _, t := range tags {
		for _, w := range want {
			if t == w {
				return true
			}
		}
	}
	return false
}

func lastSegment(p string) string {
	parts := strings.Split(strings.TrimRight(p, "/"), "/")
	return parts[len(parts)-1]
}

// injectResponseLinks documents the links on the operation's success
// response.
func injectResponseLinks(op *huma.Operation, headers []string) {
	if op.Responses == nil || len(headers) == 0 {
		return
	}
	var resp *huma.Response
	for code, r := range op.Responses {
		if strings.HasPrefix(code, "2") {
			resp = r
			break
		}
	}
	if resp == nil {
		return
	}
	if resp.Links == nil {
		resp.Links = map[string]*huma.Link{}
	}
	for _, h := range headers {
		rel, href := parseLinkHeader(h)
		if rel == "" {
			continue
		}
		resp.Links[rel] = &huma.Link{
			OperationRef: href,
			Description:  "Related: " + rel,
		}
	}
}

func parseLinkHeader(h string) (rel, href string) {
	target, params, ok := strings.Cut(h, ";")
	if !ok {
		return "", ""
	}
	href = strings.Trim(strings.TrimSpace(target), "<>")
	params = strings.TrimSpace(params)
	if strings.HasPrefix(params, `rel="`) {
		rel = strings.Trim(params[len("rel="):], `"`)
	}
	return rel, href
}
