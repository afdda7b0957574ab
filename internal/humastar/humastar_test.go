package humastar

import (
	"context"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaginationLinks(t *testing.T) {
	p := NewPage[int](25, 10, 10, nil)
	assert.Equal(t, []string{
		`</items?offset=0&limit=10>; rel="first"`,
		`</items?offset=0&limit=10>; rel="prev"`,
		`</items?offset=20&limit=10>; rel="next"`,
		`</items?offset=20&limit=10>; rel="last"`,
	}, p.PaginationLinks("/items"))
	assert.NotNil(t, p.Data)

	empty := NewPage[int](0, 0, 10, nil)
	assert.Equal(t, []string{
		`</items?offset=0&limit=10>; rel="first"`,
		`</items?offset=0&limit=10>; rel="last"`,
	}, empty.PaginationLinks("/items"))

	assert.Nil(t, NewPage[int](5, 0, 0, nil).PaginationLinks("/items"))
}

func TestActionLinkHeader(t *testing.T) {
	actions := ActionsFor("cafes",
		ActionDef{Rel: "build", Pattern: "/api/v1/datasets/%s/build", Method: http.MethodPost, Title: "Build index"},
		ActionDef{Rel: "clusters", Pattern: "/api/v1/datasets/%s/clusters"},
	)
	require.Len(t, actions, 2)
	assert.Equal(t, `</api/v1/datasets/cafes/build>; rel="build"; method="POST"; title="Build index"`, actions[0].LinkHeader())
	assert.Equal(t, `</api/v1/datasets/cafes/clusters>; rel="clusters"`, actions[1].LinkHeader())
}

func TestParseLinkHeader(t *testing.T) {
	rel, href := parseLinkHeader(`</api/v1/things>; rel="things"`)
	assert.Equal(t, "things", rel)
	assert.Equal(t, "/api/v1/things", href)

	rel, _ = parseLinkHeader("garbage")
	assert.Empty(t, rel)
}

type thing struct {
	ID string `json:"id"`
}

func (thing) Actions() []Action {
	return []Action{{Rel: "poke", Href: "/api/v1/things/a/poke", Method: http.MethodPost}}
}

func TestAutoLinks(t *testing.T) {
	_, api := humatest.New(t)
	huma.Get(api, "/health", func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		return &struct{}{}, nil
	})
	huma.Get(api, "/api/v1/things", func(ctx context.Context, _ *struct{}) (*struct{ Body []thing }, error) {
		return &struct{ Body []thing }{Body: []thing{}}, nil
	})
	huma.Get(api, "/api/v1/things/{id}", func(ctx context.Context, in *struct {
		ID string `path:"id"`
	}) (*struct{ Body thing }, error) {
		return &struct{ Body thing }{Body: thing{ID: in.ID}}, nil
	})
	huma.Get(api, "/api/v1/stream", func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		return &struct{}{}, nil
	}, huma.OperationTags("events"))

	linker := AutoLinks(api, "/health", "events")

	assert.Contains(t, linker.EntryLinks(), `</api/v1/things>; rel="things"`)
	assert.Contains(t, linker.EntryLinks(), `</openapi.json>; rel="service-desc"`)
	assert.NotContains(t, linker.EntryLinks(), `</api/v1/stream>; rel="stream"`)
	assert.Contains(t, linker.Links("/api/v1/things"), `</api/v1/things/{id}>; rel="item"`)
	assert.Contains(t, linker.Links("/api/v1/things/{id}"), `</api/v1/things>; rel="collection"`)

	op := api.OpenAPI().Paths["/api/v1/things/{id}"].Get
	assert.Contains(t, op.Responses["200"].Links, "collection")
}

func TestLinkerTransformer(t *testing.T) {
	linker := NewLinker("/health")
	linker.add("/api/v1/things/{id}", "/api/v1/things", "collection")

	config := huma.DefaultConfig("test", "1.0.0")
	config.Transformers = append(config.Transformers, linker.Transformer())
	_, api := humatest.New(t, config)
	huma.Get(api, "/api/v1/things/{id}", func(ctx context.Context, in *struct {
		ID string `path:"id"`
	}) (*struct{ Body thing }, error) {
		return &struct{ Body thing }{Body: thing{ID: in.ID}}, nil
	})

	resp := api.Get("/api/v1/things/a")
	require.Equal(t, http.StatusOK, resp.Code)
	links := resp.Result().Header.Values("Link")
	assert.Contains(t, links, `</api/v1/things>; rel="collection"`)
	assert.Contains(t, links, `</api/v1/things/a>; rel="self"`)
	assert.Contains(t, links, `</api/v1/things/a/poke>; rel="poke"; method="POST"`)
}
