// pagination.go: RFC 8288 pagination Link headers.
//
// Response bodies implement Pager; the Linker transformer turns the
// returned links into headers.
package humastar

import "fmt"

// Pager is implemented by response bodies that carry pagination metadata.
type Pager interface {
	PaginationLinks(basePath string) []string
}

// PageBody is a generic offset/limit page of items.
type PageBody[T any] struct {
	Total  int `json:"total" doc:"Total number of items"`
	Offset int `json:"offset" doc:"Current offset"`
	Limit  int `json:"limit" doc:"Page size"`
	Data   []T `json:"data" doc:"Items"`
}

// NewPage builds a page envelope. Nil data encodes as an empty list.
func NewPage[T any](total, offset, limit int, data []T) PageBody[T] {
	if data == nil {
		data = []T{}
	}
	return PageBody[T]{Total: total, Offset: offset, Limit: limit, Data: data}
}

// PaginationLinks returns first, prev, next and last links. A page without
// a positive limit has no links.
func (p PageBody[T]) PaginationLinks(basePath string) []string {
	if p.Limit <= 0 {
		return nil
	}
	link := func(offset int, rel string) string {
		return fmt.Sprintf(`<%s?offset=%d&limit=%d>; rel="%s"`, basePath, offset, p.Limit, rel)
	}

	links := []string{link(0, "first")}
	if p.Offset > 0 {
		links = append(links, link(max(p.Offset-p.Limit, 0), "prev"))
	}
	if p.Offset+p.Limit < p.Total {
		links = append(links, link(p.Offset+p.Limit, "next"))
	}
	last := max((p.Total-1)/p.Limit*p.Limit, 0)
	return append(links, link(last, "last"))
}
