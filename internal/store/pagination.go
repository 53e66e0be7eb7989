package store

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// PageParams contains offset pagination parameters.
type PageParams struct {
	Offset int
	Limit  int // defaults to 50 with a maximum of 500
}

// Normalize returns p with defaults and bounds applied.
func (p PageParams) Normalize() PageParams {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	return p
}

// Page is one slice of a listing.
type Page[T any] struct {
	Items   []T  `json:"items"`
	Total   int  `json:"total"`
	HasMore bool `json:"has_more"`
}

// NewPage builds a page and computes HasMore.
func NewPage[T any](items []T, total int, p PageParams) *Page[T] {
	if items == nil {
		items = []T{}
	}
	return &Page[T]{Items: items, Total: total, HasMore: p.Offset+len(items) < total}
}
