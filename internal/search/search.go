package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
	OrgID      string `json:"orgId"`
	Status     string `json:"status"`
	Department string `json:"department,omitempty"`
	Category   string `json:"category,omitempty"`
}

// Query describes a search request. Statuses is the set of policy statuses
// the viewer is allowed to see; it is computed from the viewer's role before
// the query runs, so neither backend can leak a draft to an ordinary reader.
type Query struct {
	Text     string
	OrgID    string
	Statuses []string
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push policies into a search index.
type Indexer interface {
	IndexPolicy(p PolicyRecord) error
	DeletePolicy(id string) error
}

// PolicyRecord is the data we index for a policy.
type PolicyRecord struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	OrgID      string   `json:"orgId"`
	Status     string   `json:"status"`
	Department string   `json:"department"`
	Category   string   `json:"category"`
	Tags       []string `json:"tags"`
}
