package layout

// Page is one page of a job's source document.
//
// Background holds the page's drawing instructions with text painting
// removed. It is produced once per job and never re-derived. When isolation
// failed, IsolationFailed is set and Background is empty; assembly then paints
// over the original page content.
type Page struct {
	JobID           string  `json:"job_id"`
	Number          int     `json:"page_number"`
	Width           float64 `json:"width"`
	Height          float64 `json:"height"`
	SegmentIndexes  []int   `json:"segment_indexes"`
	Background      []byte  `json:"-"`
	IsolationFailed bool    `json:"isolation_failed"`
}

// PageSnapshot is an immutable view of a page and its segments handed from
// the orchestrator to the assembler.
type PageSnapshot struct {
	Page     Page
	Segments []Segment
}

// NewPageSnapshot copies page and segments.
func NewPageSnapshot(page Page, segs []Segment) PageSnapshot {
	p := page
	p.SegmentIndexes = append([]int(nil), page.SegmentIndexes...)
	p.Background = append([]byte(nil), page.Background...)
	out := make([]Segment, len(segs))
	for i, s := range segs {
		out[i] = s.Clone()
	}
	return PageSnapshot{Page: p, Segments: out}
}
