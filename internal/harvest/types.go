package harvest

import (
	"time"
)

// Phase identifies an independently checkpointed step of a harvest.
type Phase string

// Harvest phases, in execution order.
const (
	PhaseDownload Phase = "download"
	PhaseOCR      Phase = "ocr"
)

// Phases lists every phase in execution order.
func Phases() []Phase {
	return []Phase{PhaseDownload, PhaseOCR}
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseDownload, PhaseOCR:
		return true
	default:
		return false
	}
}

// Stage is a step of the link-following crawl inside the download phase.
type Stage string

// Crawl stages.
const (
	StageStart   Stage = "START"
	StageListing Stage = "LISTING"
	StageDetail  Stage = "DETAIL"
)

// CrawlState is the persisted record of one phase for one entity.
// Once Finished is true, Files is terminal and must not change.
type CrawlState struct {
	Finished bool     `json:"finished"`
	Files    []string `json:"files"`
}

// Clone returns a deep copy of the state.
func (s CrawlState) Clone() CrawlState {
	files := make([]string, len(s.Files))
	copy(files, s.Files)
	return CrawlState{Finished: s.Finished, Files: files}
}

// CrawlRequest is a unit of work for the crawl orchestrator. It lives only in memory.
type CrawlRequest struct {
	URL   string
	Stage Stage
}

// DocumentRecord is a stored document blob.
type DocumentRecord struct {
	Filename    string
	ContentType string
	Data        []byte
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL   string
	Stage Stage
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    Headers
	Body       []byte
	Duration   time.Duration
}

// CompletionEvent is published once both phases of a harvest have finished.
type CompletionEvent struct {
	EntityKey  string    `json:"entity_key"`
	EntityName string    `json:"entity_name"`
	Documents  int       `json:"documents"`
	Texts      int       `json:"texts"`
	FinishedAt time.Time `json:"finished_at"`
}
