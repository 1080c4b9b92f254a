package hermes

import "encoding/json"

const (
	// SubjectExportStored announces a workspace export ready for scoring.
	SubjectExportStored = "sift.export.stored"
	// SubjectCorpusScored announces a finished triage run.
	SubjectCorpusScored = "sift.corpus.scored"
	// SubjectRunFailed announces a run that could not complete.
	SubjectRunFailed = "sift.run.failed"
)

// ExportStored is published by the extractor once an export is written. The
// records travel inline or are fetched from URL.
type ExportStored struct {
	ExportID string          `json:"export_id"`
	Source   string          `json:"source"`
	URL      string          `json:"url,omitempty"`
	Records  json.RawMessage `json:"records,omitempty"`
}

// CorpusScored summarizes a finished run. The corpus itself is in the store.
type CorpusScored struct {
	RunID       string         `json:"run_id"`
	ExportID    string         `json:"export_id"`
	Source      string         `json:"source"`
	Threads     int            `json:"threads"`
	Messages    int            `json:"messages"`
	Kept        int            `json:"kept"`
	Dropped     int            `json:"dropped"`
	Failed      int            `json:"failed"`
	Rejected    int            `json:"rejected"`
	BySentiment map[string]int `json:"by_sentiment"`
	ByCategory  map[string]int `json:"by_category"`
}

type RunFailed struct {
	RunID    string `json:"run_id"`
	ExportID string `json:"export_id"`
	Error    string `json:"error"`
}
