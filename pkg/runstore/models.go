package runstore

import "time"

// Run is the persisted summary of one completed run.
type Run struct {
	RunID          string    `gorm:"primaryKey" json:"run_id"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Classification string    `json:"classification"`
	CasesFile      string    `json:"cases_file"`
	Hostname       string    `json:"hostname"`

	Total      int `json:"total"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	TimedOut   int `json:"timed_out"`
	CacheHits  int `json:"cache_hits"`
	Violations int `json:"violations"`
}

// CaseRecord is one case outcome within a run.
type CaseRecord struct {
	ID         uint    `gorm:"primaryKey;autoIncrement" json:"-"`
	RunID      string  `gorm:"index" json:"run_id"`
	CaseID     string  `gorm:"index" json:"case_id"`
	Hash       string  `gorm:"index" json:"hash"`
	Backend    string  `json:"backend"`
	Status     string  `json:"status"`
	RunSeconds float64 `json:"run_seconds"`
	Attempts   int     `json:"attempts"`
	CacheHit   bool    `json:"cache_hit"`
}
