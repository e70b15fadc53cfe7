package types

import "time"

// VideoAsset is one piece of footage in the local library.
type VideoAsset struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	LocalPath    string  `json:"local_path"`
	CategoryPath string  `json:"category_path"`
	DurationSec  float64 `json:"duration_sec,omitempty"`
}

// CategoryInfo describes one library category offered to the planner.
type CategoryInfo struct {
	Name       string `json:"name"`
	VideoCount int    `json:"video_count"`
}

// Window is a half-open [Start,End) slice of the output timeline, in seconds.
type Window struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t float64) bool {
	return t >= w.Start && t < w.End
}

// DistributionEntry is the planner's per-category assignment.
type DistributionEntry struct {
	Category string   `json:"category"`
	Clips    int      `json:"clips"`
	Windows  []Window `json:"windows,omitempty"`
}

// Distribution maps the voiceover onto library categories.
type Distribution struct {
	Entries []DistributionEntry `json:"entries"`
}

// TotalClips sums the per-category clip counts.
func (d Distribution) TotalClips() int {
	n := 0
	for _, e := range d.Entries {
		n += e.Clips
	}
	return n
}

// CutInstruction is one unit of the compiled timeline.
type CutInstruction struct {
	SourcePath  string  `json:"source_path"`
	StartOffset float64 `json:"start_offset"`
	DurationSec float64 `json:"duration_sec"`
	SequenceIdx int     `json:"sequence_idx"`
	Category    string  `json:"category,omitempty"`
}

// Task lifecycle states.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Task is one user-facing generation job.
type Task struct {
	ID          string     `json:"task_id"`
	Status      string     `json:"status"`
	Progress    string     `json:"progress"`
	Error       string     `json:"error,omitempty"`
	OutputFile  string     `json:"output_file,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
