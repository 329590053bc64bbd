package types

// ScanProgress is the event shape broadcast to SSE subscribers while a scan
// runs. Fraction is overall pipeline completion, stage + done/total.
type ScanProgress struct {
	Stage      int     `json:"stage"`
	Stages     int     `json:"stages"`
	Done       int64   `json:"done"`
	Total      int64   `json:"total"`
	Label      string  `json:"label"`
	Fraction   float64 `json:"fraction"`
	FilesFound int64   `json:"files_found"`
	Failures   int     `json:"failures"`
	Status     string  `json:"status"`
}
