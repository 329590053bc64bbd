package scan

// Progress is the single event shape emitted by the walker and the stage
// coordinator. Done/Total count units within the current stage; Stage and
// Stages let a consumer render an overall fraction as stage + done/total.
type Progress struct {
	Stage  int
	Stages int
	Done   int64
	Total  int64
	Label  string
}

// Fraction returns overall pipeline completion in [0, Stages].
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return float64(p.Stage)
	}
	return float64(p.Stage) + float64(p.Done)/float64(p.Total)
}

// ProgressFunc receives progress events. Event interleaving is not
// deterministic across runs; results are.
type ProgressFunc func(Progress)

// PauseFunc is polled cooperatively between units of work (one directory,
// one file hash). It is never checked mid-file.
type PauseFunc func() bool

func (f ProgressFunc) emit(p Progress) {
	if f != nil {
		f(p)
	}
}

func (f PauseFunc) requested() bool {
	return f != nil && f()
}
