package harness

import "github.com/trungdo2789/mpl-candy/internal/workflow"

// Summary is the part of the run report that is stable across runs.
type Summary struct {
	Passes      int    `json:"passes"`
	Minted      int    `json:"minted"`
	Recovered   int    `json:"recovered"`
	Delivered   int    `json:"delivered"`
	Incomplete  int    `json:"incomplete"`
	Outstanding int    `json:"outstanding"`
	Done        bool   `json:"done"`
	Error       string `json:"error,omitempty"`
}

func summarize(r *workflow.Report, runErr error) Summary {
	s := Summary{
		Passes:      r.Passes,
		Minted:      r.Minted,
		Recovered:   r.Recovered,
		Delivered:   r.Delivered,
		Incomplete:  r.Incomplete,
		Outstanding: r.Outstanding,
		Done:        r.Done,
	}
	if runErr != nil {
		s.Error = runErr.Error()
	}
	return s
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Trace holds every collaborator call in order, one line per call.
	Trace []string `json:"trace"`

	// Errors contains failed assertion messages.
	Errors []string `json:"errors,omitempty"`

	Summary Summary `json:"summary"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []string{},
		Errors: []string{},
	}
}

// AddError adds a failed assertion and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
