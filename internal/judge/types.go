package judge

import "time"

// Result is the decoded first line of a judge child's result file: the
// scoring summary line of the form "%d/%d\t%d.%02d\t# %s%s", ending in "."
// when every case passed and "!" otherwise.
type Result struct {
	Passed  int
	Total   int
	Secs    int
	Cents   int // hundredths of a second
	Verdict string
	Raw     string
}

// runState tracks the one judge child process the driver may have in
// flight at a time.
type runState struct {
	pid       int
	submitIdx int
	startedAt time.Time
}
