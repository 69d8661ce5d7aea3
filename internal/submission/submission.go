// Package submission implements the fixed-capacity pending-submission
// table: one slot per queued judge run, at most one pending submission per
// user+contest pair.
//
// Grounded on original_source/serv.c's struct sub and subs_find / subs_first
// / subs_add.
package submission

import "time"

// Submission is one queued (or completed-but-not-yet-reaped) judge run.
type Submission struct {
	User  string
	Cont  string
	Lang  string
	Path  string
	Date  time.Time
	Valid bool
}

// Queue is a fixed-capacity table of pending submissions, scanned
// linearly exactly as the original does — the table size (spec.md's
// MaxSubs, 32) is small enough that a linear scan beats any indexed
// structure in both simplicity and cache behavior.
type Queue struct {
	slots [32]Submission
}

// NewQueue returns an empty submission queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Find returns the index of the pending submission for user+cont, or -1.
func (q *Queue) Find(user, cont string) int {
	for i := range q.slots {
		if q.slots[i].Valid && q.slots[i].User == user && q.slots[i].Cont == cont {
			return i
		}
	}
	return -1
}

// First returns the index of the first valid (unprocessed) submission, or -1.
func (q *Queue) First() int {
	for i := range q.slots {
		if q.slots[i].Valid {
			return i
		}
	}
	return -1
}

// Add queues a new submission in the first free slot. It reports false if
// the table is full.
func (q *Queue) Add(user, cont, lang, path string, now time.Time) bool {
	for i := range q.slots {
		if !q.slots[i].Valid {
			q.slots[i] = Submission{
				User:  user,
				Cont:  cont,
				Lang:  lang,
				Path:  path,
				Date:  now,
				Valid: true,
			}
			return true
		}
	}
	return false
}

// At returns a copy of the submission in slot i.
func (q *Queue) At(i int) Submission {
	return q.slots[i]
}

// Invalidate marks slot i free.
func (q *Queue) Invalidate(i int) {
	q.slots[i].Valid = false
}

// Pending returns every currently valid submission for cont, in slot order
// — used by the report handler to list submissions still awaiting a verdict.
func (q *Queue) Pending(cont string) []Submission {
	var out []Submission
	for i := range q.slots {
		if q.slots[i].Valid && q.slots[i].Cont == cont {
			out = append(out, q.slots[i])
		}
	}
	return out
}

// Len reports the table's fixed capacity.
func (q *Queue) Len() int { return len(q.slots) }

// Count reports the number of currently valid (pending or in-flight)
// submissions across every contest.
func (q *Queue) Count() int {
	n := 0
	for i := range q.slots {
		if q.slots[i].Valid {
			n++
		}
	}
	return n
}
