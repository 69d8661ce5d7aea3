// Package protocol implements RequestFSM: the per-connection state machine
// that reads one request line, optionally a submission body, dispatches to
// the register/report/submit handlers, and decides when a connection is
// done and may be hung up once its output drains.
//
// Grounded on original_source/serv.c's ct_poll (the inline per-connection
// state machine driven by conns_lim) and ct_register / ct_report /
// ct_submit / endmarker / langok.
package protocol

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aligrudi/chth/internal/conn"
	"github.com/aligrudi/chth/internal/constants"
	"github.com/aligrudi/chth/internal/interfaces"
	"github.com/aligrudi/chth/internal/submission"
	"github.com/aligrudi/chth/internal/userstore"
)

// Phase is a connection's position in the request lifecycle.
type Phase int

const (
	// AwaitLine is waiting for a terminated request line.
	AwaitLine Phase = iota
	// AwaitBody is waiting for a submission body terminated by its end marker.
	AwaitBody
	// Done has dispatched its request; it closes once output drains.
	Done
)

// FSM tracks one connection's request state across poll ticks.
type FSM struct {
	Phase   Phase
	ReqLine string
}

// Handlers wires the protocol layer to its collaborators: the credential
// store, the pending-submission table, and the set of open contests.
type Handlers struct {
	Users    *userstore.Store
	Subs     *submission.Queue
	Contests []string
	LogsDir  string
	Logger   interfaces.Logger
	Observer interfaces.Observer
	OnQueued func() // invoked after every submit request is handled, queued or rejected, to kick the judge driver
}

// Langs is the accepted submission language set.
var Langs = constants.SupportedLanguages

// LangOK reports whether lang is a supported submission language.
func LangOK(lang string) bool {
	for _, l := range Langs {
		if l == lang {
			return true
		}
	}
	return false
}

// EndMarker computes the submission body's end-of-transmission marker: by
// default "EOF\n", or the text following the 5th whitespace-delimited token
// of the request line when present (a caller-supplied custom marker).
func EndMarker(req string) string {
	fields := strings.Fields(req)
	if len(fields) > 5 {
		// Reconstruct from the 6th token onward, preserving original
		// spacing is not possible after Fields; original marker is
		// taken from the raw suffix instead.
		idx := nthFieldEnd(req, 5)
		if idx >= 0 && idx < len(req) {
			return req[idx:]
		}
	}
	return constants.DefaultEOF
}

// nthFieldEnd returns the byte offset in req just past the nth
// whitespace-delimited token (0-indexed count of tokens already consumed),
// or -1 if req doesn't have that many tokens.
func nthFieldEnd(req string, n int) int {
	i := 0
	count := 0
	for count < n && i < len(req) {
		for i < len(req) && !isSpace(req[i]) {
			i++
		}
		for i < len(req) && isSpace(req[i]) {
			i++
		}
		count++
	}
	if count < n {
		return -1
	}
	return i
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}

// Step advances the FSM by one poll tick against c. It returns true if the
// connection should be hung up.
func (f *FSM) Step(c *conn.Conn, h *Handlers) bool {
	switch f.Phase {
	case AwaitLine:
		end, ok := c.LineEnd(constants.MaxLineLen)
		if !ok {
			return false
		}
		line := string(c.PeekIn()[:end])
		c.Consume(end)
		if h.Logger != nil {
			h.Logger.Debugf("request: %s", strings.TrimRight(line, "\n"))
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			return true
		}
		switch fields[0] {
		case "register":
			h.Register(c, line)
			f.Phase = Done
		case "report":
			h.Report(c, line)
			f.Phase = Done
		case "submit":
			f.ReqLine = line
			f.Phase = AwaitBody
		default:
			return true
		}
		return f.Phase == Done && c.OutLen() == 0

	case AwaitBody:
		marker := EndMarker(f.ReqLine)
		if c.IsHung() || c.EndsWith([]byte(marker)) {
			h.Submit(c, f.ReqLine, marker)
			f.Phase = Done
			if h.OnQueued != nil {
				h.OnQueued()
			}
		}
		if c.Len() > constants.MaxSubmissionSize {
			return true
		}
		return false

	case Done:
		return c.OutLen() == 0
	}
	return true
}

// Register handles a `register <user> <pass>` request.
func (h *Handlers) Register(c *conn.Conn, req string) {
	fields := strings.Fields(req)
	if len(fields) != 3 {
		fmt.Fprintf(asWriter{c}, "register: insufficient arguments!\n")
		return
	}
	user, pass := fields[1], fields[2]
	if ok, msg := userstore.ValidUsername(user, constants.MinUsernameLen, constants.MaxUsernameLen); !ok {
		fmt.Fprintf(asWriter{c}, "register: %s\n", msg)
		return
	}
	if h.Users.Login(user, nil) {
		fmt.Fprintf(asWriter{c}, "register: user exists!\n")
		return
	}
	if err := h.Users.Add(user, pass); err != nil {
		fmt.Fprintf(asWriter{c}, "register: cannot write!\n")
		return
	}
	fmt.Fprintf(asWriter{c}, "register: user %s added.\n", user)
}

// Report handles a `report <contest>` request: the accumulated .stat file
// followed by a "Waiting" line per still-pending submission.
func (h *Handlers) Report(c *conn.Conn, req string) {
	fields := strings.Fields(req)
	if len(fields) != 2 {
		fmt.Fprintf(asWriter{c}, "report: insufficient arguments!\n")
		return
	}
	cont := fields[1]
	statPath := cont + ".stat"
	if data, err := os.ReadFile(statPath); err == nil {
		c.Send(data)
	}
	for _, s := range h.Subs.Pending(cont) {
		fmt.Fprintf(asWriter{c}, "%s\t%d\t-\t-\t# Waiting\n", s.User, s.Date.Unix())
	}
}

// Submit handles a `submit <user> <pass> <cont> <lang>` request, whose body
// (everything buffered so far, minus the trailing marker) is the source
// program.
func (h *Handlers) Submit(c *conn.Conn, req, marker string) {
	fields := strings.Fields(req)
	if len(fields) < 5 {
		fmt.Fprintf(asWriter{c}, "submit: insufficient arguments!\n")
		c.ConsumeAll()
		return
	}
	user, pass, cont, lang := fields[1], fields[2], fields[3], fields[4]

	body := c.ConsumeAll()
	body = strings.TrimSuffix(string(body), marker)

	if !contains(h.Contests, cont) {
		fmt.Fprintf(asWriter{c}, "submit: contest is not open!\n")
		return
	}
	if !LangOK(lang) {
		fmt.Fprintf(asWriter{c}, "submit: unknown language!\n")
		return
	}
	if !h.Users.Login(user, &pass) {
		fmt.Fprintf(asWriter{c}, "submit: failed to log in!\n")
		return
	}
	if h.Subs.Find(user, cont) >= 0 {
		fmt.Fprintf(asWriter{c}, "submit: pending submission, wait!\n")
		return
	}
	if err := os.MkdirAll(h.LogsDir, 0700); err != nil {
		fmt.Fprintf(asWriter{c}, "submit: cannot write!\n")
		return
	}
	path := filepath.Join(h.LogsDir, fmt.Sprintf("%s-%s.%s", cont, user, lang))
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		fmt.Fprintf(asWriter{c}, "submit: cannot write!\n")
		return
	}
	if h.Subs.Add(user, cont, lang, path, time.Now()) {
		fmt.Fprintf(asWriter{c}, "submit: submission queued.\n")
		if h.Observer != nil {
			h.Observer.ObserveSubmit(lang)
			h.Observer.ObserveQueueDepth(h.Subs.Count())
		}
	} else {
		fmt.Fprintf(asWriter{c}, "submit: too many submissions, retry later!\n")
	}
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// asWriter adapts *conn.Conn's non-blocking Send to io.Writer for fmt.Fprintf.
type asWriter struct{ c *conn.Conn }

func (w asWriter) Write(p []byte) (int, error) {
	w.c.Send(p)
	return len(p), nil
}
