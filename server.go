// Package chth implements the Challenging Thursdays contest judge: a
// single-threaded TCP server that accepts register/report/submit requests
// and hands submissions to a sandboxed judge subprocess one at a time.
package chth

import (
	"fmt"

	"github.com/aligrudi/chth/internal/constants"
	"github.com/aligrudi/chth/internal/interfaces"
	"github.com/aligrudi/chth/internal/judge"
	"github.com/aligrudi/chth/internal/pollloop"
	"github.com/aligrudi/chth/internal/protocol"
	"github.com/aligrudi/chth/internal/submission"
	"github.com/aligrudi/chth/internal/userstore"
)

// Options configures a Server.
type Options struct {
	Addr     string
	Port     string
	Contests []string

	UsersFile string
	LogsDir   string

	SandboxUID int
	SandboxGID int

	Logger   interfaces.Logger
	Observer interfaces.Observer
}

// DefaultOptions returns Options with the judge service's standard
// defaults, for the given set of open contests.
func DefaultOptions(contests []string) Options {
	return Options{
		Port:       constants.DefaultPort,
		Contests:   contests,
		UsersFile:  constants.UsersFile,
		LogsDir:    constants.LogsDir,
		SandboxUID: constants.SandboxUID,
		SandboxGID: constants.SandboxGID,
	}
}

// Server wires together the poll loop, the protocol handlers, and the
// judge driver.
type Server struct {
	opts     Options
	loop     *pollloop.Loop
	driver   *judge.Driver
	handlers *protocol.Handlers
}

// NewServer binds the listening socket and wires every collaborator
// together, but does not yet accept connections — call Serve for that.
func NewServer(opts Options) (*Server, error) {
	listenFd, err := pollloop.Listen(opts.Addr, opts.Port)
	if err != nil {
		return nil, NewError("NewServer", ErrCodeFatal, fmt.Sprintf("listen on %s:%s: %v", opts.Addr, opts.Port, err))
	}

	subs := submission.NewQueue()
	users := userstore.New(opts.UsersFile)

	driver, err := judge.New(subs, opts.Observer, opts.Logger)
	if err != nil {
		return nil, WrapError("NewServer", err)
	}
	driver.InstallSignalHandler()

	handlers := &protocol.Handlers{
		Users:    users,
		Subs:     subs,
		Contests: opts.Contests,
		LogsDir:  opts.LogsDir,
		Logger:   opts.Logger,
		Observer: opts.Observer,
	}
	handlers.OnQueued = func() { driver.Kick(opts.LogsDir) }

	loop := pollloop.New(listenFd, driver.SelfPipeReadFd(), handlers, opts.Observer, opts.Logger)

	return &Server{opts: opts, loop: loop, driver: driver, handlers: handlers}, nil
}

// Addr returns the server's bound listening address (host:port), useful
// when Options.Port was "0" and the OS chose an ephemeral port.
func (s *Server) Addr() (string, error) {
	return s.loop.Addr()
}

// Serve drives the poll loop until the listening socket fails, reaping
// finished judge runs and starting the next pending submission between
// ticks.
func (s *Server) Serve() error {
	for {
		if s.loop.Tick() {
			return nil
		}
		s.driver.Drain(s.opts.LogsDir)
		s.driver.Kick(s.opts.LogsDir)
	}
}
