// Command chth-server runs the judge TCP server. Its positional arguments
// are the names of the contests to accept submissions for, matching
// original_source/serv.c's argv[1:] contest list.
package main

import (
	"flag"
	"fmt"
	"os"

	chth "github.com/aligrudi/chth"
	"github.com/aligrudi/chth/internal/logging"
)

func main() {
	addr := flag.String("addr", "", "address to bind (default: all interfaces)")
	port := flag.String("port", "", "port to listen on (default: "+defaultPortHint+")")
	usersFile := flag.String("users", "", "path to the user credential file")
	logsDir := flag.String("logs", "", "directory for submission source and judge output")
	uid := flag.Int("uid", 0, "sandbox uid stored in the server options (0 keeps the built-in default); not passed to the judge child, which uses its own -uid default")
	gid := flag.Int("gid", 0, "sandbox gid stored in the server options (0 keeps the built-in default); not passed to the judge child, which uses its own -gid default")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	contests := flag.Args()
	if len(contests) == 0 {
		fmt.Fprintln(os.Stderr, "usage: chth-server [flags] contest [contest...]")
		os.Exit(1)
	}

	level := logging.LevelInfo
	if *verbose {
		level = logging.LevelDebug
	}
	logger := logging.NewLogger(&logging.Config{Level: level, Output: os.Stderr})
	logging.SetDefault(logger)

	opts := chth.DefaultOptions(contests)
	opts.Addr = *addr
	if *port != "" {
		opts.Port = *port
	}
	if *usersFile != "" {
		opts.UsersFile = *usersFile
	}
	if *logsDir != "" {
		opts.LogsDir = *logsDir
	}
	if *uid != 0 {
		opts.SandboxUID = *uid
	}
	if *gid != 0 {
		opts.SandboxGID = *gid
	}
	opts.Logger = logger
	opts.Observer = chth.NewMetrics()

	srv, err := chth.NewServer(opts)
	if err != nil {
		logger.Error("failed to start server", "err", err)
		os.Exit(1)
	}
	logger.Info("serving contests", "contests", fmt.Sprint(contests), "port", opts.Port)
	if err := srv.Serve(); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

const defaultPortHint = "40"
