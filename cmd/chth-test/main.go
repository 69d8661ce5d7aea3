// Command chth-test is the judge child: given a contest directory, a
// submitted program, and its language, it runs every numbered test case
// under the sandbox and prints one scoring line to stdout.
//
// Grounded on original_source/test.c's main().
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/aligrudi/chth/internal/constants"
	"github.com/aligrudi/chth/internal/judgerun"
)

func main() {
	uid := flag.Int("uid", constants.SandboxUID, "unprivileged uid the submission runs under")
	gid := flag.Int("gid", constants.SandboxGID, "unprivileged gid the submission runs under")
	flag.Parse()

	args := flag.Args()
	if len(args) != 3 {
		fmt.Fprintf(os.Stderr, "usage: %s [-uid N] [-gid N] contest program lang\n", os.Args[0])
		os.Exit(1)
	}
	cont, prog, lang := args[0], args[1], args[2]

	summary, err := judgerun.Judge(cont, prog, lang, *uid, *gid)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Print(summary.String())
}
