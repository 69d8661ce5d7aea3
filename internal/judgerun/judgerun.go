// Package judgerun implements the judge child's per-submission test loop:
// discover numbered test cases (each with a required input, and either an
// expected-output file or a verifier executable), compile or interpret the
// submission, run each case under the sandbox with a per-case verdict
// character, and emit one scoring line.
//
// The compile/interpret dispatch and scratch-directory layout are grounded
// on original_source/test.c's main / compilefile / getinterpreter /
// getcompiler. test.c's own scoring loop only ever produces a pass/fail
// comment word with no verifier path; the per-case verdict alphabet
// {T, R, E, P, F}, the verifier path, and the "<verdicts><.|!>" line format
// implemented here follow spec.md §4.8 directly, which is materially richer
// than what test.c does.
package judgerun

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aligrudi/chth/internal/constants"
	"github.com/aligrudi/chth/internal/sandbox"
)

// Interpreter returns the interpreter binary for an interpreted language,
// or "" if lang is compiled (or unknown).
func Interpreter(lang string) string {
	switch lang {
	case "sh":
		return "sh"
	case "py":
		return "python"
	case "py2":
		return "python2"
	case "py3":
		return "python3"
	}
	return ""
}

// Compiler returns the compiler binary for a compiled language, or "" if
// lang is interpreted, raw ELF, or unknown.
func Compiler(lang string) string {
	switch lang {
	case "c":
		return "cc"
	case "c++", "cpp":
		return "c++"
	}
	return ""
}

// compile builds src into out. Compiled languages invoke the language's
// compiler; everything else (interpreted languages, and "elf" submissions
// that are already executable) is copied through unchanged.
func compile(src, lang, out string, uid, gid int) error {
	cc := Compiler(lang)
	if cc == "" {
		return copyFile(src, out)
	}
	cmd := exec.Command(cc, "-O2", "-o", out, src)
	devnull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err == nil {
		cmd.Stdout = devnull
		cmd.Stderr = devnull
		defer devnull.Close()
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)},
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("judgerun: compile failed: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// Summary is the decoded content of one scoring line.
type Summary struct {
	Score    int
	Total    int
	Millis   int64
	Verdicts string // one verdict character per test case, in order
}

// String formats Summary as spec.md §4.8's scoring line:
// "<score>/<n_cases>\t<secs>.<hundredths>\t# <verdicts><.|!>\n", where the
// trailing "." marks every case as P and "!" marks any non-P case.
func (s Summary) String() string {
	secs := s.Millis / 1000
	cents := (s.Millis % 1000) / 10
	end := "!"
	if allPass(s.Verdicts) {
		end = "."
	}
	return fmt.Sprintf("%d/%d\t%d.%02d\t# %s%s\n", s.Score, s.Total, secs, cents, s.Verdicts, end)
}

func allPass(verdicts string) bool {
	for i := 0; i < len(verdicts); i++ {
		if verdicts[i] != 'P' {
			return false
		}
	}
	return true
}

// Judge runs contDir's numbered test cases against the submission at
// progPath (written in lang) and returns the resulting Summary.
func Judge(contDir, progPath, lang string, uid, gid int) (Summary, error) {
	if fi, err := os.Stat(contDir); err != nil || !fi.IsDir() {
		return Summary{}, fmt.Errorf("judgerun: nonexistent contest %q", contDir)
	}
	if fi, err := os.Stat(progPath); err != nil || !fi.Mode().IsRegular() {
		return Summary{}, fmt.Errorf("judgerun: nonexistent program %q", progPath)
	}

	tdir := filepath.Join(os.TempDir(), fmt.Sprintf("ct%06d", os.Getpid()))
	if err := os.Mkdir(tdir, 0700); err != nil {
		return Summary{}, err
	}
	defer os.RemoveAll(tdir)
	os.Chown(tdir, uid, gid)

	srcPath := filepath.Join(tdir, "p."+lang)
	if err := copyFile(progPath, srcPath); err != nil {
		return Summary{}, err
	}
	os.Chown(srcPath, uid, gid)

	exePath := filepath.Join(tdir, ".x")
	compileFailed := compile(srcPath, lang, exePath, uid, gid) != nil
	os.Remove(srcPath)
	os.Chmod(exePath, 0700)

	var argv []string
	if interp := Interpreter(lang); interp != "" {
		argv = []string{interp, exePath}
	} else {
		argv = []string{exePath}
	}

	inPath := filepath.Join(tdir, ".i")
	outPath := filepath.Join(tdir, ".o")
	verifierPath := filepath.Join(tdir, ".v")
	resultPath := filepath.Join(tdir, ".r")

	score, total := 0, 0
	var totalMillis int64
	var verdicts strings.Builder
	limits := sandbox.DefaultLimits()

	for i := 0; i < 100; i++ {
		idat := filepath.Join(contDir, fmt.Sprintf("%02d", i))
		odat := filepath.Join(contDir, fmt.Sprintf("%02do", i))
		vdat := filepath.Join(contDir, fmt.Sprintf("%02dv", i))

		if !isRegularFile(idat) {
			break
		}
		hasExpected := isRegularFile(odat)
		hasVerifier := isRegularFile(vdat)
		if !hasExpected && !hasVerifier {
			break
		}
		total = i + 1

		var verdict byte
		var elapsed time.Duration

		if compileFailed {
			verdict = 'E'
		} else {
			copyFile(idat, inPath)
			os.Chown(inPath, uid, gid)
			os.Chown(exePath, uid, gid)
			os.Chmod(inPath, 0600)

			beg := time.Now()
			sv, err := sandbox.Run(argv, tdir, inPath, outPath, os.DevNull, uid, gid, limits, constants.RunTimeout)
			elapsed = time.Since(beg)
			switch {
			case err != nil:
				verdict = sandbox.VerdictRuntime
			case sv != sandbox.VerdictNone:
				verdict = sv
			case hasExpected:
				if filesEqual(odat, outPath) {
					verdict = 'P'
					score++
				} else {
					verdict = 'F'
				}
			default:
				copyFile(vdat, verifierPath)
				os.Chmod(verifierPath, 0700)
				os.Chown(verifierPath, uid, gid)
				vv, verr := sandbox.Run([]string{verifierPath}, tdir, outPath, resultPath, os.DevNull, uid, gid, limits, constants.RunTimeout)
				if verr == nil && vv == sandbox.VerdictNone {
					verdict = 'P'
				} else {
					verdict = 'F'
				}
				if n, ok := leadingInt(resultPath); ok {
					score += n
				}
				os.Remove(verifierPath)
				os.Remove(resultPath)
			}
		}

		if verdict == 'P' {
			totalMillis += elapsed.Milliseconds()
		}
		verdicts.WriteByte(verdict)
		os.Remove(inPath)
		os.Remove(outPath)
	}
	os.Remove(exePath)

	return Summary{Score: score, Total: total, Millis: totalMillis, Verdicts: verdicts.String()}, nil
}

func isRegularFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// leadingInt reads path and parses a leading (optionally signed) decimal
// integer from its first line, per spec.md §4.8's verifier scoring rule:
// a verifier's score output only counts when it begins with an integer.
func leadingInt(path string) (int, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return 0, false
	}
	line := strings.TrimSpace(sc.Text())
	end := 0
	if end < len(line) && (line[end] == '+' || line[end] == '-') {
		end++
	}
	start := end
	for end < len(line) && line[end] >= '0' && line[end] <= '9' {
		end++
	}
	if end == start {
		return 0, false
	}
	n, err := strconv.Atoi(line[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// filesEqual reports whether two files contain the same sequence of lines,
// matching test.c's util_cmp: a line-by-line comparison that stops at the
// first mismatch or the first file to run out of lines.
func filesEqual(path1, path2 string) bool {
	f1, err := os.Open(path1)
	if err != nil {
		return false
	}
	defer f1.Close()
	f2, err := os.Open(path2)
	if err != nil {
		return false
	}
	defer f2.Close()

	s1 := bufio.NewScanner(f1)
	s2 := bufio.NewScanner(f2)
	for {
		more1 := s1.Scan()
		more2 := s2.Scan()
		if !more1 || !more2 {
			return !more1 && !more2
		}
		if s1.Text() != s2.Text() {
			return false
		}
	}
}
