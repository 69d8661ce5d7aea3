package protocol

import (
	"path/filepath"
	"testing"

	"github.com/aligrudi/chth/internal/conn"
	"github.com/aligrudi/chth/internal/submission"
	"github.com/aligrudi/chth/internal/userstore"
)

func newHandlers(t *testing.T) *Handlers {
	t.Helper()
	dir := t.TempDir()
	return &Handlers{
		Users:    userstore.New(filepath.Join(dir, "USERS")),
		Subs:     submission.NewQueue(),
		Contests: []string{"contest1"},
		LogsDir:  filepath.Join(dir, "logs"),
	}
}

func TestLangOK(t *testing.T) {
	if !LangOK("c") || !LangOK("py3") {
		t.Fatalf("expected known languages to be accepted")
	}
	if LangOK("rust") {
		t.Fatalf("did not expect an unsupported language to be accepted")
	}
}

func TestEndMarkerDefault(t *testing.T) {
	if got := EndMarker("submit alice secret contest1 c"); got != "EOF\n" {
		t.Fatalf("EndMarker = %q, want %q", got, "EOF\n")
	}
}

func TestEndMarkerCustom(t *testing.T) {
	got := EndMarker("submit alice secret contest1 c ###DONE###\n")
	if got != "###DONE###\n" {
		t.Fatalf("EndMarker = %q, want %q", got, "###DONE###\n")
	}
}

func TestRegisterRejectsShortUsername(t *testing.T) {
	h := newHandlers(t)
	c := conn.New(-1)
	h.Register(c, "register ab pw")
	if h.Users.Login("ab", nil) {
		t.Fatalf("did not expect a too-short username to be registered")
	}
}

func TestRegisterThenLoginSucceeds(t *testing.T) {
	h := newHandlers(t)
	c := conn.New(-1)
	h.Register(c, "register alice secret")
	if !h.Users.Login("alice", nil) {
		t.Fatalf("expected alice to be registered")
	}
}

func TestRegisterDuplicateUser(t *testing.T) {
	h := newHandlers(t)
	c := conn.New(-1)
	h.Register(c, "register alice secret")
	c2 := conn.New(-1)
	h.Register(c2, "register alice secret")
	// second registration must not overwrite; Login with original pass still works
	pass := "secret"
	if !h.Users.Login("alice", &pass) {
		t.Fatalf("expected original password to remain valid")
	}
}

func TestSubmitUnknownContest(t *testing.T) {
	h := newHandlers(t)
	h.Users.Add("alice", "secret")
	c := conn.New(-1)
	h.Submit(c, "submit alice secret unknown-contest c", "EOF\n")
	if h.Subs.Find("alice", "unknown-contest") >= 0 {
		t.Fatalf("did not expect a submission to be queued for a closed contest")
	}
}

func TestSubmitQueuesOnSuccess(t *testing.T) {
	h := newHandlers(t)
	h.Users.Add("alice", "secret")
	c := conn.New(-1)
	c.Feed([]byte("print('hi')\nEOF\n"))
	h.Submit(c, "submit alice secret contest1 py3", "EOF\n")
	if h.Subs.Find("alice", "contest1") < 0 {
		t.Fatalf("expected a submission to be queued")
	}
}

func TestSubmitQueuesWithCustomEndMarker(t *testing.T) {
	h := newHandlers(t)
	h.Users.Add("alice", "secret")
	c := conn.New(-1)
	marker := EndMarker("submit alice secret contest1 sh END\n")
	h.Submit(c, "submit alice secret contest1 sh END\n", marker)
	if h.Subs.Find("alice", "contest1") < 0 {
		t.Fatalf("expected a submission with a custom end marker to be queued")
	}
}

func TestStepTransitionsToBodyWithCustomEndMarker(t *testing.T) {
	f := &FSM{Phase: AwaitLine}
	c := conn.New(-1)
	c.Feed([]byte("submit alice secret contest1 sh END\n"))
	h := newHandlers(t)
	h.Users.Add("alice", "secret")
	if hang := f.Step(c, h); hang {
		t.Fatalf("did not expect a hang on a submit line carrying a custom end marker")
	}
	if f.Phase != AwaitBody {
		t.Fatalf("expected AwaitBody, got %v", f.Phase)
	}

	c.Feed([]byte("cat\nEND\n"))
	if hang := f.Step(c, h); hang {
		t.Fatalf("did not expect a hang once the custom end marker arrives")
	}
	if f.Phase != Done {
		t.Fatalf("expected Done once the body and custom marker are received, got %v", f.Phase)
	}
	if h.Subs.Find("alice", "contest1") < 0 {
		t.Fatalf("expected the submission to be queued once the custom marker closed the body")
	}
}

func TestSubmitRejectsSecondPending(t *testing.T) {
	h := newHandlers(t)
	h.Users.Add("alice", "secret")
	c1 := conn.New(-1)
	h.Submit(c1, "submit alice secret contest1 py3", "EOF\n")
	c2 := conn.New(-1)
	h.Submit(c2, "submit alice secret contest1 py3", "EOF\n")
	if len(h.Subs.Pending("contest1")) != 1 {
		t.Fatalf("expected exactly one pending submission, got %d", len(h.Subs.Pending("contest1")))
	}
}

func TestStepTransitionsLineToBody(t *testing.T) {
	f := &FSM{Phase: AwaitLine}
	c := conn.New(-1)
	c.Feed([]byte("submit alice secret contest1 c\n"))
	h := newHandlers(t)
	h.Users.Add("alice", "secret")
	if hang := f.Step(c, h); hang {
		t.Fatalf("did not expect a hang on a well-formed submit line")
	}
	if f.Phase != AwaitBody {
		t.Fatalf("expected AwaitBody, got %v", f.Phase)
	}
}

func TestStepUnknownCommandHangs(t *testing.T) {
	f := &FSM{Phase: AwaitLine}
	c := conn.New(-1)
	c.Feed([]byte("bogus command\n"))
	h := newHandlers(t)
	if hang := f.Step(c, h); !hang {
		t.Fatalf("expected an unknown command to hang the connection")
	}
}
