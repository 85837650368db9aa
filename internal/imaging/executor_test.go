package imaging

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
)

func TestScanLinesOrCR(t *testing.T) {
	input := "first\nsecond\rthird\r\nfourth"
	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Split(scanLinesOrCR)
	var got []string
	for scanner.Scan() {
		got = append(got, scanner.Text())
	}
	want := []string{"first", "second", "third", "fourth"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected lines: got %q want %q", got, want)
	}
}

func TestCommandExecutorReportsExitCode(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	var lines []string
	err := commandExecutor{}.Run(context.Background(), "sh", []string{"-c", "echo one; echo two; echo oops >&2; exit 3"}, func(line string) {
		lines = append(lines, line)
	})
	if got := ExitCode(err); got != 3 {
		t.Fatalf("unexpected exit code: got %d want 3 (err=%v)", got, err)
	}
	if !strings.Contains(err.Error(), "oops") {
		t.Fatalf("expected stderr tail in error, got %v", err)
	}
	if strings.Join(lines, ",") != "one,two" {
		t.Fatalf("unexpected stdout lines: %q", lines)
	}
}

func TestExitCodeForNonExitError(t *testing.T) {
	if got := ExitCode(os.ErrNotExist); got != -1 {
		t.Fatalf("unexpected exit code: %d", got)
	}
}

func TestLineTailKeepsLastLines(t *testing.T) {
	tail := newLineTail(2)
	for _, line := range []string{"a", "", "b", "c"} {
		tail.add(line)
	}
	if got := tail.String(); got != "b; c" {
		t.Fatalf("unexpected tail: %q", got)
	}
}
