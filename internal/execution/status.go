package execution

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"shardrun/internal/domain"
)

// exitMarker is printed on stderr by the wrapper script once the command finished
const exitMarker = "SHARDRUN_EXIT_CODE="

var exitMarkerLine = regexp.MustCompile(`(?m)^` + exitMarker + `(-?\d+)\s*$`)

// WrapCommand runs command under bash with stderr folded into stdout, then reports the
// exit code on stderr. Only the wrapper writes to stderr.
func WrapCommand(command string) []string {
	script := "(" + command + ") 2>&1 ; rc=$? ; echo \"" + exitMarker + "${rc}\" 1>&2 ; exit ${rc}"
	return []string{"bash", "-c", script}
}

// statusWriter captures the stderr channel of the wrapped command
type statusWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *statusWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

// Status returns the reported exit status, if the wrapper got as far as printing it
func (w *statusWriter) Status() domain.ExitStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ParseExitStatus(w.buf.String())
}

// Stray returns stderr content other than the status line
func (w *statusWriter) Stray() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.TrimSpace(exitMarkerLine.ReplaceAllString(w.buf.String(), ""))
}

// ParseExitStatus finds the last exit marker in stderr output
func ParseExitStatus(stderr string) domain.ExitStatus {
	matches := exitMarkerLine.FindAllStringSubmatch(stderr, -1)
	if len(matches) == 0 {
		return domain.ExitStatus{}
	}
	code, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil {
		return domain.ExitStatus{}
	}
	return domain.ExitStatus{Code: code, Known: true}
}

// ResolveExitStatus prefers the status the command printed, then the status reported by
// the API server. Without either the outcome stays unknown.
func ResolveExitStatus(reported, server domain.ExitStatus) domain.ExitStatus {
	if reported.Known {
		return reported
	}
	return server
}
