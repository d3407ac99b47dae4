// package testing contains shared testing utilities and fakes for the remote collaborators
package testing

import (
	"errors"
	"io"
	"net/http"
	"os"
	"testing"
)

var (
	errWriteFailed = errors.New("write failed")
	errWriteBudget = errors.New("write budget exhausted")
	errBodyRead    = errors.New("body read failed")
)

// FWriter is an io.Writer whose every Write fails, for exercising output error paths.
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errWriteFailed
}

// LimitedWriter forwards to target until maxWrites calls have been made, then fails.
// Runner output tests use it to break a header or a later line.
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errWriteBudget
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper returns a fixed response or error from every round trip,
// standing in for a PDS or PLC directory that misbehaves at the transport level.
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser is a response body that cannot be read.
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errBodyRead
}

func (f *FCloser) Close() error {
	return nil
}

// MustGetwd returns the working directory or fails the test.
func MustGetwd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	return wd
}

func MustChdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir %s: %v", dir, err)
	}
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("expected report at %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(content)
}
