// Package testutil holds shared test helpers built around a go-vcr
// recorder for replaying recorded API traffic.
package testutil

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/dnaeon/go-vcr.v2/cassette"
	"gopkg.in/dnaeon/go-vcr.v2/recorder"
)

// Recorder opens the named cassette under testdata/fixtures. It replays
// by default; set VCR_MODE=record to capture fresh traffic. Stop is
// registered with t.Cleanup.
func Recorder(t *testing.T, cassetteName string) *recorder.Recorder {
	t.Helper()

	mode := recorder.ModeReplaying
	if os.Getenv("VCR_MODE") == "record" {
		mode = recorder.ModeRecording
	}

	r, err := recorder.NewAsMode(filepath.Join("testdata", "fixtures", cassetteName), mode, nil)
	if err != nil {
		t.Fatalf("open cassette %s: %v", cassetteName, err)
	}

	// Match on method and URL only; request bodies carry timestamps.
	r.SetMatcher(func(req *http.Request, i cassette.Request) bool {
		return req.Method == i.Method && req.URL.String() == i.URL
	})

	t.Cleanup(func() {
		if err := r.Stop(); err != nil {
			t.Errorf("stop recorder: %v", err)
		}
	})
	return r
}

// RecorderClient returns an HTTP client that routes through the recorder.
func RecorderClient(r *recorder.Recorder) *http.Client {
	return &http.Client{Transport: r}
}
