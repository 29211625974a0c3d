package main

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

// captureOutput captures stdout while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w

	// Drain concurrently so large outputs cannot fill the pipe.
	done := make(chan []byte)
	go func() {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r)
		done <- buf.Bytes()
	}()

	fnErr := fn()

	w.Close()
	os.Stdout = origStdout
	out := <-done
	r.Close()

	return string(out), fnErr
}

// withFlags sets the global output and heap flags for one test.
func withFlags(t *testing.T, json, nano bool) {
	t.Helper()
	oldJSON, oldQuiet, oldVerbose, oldNoNano := jsonOut, quiet, verbose, noNano
	jsonOut, quiet, verbose, noNano = json, false, false, !nano
	t.Cleanup(func() {
		jsonOut, quiet, verbose, noNano = oldJSON, oldQuiet, oldVerbose, oldNoNano
	})
}

// decodeJSON unmarshals output into v
func decodeJSON(t *testing.T, output string, v interface{}) {
	t.Helper()
	if err := json.Unmarshal([]byte(output), v); err != nil {
		t.Fatalf("invalid JSON output: %v\nOutput: %s", err, output)
	}
}

// assertContains checks that output contains all expected strings
func assertContains(t *testing.T, output string, expected []string) {
	t.Helper()
	for _, want := range expected {
		if !strings.Contains(output, want) {
			t.Errorf("output missing expected string %q\nGot: %s", want, output)
		}
	}
}

func smallWorkload() workload {
	return workload{
		Workers: 2,
		Ops:     2000,
		MinSize: 1,
		MaxSize: 600,
		Keep:    64,
		Realloc: 0.2,
		Seed:    7,
	}
}
