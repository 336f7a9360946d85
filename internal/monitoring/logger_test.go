package monitoring

import (
	"fmt"
	"testing"
)

func captureLogs(t *testing.T) *[]string {
	t.Helper()
	original := Logf
	t.Cleanup(func() { Logf = original })
	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	return &lines
}

func TestSetLoggerNilMutes(t *testing.T) {
	lines := captureLogs(t)
	Logf("kept")
	SetLogger(nil)
	Logf("dropped")

	if len(*lines) != 1 || (*lines)[0] != "kept" {
		t.Errorf("captured %q, want [kept]", *lines)
	}
}

func TestWriter(t *testing.T) {
	lines := captureLogs(t)
	w := Writer("[scanner] ")

	n, err := fmt.Fprintln(w, "rejected line \"{\": malformed sighting")
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != len("rejected line \"{\": malformed sighting\n") {
		t.Errorf("n = %d, want full length", n)
	}
	want := "[scanner] rejected line \"{\": malformed sighting"
	if len(*lines) != 1 || (*lines)[0] != want {
		t.Errorf("captured %q, want [%q]", *lines, want)
	}
}
