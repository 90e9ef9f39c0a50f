package ytdlp

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
)

func TestGetInfo_ParsesJSON(t *testing.T) {
	c := New("")
	c.execFn = func(ctx context.Context, name string, lineFn func(stream, line string), args ...string) ([]byte, []byte, error) {
		return []byte(`{"id":"abc","title":"hello","webpage_url":"https://example.com","duration":12}`), nil, nil
	}

	info, err := c.GetInfo(context.Background(), "https://example.com/watch?v=abc")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if info.ID != "abc" {
		t.Fatalf("expected id=abc, got %q", info.ID)
	}
	if info.Duration != 12 {
		t.Fatalf("expected duration=12, got %v", info.Duration)
	}
	if len(info.Raw) == 0 {
		t.Fatalf("expected Raw to be set")
	}
}

func TestGetInfo_WrapsExecError(t *testing.T) {
	c := New("")
	c.execFn = func(ctx context.Context, name string, lineFn func(stream, line string), args ...string) ([]byte, []byte, error) {
		return []byte("out"), []byte("err"), errors.New("boom")
	}

	_, err := c.GetInfo(context.Background(), "https://example.com")
	if err == nil {
		t.Fatalf("expected error")
	}
	var ee *ExecError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExecError, got %T", err)
	}
	if ee.Stderr != "err" {
		t.Fatalf("expected stderr=err, got %q", ee.Stderr)
	}
}

func TestDownload_PassesURLAndTemplate(t *testing.T) {
	c := New("")
	var gotArgs []string
	c.execFn = func(ctx context.Context, name string, lineFn func(stream, line string), args ...string) ([]byte, []byte, error) {
		gotArgs = args
		return nil, nil, nil
	}

	err := c.Download(context.Background(), "https://example.com/v/1", "/spool", nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if gotArgs[len(gotArgs)-1] != "https://example.com/v/1" {
		t.Fatalf("expected url as last arg, got %q", gotArgs[len(gotArgs)-1])
	}
	if !slices.Contains(gotArgs, "/spool/%(extractor)s_%(id)s.%(ext)s") {
		t.Fatalf("expected output template in args, got %v", gotArgs)
	}
}

func TestDownload_ConcurrentProgressStaysPerCall(t *testing.T) {
	c := New("")

	outputs := map[string][]string{
		"https://example.com/v/a": {"[download]  10.0% of 1MiB", "[download]  20.0% of 1MiB"},
		"https://example.com/v/b": {"[download]  70.0% of 9MiB", "[download]  80.0% of 9MiB"},
	}
	var barrier sync.WaitGroup
	barrier.Add(len(outputs))
	c.execFn = func(ctx context.Context, name string, lineFn func(stream, line string), args ...string) ([]byte, []byte, error) {
		// Hold both invocations open so they overlap before lines flow.
		barrier.Done()
		barrier.Wait()
		for _, line := range outputs[args[len(args)-1]] {
			lineFn("stdout", line)
		}
		return nil, nil, nil
	}

	var wg sync.WaitGroup
	got := make([][]float64, 2)
	for i, url := range []string{"https://example.com/v/a", "https://example.com/v/b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var percents []float64
			if err := c.Download(context.Background(), url, "/spool", func(p float64) {
				percents = append(percents, p)
			}); err != nil {
				t.Errorf("download %s: unexpected error: %v", url, err)
			}
			got[i] = percents
		}()
	}
	wg.Wait()

	if !slices.Equal(got[0], []float64{10, 20}) {
		t.Fatalf("first download saw foreign progress: %v", got[0])
	}
	if !slices.Equal(got[1], []float64{70, 80}) {
		t.Fatalf("second download saw foreign progress: %v", got[1])
	}
}

func TestParseProgressLine(t *testing.T) {
	cases := []struct {
		line    string
		percent float64
		ok      bool
	}{
		{"[download]  42.3% of 12.34MiB at 1.23MiB/s ETA 00:07", 42.3, true},
		{"[download] 100% of 12.34MiB in 00:10", 100, true},
		{"[download] Destination: /spool/yt_abc.mp4", 0, false},
		{"[info] Writing video metadata as JSON", 0, false},
		{"", 0, false},
	}

	for _, tc := range cases {
		percent, ok := ParseProgressLine(tc.line)
		if ok != tc.ok {
			t.Fatalf("line %q: expected ok=%v, got %v", tc.line, tc.ok, ok)
		}
		if ok && percent != tc.percent {
			t.Fatalf("line %q: expected %v, got %v", tc.line, tc.percent, percent)
		}
	}
}

func TestStreamWriter_SplitsOnCarriageReturns(t *testing.T) {
	var lines []string
	w := &streamWriter{stream: "stdout", callback: func(stream, line string) {
		lines = append(lines, line)
	}}

	if _, err := w.Write([]byte("[download]  10.0%\r[download]  20.0%\r\n[download]  30.0%\npartial")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"[download]  10.0%", "[download]  20.0%", "[download]  30.0%"}
	if !slices.Equal(lines, want) {
		t.Fatalf("expected %v, got %v", want, lines)
	}
}
