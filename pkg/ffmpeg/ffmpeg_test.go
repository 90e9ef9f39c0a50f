package ffmpeg

import (
	"slices"
	"testing"
)

func TestProgressParser_AccumulatesUntilProgressKey(t *testing.T) {
	p := NewProgressParser()

	lines := []string{
		"frame=120",
		"fps=29.97",
		"total_size=1048576",
		"out_time_us=4000000",
		"speed=2.5x",
	}
	for _, line := range lines {
		if p.ParseLine(line) {
			t.Fatalf("line %q should not complete an update", line)
		}
	}

	if !p.ParseLine("progress=continue") {
		t.Fatalf("progress line should complete an update")
	}

	got := p.Current()
	if got.Frame != 120 {
		t.Fatalf("expected frame=120, got %d", got.Frame)
	}
	if got.OutTimeUS != 4000000 {
		t.Fatalf("expected out_time_us=4000000, got %d", got.OutTimeUS)
	}
	if got.Speed != "2.5x" {
		t.Fatalf("expected speed=2.5x, got %q", got.Speed)
	}
	if got.Progress != "continue" {
		t.Fatalf("expected progress=continue, got %q", got.Progress)
	}
}

func TestProgressParser_IgnoresGarbage(t *testing.T) {
	p := NewProgressParser()
	for _, line := range []string{"", "not a kv line", "   "} {
		if p.ParseLine(line) {
			t.Fatalf("line %q should not complete an update", line)
		}
	}
}

func TestProgress_Percent(t *testing.T) {
	p := Progress{OutTimeUS: 30_000_000}

	if got := p.Percent(60); got != 50 {
		t.Fatalf("expected 50, got %v", got)
	}
	if got := p.Percent(10); got != 100 {
		t.Fatalf("expected clamp to 100, got %v", got)
	}
	if got := p.Percent(0); got != 0 {
		t.Fatalf("expected 0 for unknown duration, got %v", got)
	}
}

func TestBuildArgs(t *testing.T) {
	r := NewRunner("", 4)
	args := r.BuildArgs(TranscodeParams{
		Input:       "/spool/in.mp4",
		Output:      "/spool/out.mp4",
		ScaleHeight: 720,
		CRF:         23,
		Preset:      "fast",
	})

	for _, want := range [][]string{
		{"-i", "/spool/in.mp4"},
		{"-c:v", "libx264"},
		{"-c:a", "aac"},
		{"-vf", "scale=-2:720"},
		{"-crf", "23"},
		{"-preset", "fast"},
		{"-threads", "4"},
		{"-progress", "pipe:1"},
	} {
		idx := slices.Index(args, want[0])
		if idx < 0 || idx+1 >= len(args) || args[idx+1] != want[1] {
			t.Fatalf("expected %v in args, got %v", want, args)
		}
	}

	if args[len(args)-1] != "/spool/out.mp4" {
		t.Fatalf("expected output as last arg, got %q", args[len(args)-1])
	}
}

func TestBuildArgs_OmitsOptionalFlags(t *testing.T) {
	r := NewRunner("", 0)
	args := r.BuildArgs(TranscodeParams{Input: "in.mp4", Output: "out.mp4"})

	for _, flag := range []string{"-vf", "-crf", "-preset", "-threads"} {
		if slices.Contains(args, flag) {
			t.Fatalf("did not expect %s in args %v", flag, args)
		}
	}
}
