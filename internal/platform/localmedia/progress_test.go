package localmedia

import (
	"strings"
	"testing"
	"time"
)

func TestProgressParserBlocks(t *testing.T) {
	out := `frame=120
fps=60.0
out_time_us=5000000
out_time_ms=5000000
out_time=00:00:05.000000
progress=continue
frame=300
out_time_us=12500000
out_time_ms=12500000
out_time=00:00:12.500000
progress=end
`
	var p ProgressParser
	var got []ProgressUpdate
	for _, line := range strings.Split(out, "\n") {
		if upd, ok := p.Feed(line); ok {
			got = append(got, upd)
		}
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(got))
	}
	if got[0].OutTime != 5*time.Second || got[0].Done {
		t.Fatalf("first update: %+v", got[0])
	}
	if got[1].OutTime != 12500*time.Millisecond || !got[1].Done {
		t.Fatalf("second update: %+v", got[1])
	}
}

func TestProgressParserFallsBackToClock(t *testing.T) {
	var p ProgressParser
	p.Feed("out_time=00:01:30.500000")
	upd, ok := p.Feed("progress=continue")
	if !ok || upd.OutTime != 90*time.Second+500*time.Millisecond {
		t.Fatalf("clock fallback: ok=%v upd=%+v", ok, upd)
	}
	if _, ok := p.Feed("garbage"); ok {
		t.Fatalf("non key=value line produced an update")
	}
}

func TestPercent(t *testing.T) {
	cases := []struct {
		out  time.Duration
		dur  float64
		want int
	}{
		{0, 100, 0},
		{50 * time.Second, 100, 50},
		{100 * time.Second, 100, 99},
		{150 * time.Second, 100, 99},
		{10 * time.Second, 0, 0},
	}
	for _, tc := range cases {
		if got := Percent(tc.out, tc.dur); got != tc.want {
			t.Fatalf("Percent(%v, %v): want=%d got=%d", tc.out, tc.dur, tc.want, got)
		}
	}
}

func TestHLSArgs(t *testing.T) {
	args := strings.Join(HLSArgs("/in/src.mp4", "/out"), " ")
	for _, want := range []string{
		"-i /in/src.mp4",
		"-c:v libx264 -preset veryfast -crf 23 -c:a aac",
		"-hls_time 4 -hls_list_size 0 -hls_flags independent_segments",
		"-hls_segment_filename /out/segment_%03d.ts",
		"-progress pipe:1",
	} {
		if !strings.Contains(args, want) {
			t.Fatalf("args missing %q: %s", want, args)
		}
	}
	if !strings.HasSuffix(args, "/out/playlist.m3u8") {
		t.Fatalf("args must end with the playlist path: %s", args)
	}
}

func TestTailBufferKeepsLastBytes(t *testing.T) {
	b := &tailBuffer{max: 8}
	_, _ = b.Write([]byte("0123456789"))
	_, _ = b.Write([]byte("ab"))
	if got := b.String(); got != "456789ab" {
		t.Fatalf("tail: got %q", got)
	}
}
