package localmedia

import (
	"math"
	"testing"
)

func TestParseProbeDuration(t *testing.T) {
	res, err := ParseProbe([]byte(`{"streams":[{"index":0,"codec_type":"video","duration":"99.5"}],"format":{"duration":"100.04","size":"2048"}}`))
	if err != nil {
		t.Fatalf("ParseProbe: %v", err)
	}
	if res.DurationSeconds() != 100.04 {
		t.Fatalf("duration: got %v", res.DurationSeconds())
	}

	streamOnly := ProbeResult{Streams: []ProbeStream{
		{CodecType: "audio", Duration: "120"},
		{CodecType: "video", Duration: "61.2"},
	}}
	if streamOnly.DurationSeconds() != 61.2 {
		t.Fatalf("stream fallback: got %v", streamOnly.DurationSeconds())
	}

	bad := ProbeResult{Format: ProbeFormat{Duration: "n/a"}}
	if !math.IsNaN(bad.DurationSeconds()) {
		t.Fatalf("malformed duration: want NaN got %v", bad.DurationSeconds())
	}
	if _, err := ParseProbe([]byte("not json")); err == nil {
		t.Fatalf("ParseProbe: expected error")
	}
}
