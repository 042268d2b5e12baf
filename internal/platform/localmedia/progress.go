package localmedia

import (
	"strconv"
	"strings"
	"time"
)

// ProgressUpdate is one block of ffmpeg -progress output.
type ProgressUpdate struct {
	OutTime time.Duration
	Done    bool
}

// ProgressParser consumes ffmpeg -progress key=value lines. A block ends
// with a progress=continue|end line; Feed reports an update at that point.
type ProgressParser struct {
	outTime time.Duration
	seen    bool
}

func (p *ProgressParser) Feed(line string) (ProgressUpdate, bool) {
	key, val, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return ProgressUpdate{}, false
	}
	val = strings.TrimSpace(val)
	switch key {
	case "out_time_us", "out_time_ms":
		// Both keys carry microseconds.
		if us, err := strconv.ParseInt(val, 10, 64); err == nil && us >= 0 {
			p.outTime = time.Duration(us) * time.Microsecond
			p.seen = true
		}
	case "out_time":
		if d, ok := parseClock(val); ok && !p.seen {
			p.outTime = d
		}
	case "progress":
		upd := ProgressUpdate{OutTime: p.outTime, Done: val == "end"}
		p.seen = false
		return upd, true
	}
	return ProgressUpdate{}, false
}

// parseClock parses HH:MM:SS.micro.
func parseClock(s string) (time.Duration, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	sec, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil || h < 0 || m < 0 || sec < 0 {
		return 0, false
	}
	total := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
	return total + time.Duration(sec*float64(time.Second)), true
}

// Percent maps media time onto 0..99 of duration. 100 is reserved for the
// caller once the output has been published.
func Percent(outTime time.Duration, durationSeconds float64) int {
	if durationSeconds <= 0 || outTime <= 0 {
		return 0
	}
	pct := int(outTime.Seconds() / durationSeconds * 100)
	switch {
	case pct < 0:
		return 0
	case pct > 99:
		return 99
	default:
		return pct
	}
}
