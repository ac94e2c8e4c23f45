package ffmpeg

import (
	"strconv"
	"strings"
	"sync"
)

// Progress is one block emitted by -progress.
type Progress struct {
	Frame   int64
	FPS     float64
	Speed   float64
	Dropped int64
	Dup     int64
	Ended   bool
}

// ProgressParser accumulates -progress key=value lines and reports each
// completed block. It satisfies process.OutputHandler; lines from sources
// other than stdout are ignored.
type ProgressParser struct {
	mu       sync.Mutex
	fields   map[string]string
	onUpdate func(Progress)
}

// NewProgressParser creates a parser that calls onUpdate per block.
func NewProgressParser(onUpdate func(Progress)) *ProgressParser {
	return &ProgressParser{
		fields:   make(map[string]string),
		onUpdate: onUpdate,
	}
}

// HandleLine consumes one output line.
func (p *ProgressParser) HandleLine(source, line string) {
	if source != "stdout" {
		return
	}
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)

	p.mu.Lock()
	if key != "progress" {
		p.fields[key] = value
		p.mu.Unlock()
		return
	}
	fields := p.fields
	p.fields = make(map[string]string)
	p.mu.Unlock()

	prog := Progress{Ended: value == "end"}
	prog.Frame, _ = strconv.ParseInt(fields["frame"], 10, 64)
	prog.FPS, _ = strconv.ParseFloat(fields["fps"], 64)
	prog.Dropped, _ = strconv.ParseInt(fields["drop_frames"], 10, 64)
	prog.Dup, _ = strconv.ParseInt(fields["dup_frames"], 10, 64)
	if speed := strings.TrimSuffix(fields["speed"], "x"); speed != "" {
		prog.Speed, _ = strconv.ParseFloat(strings.TrimSpace(speed), 64)
	}

	if p.onUpdate != nil {
		p.onUpdate(prog)
	}
}
