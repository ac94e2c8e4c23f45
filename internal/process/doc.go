// Package process provides lifecycle management for a subprocess that
// consumes data on stdin, such as an encoder fed raw frames.
//
// Process wraps os/exec:
//   - Stdin is a pipe with write deadlines, so a stalled reader surfaces as an error
//   - Stop closes stdin first, letting the subprocess flush and finalize output
//   - The process group is killed with SIGKILL if the graceful timeout expires
//   - Output is streamed line by line with pluggable log-level parsing
//   - A short stderr tail is kept for failure reports
//
// Example:
//
//	p := process.New("encoder", []string{"ffmpeg", "-f", "rawvideo", "-i", "-", "out.mp4"}, logger)
//	p.SetLogParser(logging.GetLogger("ffmpeg"), ffmpeg.ParseLogLevel)
//	if err := p.Start(); err != nil {
//	    return err
//	}
//	defer p.Stop()
//	if err := p.Write(frame, 500*time.Millisecond); err != nil {
//	    // reader gone or stalled
//	}
package process
