package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/smazurov/browsercast/internal/ffmpeg"
	"github.com/smazurov/browsercast/internal/logging"
	"github.com/smazurov/browsercast/internal/process"
)

const requiredEncoder = "libx264"

// CreateCheckEncoderCmd creates the check-encoder command.
func CreateCheckEncoderCmd() *cobra.Command {
	var ffmpegPath string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "check-encoder",
		Short: "Check that ffmpeg can encode browser frames",
		Long:  `Lists the encoders compiled into ffmpeg and runs a one second test encode through the rawvideo path used for live frames.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			level := "info"
			if quiet {
				level = "warn"
			}
			logging.Initialize(logging.Config{Level: level, Format: "text"})
			logger := logging.GetLogger("check")

			prefix, err := process.SplitCommand(ffmpegPath)
			if err != nil {
				return err
			}

			out, code := runCollect("encoders", append(prefix, ffmpeg.EncodersListArgs()...))
			if code != 0 {
				return fmt.Errorf("%s exited with code %d", ffmpegPath, code)
			}
			if !hasEncoder(out, requiredEncoder) {
				return fmt.Errorf("ffmpeg lacks the %s encoder", requiredEncoder)
			}
			logger.Info("Encoder available", "encoder", requiredEncoder)

			dir, err := os.MkdirTemp("", "browsercast-check")
			if err != nil {
				return err
			}
			defer os.RemoveAll(dir)
			testFile := filepath.Join(dir, "test.mp4")

			if _, code := runCollect("test-encode", append(prefix, ffmpeg.TestEncodeArgs(requiredEncoder, testFile)...)); code != 0 {
				return fmt.Errorf("test encode failed with code %d", code)
			}
			info, err := os.Stat(testFile)
			if err != nil || info.Size() == 0 {
				return fmt.Errorf("test encode produced no output")
			}
			logger.Info("Test encode succeeded", "bytes", info.Size())
			return nil
		},
	}

	cmd.Flags().StringVar(&ffmpegPath, "ffmpeg", "ffmpeg", "ffmpeg command")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only report failures")
	return cmd
}

// runCollect runs args to completion and returns its stdout lines.
func runCollect(name string, args []string) ([]string, int) {
	collector := &lineCollector{}
	p := process.New(name, args, logging.GetLogger("ffmpeg"))
	p.SetLogParser(logging.GetLogger("ffmpeg"), ffmpeg.ParseLogLevel)
	p.SetOutputHandler(collector)
	if err := p.Start(); err != nil {
		return nil, 127
	}
	<-p.Done()
	return collector.lines(), p.ExitCode()
}

type lineCollector struct {
	mu     sync.Mutex
	stdout []string
}

func (c *lineCollector) HandleLine(source, line string) {
	if source != "stdout" {
		return
	}
	c.mu.Lock()
	c.stdout = append(c.stdout, line)
	c.mu.Unlock()
}

func (c *lineCollector) lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stdout
}

// hasEncoder scans `ffmpeg -encoders` output, whose rows look like
// " V....D libx264   libx264 H.264 / AVC".
func hasEncoder(lines []string, name string) bool {
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) >= 2 && len(fields[0]) == 6 && fields[1] == name {
			return true
		}
	}
	return false
}
