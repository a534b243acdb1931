package sidecar

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/cubic-control/cubicd/internal/proc"
)

const probeTick = 500 * time.Millisecond

// probeStartup tails the log file from offset for up to timeout, running
// every new line through the failure classifier. An early process exit
// cuts the window short and is recorded in the diagnostic.
func (m *Manager) probeStartup(h *proc.Handle, logPath string, offset int64, timeout time.Duration) StartDiag {
	diag := StartDiag{At: time.Now(), ExitCode: -1}
	deadline := time.Now().Add(timeout)
	var pending string
	var tail []string

	flush := func(chunk string) {
		pending += chunk
		for {
			i := strings.IndexByte(pending, '\n')
			if i < 0 {
				return
			}
			line := strings.TrimRight(pending[:i], "\r")
			pending = pending[i+1:]
			if line == "" {
				continue
			}
			tail = append(tail, line)
			if len(tail) > 20 {
				tail = tail[1:]
			}
			if m.classify(line) {
				diag.HadFailure = true
				diag.FailureLines = append(diag.FailureLines, line)
			}
		}
	}

	for {
		chunk, n := readFrom(logPath, offset)
		offset += n
		flush(chunk)

		if !h.Alive() {
			// Drain whatever the dying process still flushed.
			chunk, _ = readFrom(logPath, offset)
			flush(chunk)
			diag.ExitCode = h.ExitCode()
			if diag.ExitCode != 0 {
				diag.HadFailure = true
			}
			break
		}
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(probeTick)
	}

	diag.LogTail = tail
	return diag
}

// readFrom returns the file content past offset and how many bytes it read.
func readFrom(path string, offset int64) (string, int64) {
	f, err := os.Open(path) // #nosec G304 -- path is our own log file
	if err != nil {
		return "", 0
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", 0
	}
	data, err := io.ReadAll(f)
	if err != nil && len(data) == 0 {
		return "", 0
	}
	return string(data), int64(len(data))
}
