package transcode

import (
	"bytes"
	"log/slog"
)

// logWriter forwards a process's output stream to the logger line by line.
type logWriter struct {
	logger *slog.Logger
	stream string
}

func newLogWriter(logger *slog.Logger, jobID, process, stream string) *logWriter {
	return &logWriter{
		logger: logger.With("job_id", jobID, "process", process),
		stream: stream,
	}
}

func (w *logWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		var line []byte
		if idx == -1 {
			line = p
			p = nil
		} else {
			line = p[:idx]
			p = p[idx+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		w.logger.Debug("process output", "stream", w.stream, "line", string(line))
	}
	return total, nil
}
