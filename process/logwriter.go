package process

import (
	"io"
	"sync"

	"github.com/guseggert/omrbridge/channel"
	"go.uber.org/zap"
)

// maxLogLine caps a single logged output line.
const maxLogLine = 64 * 1024

type logWriter struct {
	mu    sync.Mutex
	lines channel.LineBuffer
}

// LogWriter returns a writer that logs every complete line written to it at info level,
// tagged with stream (for example "stderr").
func LogWriter(log *zap.SugaredLogger, stream string) io.Writer {
	w := &logWriter{}
	w.lines = channel.LineBuffer{
		MaxLine: maxLogLine,
		Emit: func(line []byte) {
			if len(line) == 0 {
				return
			}
			log.Infow(string(line), "Stream", stream)
		},
		Overflow: func(dropped int) {
			log.Warnw("dropped oversized output line", "Stream", stream, "Bytes", dropped)
		},
	}
	return w
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines.Write(p)
}
