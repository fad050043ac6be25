package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

const dateLayout = "2006-01-02"

var errWriterClosed = errors.New("writer is closed")

// DailyFileWriter is an io.Writer that appends to {service}_{date}.log in a
// directory and switches to a new file when the date changes. The date is
// checked on every write and by an hourly background check. Safe for
// concurrent use.
type DailyFileWriter struct {
	service string
	dir     string
	now     func() time.Time

	mu       sync.RWMutex
	file     *os.File
	currDate string

	closed atomic.Bool
	stop   chan struct{}
	done   chan struct{}
}

// NewDailyFileWriter opens today's log file in logDir. The directory must
// already exist.
//
// Parameters:
//   - service: Service name used in log file names
//   - logDir: Directory path for log files
//
// Returns:
//   - The new DailyFileWriter, or an error if the initial file could not be opened
func NewDailyFileWriter(service string, logDir string) (*DailyFileWriter, error) {
	w := &DailyFileWriter{
		service: service,
		dir:     logDir,
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if err := w.Rotate(); err != nil {
		return nil, fmt.Errorf("initial rotation failed: %w", err)
	}

	go w.watch()
	return w, nil
}

// Write implements io.Writer.
func (w *DailyFileWriter) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, errWriterClosed
	}

	w.mu.RLock()
	stale := w.currDate != w.now().Format(dateLayout)
	w.mu.RUnlock()

	if stale {
		if err := w.rotateIfStale(); err != nil {
			return 0, fmt.Errorf("rotation failed: %w", err)
		}
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.file == nil {
		return 0, errWriterClosed
	}

	return w.file.Write(p)
}

// Rotate closes the current file and reopens the file for today, e.g. after
// an external tool moved it away (SIGHUP).
func (w *DailyFileWriter) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.openLocked(w.now().Format(dateLayout))
}

// CurrentLogFile returns the path of the file being written, or "" when closed.
func (w *DailyFileWriter) CurrentLogFile() string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.file == nil {
		return ""
	}

	return w.path(w.currDate)
}

// Close stops the background check and closes the current file. It is safe
// to call multiple times.
func (w *DailyFileWriter) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(w.stop)
	<-w.done

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}

	err := w.file.Close()
	w.file = nil
	return err
}

func (w *DailyFileWriter) watch() {
	defer close(w.done)

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			_ = w.rotateIfStale()
		}
	}
}

func (w *DailyFileWriter) rotateIfStale() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	date := w.now().Format(dateLayout)
	if date == w.currDate && w.file != nil {
		return nil
	}

	return w.openLocked(date)
}

// openLocked switches to the file for date; caller must hold w.mu.
func (w *DailyFileWriter) openLocked(date string) error {
	if w.closed.Load() {
		return errWriterClosed
	}

	file, err := os.OpenFile(w.path(date), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	if w.file != nil {
		_ = w.file.Close()
	}

	w.file = file
	w.currDate = date
	return nil
}

func (w *DailyFileWriter) path(date string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s_%s.log", w.service, date))
}

// Rotate reopens the log file of a Logger created by NewZerologFileLogger.
// It is a no-op for loggers without a file.
func Rotate(l Logger) error {
	z, ok := l.(*zerologLogger)
	if !ok || z.fileWriter == nil {
		return nil
	}

	return z.fileWriter.Rotate()
}
