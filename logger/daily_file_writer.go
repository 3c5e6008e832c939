package logger

import (
	"context"
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

// DailyFileWriter is an io.Writer appending to {service}_{date}.log in a
// directory and switching files when the date changes, either on the first
// write of a new day or from an hourly background check. Safe for concurrent
// use.
type DailyFileWriter struct {
	service string
	dir     string
	now     func() time.Time

	mu       sync.Mutex
	file     *os.File
	currDate string

	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewDailyFileWriter opens today's file in logDir, which must already exist,
// and starts the hourly rotation check.
//
// Parameters:
//   - service: Service name used in file names
//   - logDir: Directory for log files
//
// Returns:
//   - The writer, or an error if the first file cannot be opened
func NewDailyFileWriter(service string, logDir string) (*DailyFileWriter, error) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &DailyFileWriter{
		service: service,
		dir:     logDir,
		now:     time.Now,
		cancel:  cancel,
	}

	w.mu.Lock()
	err := w.openLocked(w.now().Format(dateLayout))
	w.mu.Unlock()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("initial rotation failed: %w", err)
	}

	w.wg.Add(1)
	go w.rotateHourly(ctx)
	return w, nil
}

// Write appends p to the current day's file, rotating first if the date has
// changed since the last write.
func (w *DailyFileWriter) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, errWriterClosed
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateLocked(); err != nil {
		return 0, fmt.Errorf("rotation failed: %w", err)
	}

	return w.file.Write(p)
}

// ForceRotate reopens the file for the current date, e.g. on SIGHUP after an
// external tool moved it away.
func (w *DailyFileWriter) ForceRotate() error {
	if w.closed.Load() {
		return errWriterClosed
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	return w.openLocked(w.now().Format(dateLayout))
}

// CurrentLogFile returns the path being written to, or "" once closed.
func (w *DailyFileWriter) CurrentLogFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ""
	}

	return w.path(w.currDate)
}

// Close stops the rotation goroutine and closes the file. Later writes fail.
// Safe to call multiple times.
func (w *DailyFileWriter) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}

	w.cancel()
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}

	err := w.file.Close()
	w.file = nil
	return err
}

func (w *DailyFileWriter) rotateHourly(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			_ = w.rotateLocked()
			w.mu.Unlock()
		}
	}
}

// rotateLocked opens a new file if the date moved on; caller must hold w.mu.
func (w *DailyFileWriter) rotateLocked() error {
	date := w.now().Format(dateLayout)
	if w.file != nil && date == w.currDate {
		return nil
	}

	return w.openLocked(date)
}

// openLocked replaces the current file with the one for date; caller must hold w.mu.
func (w *DailyFileWriter) openLocked(date string) error {
	if w.closed.Load() {
		return errWriterClosed
	}

	name := w.path(date)
	file, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", name, err)
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
