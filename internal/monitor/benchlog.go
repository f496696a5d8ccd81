package monitor

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"
)

// BenchmarkHeader is the first line of every benchmark log.
const BenchmarkHeader = "Epoch\tReward\tBest?\tAvg_TP\tAvg_Delay\tSrc\tDst\tRatios\tMax_Load\tExecution_Time\n"

// Record is one benchmark trial.
type Record struct {
	Epoch         int
	Reward        float64
	Best          bool
	AvgThroughput float64
	AvgDelay      float64
	Src, Dst      string
	Ratios        []float64
	MaxLoad       float64
	ExecTime      time.Duration
}

// Format renders r as one tab-separated line.
func (r Record) Format() string {
	best := "-"
	if r.Best {
		best = "[NEW BEST]"
	}
	ratios := make([]string, len(r.Ratios))
	for i, v := range r.Ratios {
		ratios[i] = fmt.Sprintf("%.3f", v)
	}
	return fmt.Sprintf("%d\t%.4f\t%s\t%.2f\t%.4f\t%s\t%s\t[%s]\t%.2f\t%.4f\n",
		r.Epoch, r.Reward, best, r.AvgThroughput, r.AvgDelay, r.Src, r.Dst,
		strings.Join(ratios, ", "), r.MaxLoad, r.ExecTime.Seconds())
}

// BenchmarkLog appends trial records to a writer.
type BenchmarkLog struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// NewBenchmarkLog writes to w, emitting the header first when header is
// true.
func NewBenchmarkLog(w io.Writer, header bool) (*BenchmarkLog, error) {
	if header {
		if _, err := io.WriteString(w, BenchmarkHeader); err != nil {
			return nil, fmt.Errorf("write benchmark header: %w", err)
		}
	}
	return &BenchmarkLog{w: w}, nil
}

// OpenBenchmarkLog opens path for appending and writes the header only
// when the file did not exist.
func OpenBenchmarkLog(path string) (*BenchmarkLog, error) {
	_, err := os.Stat(path)
	fresh := errors.Is(err, fs.ErrNotExist)
	if err != nil && !fresh {
		return nil, fmt.Errorf("stat benchmark log: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open benchmark log: %w", err)
	}
	l, err := NewBenchmarkLog(f, fresh)
	if err != nil {
		f.Close()
		return nil, err
	}
	l.closer = f
	return l, nil
}

// Append writes one record.
func (l *BenchmarkLog) Append(r Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := io.WriteString(l.w, r.Format())
	return err
}

// Close closes the underlying file, if any.
func (l *BenchmarkLog) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
