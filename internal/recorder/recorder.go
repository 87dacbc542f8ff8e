package recorder

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shaunagostinho/createlink/internal/sensor"
)

// Recorder writes timestamped sensor table snapshots to CSV files with
// automatic rotation.
type Recorder struct {
	mu       sync.Mutex
	dir      string
	interval time.Duration
	enabled  bool
	ids      []byte
	header   []string
	log      *zap.Logger

	file   *os.File
	writer *csv.Writer
	lastTs time.Time
	rows   int
	path   string
}

// Config holds recorder configuration.
type Config struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	IntervalMs int    `yaml:"interval_ms" json:"intervalMs"`
}

const (
	maxRowsPerFile = 100_000 // about 25 min at the 15 ms stream rate
)

// New creates a Recorder with one column per id, in ascending id order.
func New(cfg Config, ids []byte, log *zap.Logger) *Recorder {
	if cfg.Path == "" {
		cfg.Path = "/var/log/createlink"
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval < 15*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}

	sorted := append([]byte(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	header := make([]string, 0, 1+len(sorted))
	header = append(header, "timestamp")
	for _, id := range sorted {
		header = append(header, sensor.FieldName(id))
	}

	return &Recorder{
		dir:      cfg.Path,
		interval: interval,
		enabled:  cfg.Enabled,
		ids:      sorted,
		header:   header,
		log:      log,
	}
}

// SetEnabled allows toggling recording at runtime.
func (r *Recorder) SetEnabled(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = on
	if !on && r.file != nil {
		r.closeFile()
	}
}

func (r *Recorder) IsEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// Path is the file currently being written, or "".
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Record writes a snapshot if the minimum interval has elapsed. Ids missing
// from the snapshot leave their column empty.
func (r *Recorder) Record(now time.Time, snapshot map[byte]int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return
	}
	if now.Sub(r.lastTs) < r.interval {
		return
	}
	r.lastTs = now

	if r.writer == nil || r.rows >= maxRowsPerFile {
		if err := r.rotateFile(now); err != nil {
			r.log.Error("rotate failed", zap.Error(err))
			return
		}
	}

	if err := r.writer.Write(r.buildRow(now, snapshot)); err != nil {
		r.log.Error("write failed", zap.Error(err))
		return
	}
	r.writer.Flush()
	r.rows++
}

// Close flushes and closes the current file.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeFile()
}

func (r *Recorder) rotateFile(now time.Time) error {
	r.closeFile()

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", r.dir, err)
	}

	path := filepath.Join(r.dir, fmt.Sprintf("sensors_%s.csv", now.Format("2006-01-02_150405.000")))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	r.file = f
	r.writer = csv.NewWriter(f)
	r.rows = 0
	r.path = path

	if err := r.writer.Write(r.header); err != nil {
		return err
	}
	r.writer.Flush()

	r.log.Info("opened recording", zap.String("path", path))
	return nil
}

func (r *Recorder) closeFile() {
	if r.writer != nil {
		r.writer.Flush()
		r.writer = nil
	}
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
	r.path = ""
}

func (r *Recorder) buildRow(ts time.Time, snapshot map[byte]int) []string {
	row := make([]string, len(r.header))
	row[0] = ts.Format(time.RFC3339Nano)
	for i, id := range r.ids {
		if v, ok := snapshot[id]; ok {
			row[i+1] = strconv.Itoa(v)
		}
	}
	return row
}
