package lbastats

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultFileName is the name ExportStatistics uses inside a directory.
const DefaultFileName = "BaStats.txt"

// Recorder accumulates the statistics history of one session. It is safe
// for concurrent use so debug handlers can read while adjustments append.
type Recorder struct {
	mu        sync.Mutex
	sessionID string
	records   []Record
	metrics   *Metrics
}

// NewRecorder returns an empty recorder with a fresh session id.
func NewRecorder() *Recorder {
	return &Recorder{sessionID: uuid.New().String()}
}

// SessionID identifies the recorder's history.
func (r *Recorder) SessionID() string { return r.sessionID }

// SetMetrics publishes every appended record to m. nil disables metrics.
func (r *Recorder) SetMetrics(m *Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
}

// Append stores rec, stamping the session id, the 1-based call index and,
// when unset, the timestamp. It returns the stored record.
func (r *Recorder) Append(rec Record) Record {
	r.mu.Lock()
	rec.SessionID = r.sessionID
	rec.Call = len(r.records) + 1
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	r.records = append(r.records, rec)
	m := r.metrics
	r.mu.Unlock()

	if m != nil {
		m.Observe(rec)
	}
	return rec
}

// Len returns the number of records.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Records returns a copy of the history.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Last returns the most recent record.
func (r *Recorder) Last() (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return Record{}, false
	}
	return r.records[len(r.records)-1], true
}

// Header returns the fixed column names of the exported table.
func Header() []string {
	cols := []string{
		"session_id", "call", "timestamp",
		"new_views", "local_ba", "strategy", "distance_limit",
		"poses_refined", "poses_constant", "poses_ignored",
		"intrinsics_refined", "intrinsics_constant", "intrinsics_ignored",
		"landmarks_refined", "landmarks_constant", "landmarks_ignored",
		"graph_nodes", "graph_edges",
	}
	for d := 0; d < HistogramBuckets; d++ {
		cols = append(cols, "dist_"+strconv.Itoa(d))
	}
	cols = append(cols,
		"dist_"+strconv.Itoa(HistogramBuckets)+"plus", "dist_unreachable",
		"parameter_blocks", "constant_blocks", "residual_blocks",
		"converged", "termination", "iterations", "initial_cost", "final_cost",
		"graph_time_s", "distance_time_s", "classify_time_s", "solve_time_s", "total_time_s",
	)
	return cols
}

func itoa(v int) string { return strconv.Itoa(v) }

func ftoa(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func btoa(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func seconds(d time.Duration) string { return strconv.FormatFloat(d.Seconds(), 'f', 6, 64) }

// Row formats rec in Header order.
func Row(rec Record) []string {
	row := []string{
		rec.SessionID, itoa(rec.Call), rec.Timestamp.UTC().Format(time.RFC3339Nano),
		itoa(rec.NewViews), btoa(rec.LocalBA), itoa(rec.Strategy), itoa(rec.DistanceLimit),
		itoa(rec.Poses.Refined), itoa(rec.Poses.Constant), itoa(rec.Poses.Ignored),
		itoa(rec.Intrinsics.Refined), itoa(rec.Intrinsics.Constant), itoa(rec.Intrinsics.Ignored),
		itoa(rec.Landmarks.Refined), itoa(rec.Landmarks.Constant), itoa(rec.Landmarks.Ignored),
		itoa(rec.GraphNodes), itoa(rec.GraphEdges),
	}
	for _, c := range rec.Distances.Buckets {
		row = append(row, itoa(c))
	}
	row = append(row,
		itoa(rec.Distances.Overflow), itoa(rec.Distances.Unreachable),
		itoa(rec.ParameterBlocks), itoa(rec.ConstantBlocks), itoa(rec.ResidualBlocks),
		btoa(rec.Converged), rec.Termination, itoa(rec.Iterations), ftoa(rec.InitialCost), ftoa(rec.FinalCost),
		seconds(rec.GraphTime), seconds(rec.DistanceTime), seconds(rec.ClassifyTime), seconds(rec.SolveTime), seconds(rec.TotalTime),
	)
	return row
}

// WriteTSV writes the header and one row per record.
func (r *Recorder) WriteTSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(Header()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, rec := range r.Records() {
		if err := cw.Write(Row(rec)); err != nil {
			return fmt.Errorf("write call %d: %w", rec.Call, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Export writes the full history to path, replacing any previous file.
func (r *Recorder) Export(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create statistics file: %w", err)
	}
	if err := r.WriteTSV(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write statistics: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close statistics file: %w", err)
	}
	return nil
}
