package lbastats

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(localBA bool) Record {
	var h Histogram
	for _, d := range []int{0, 1, 1, 2, 14, -1} {
		h.Add(d)
	}
	return Record{
		NewViews:        1,
		LocalBA:         localBA,
		Strategy:        2,
		DistanceLimit:   1,
		Poses:           StateCounts{Refined: 3, Constant: 2, Ignored: 1},
		Intrinsics:      StateCounts{Refined: 1},
		Landmarks:       StateCounts{Refined: 40, Constant: 5, Ignored: 12},
		GraphNodes:      6,
		GraphEdges:      7,
		Distances:       h,
		ParameterBlocks: 51,
		ConstantBlocks:  7,
		ResidualBlocks:  120,
		Converged:       true,
		Termination:     "convergence",
		Iterations:      4,
		InitialCost:     12.5,
		FinalCost:       0.25,
		SolveTime:       1500 * time.Millisecond,
		TotalTime:       2 * time.Second,
	}
}

func TestHistogram_Add(t *testing.T) {
	t.Parallel()
	h := sampleRecord(true).Distances
	assert.Equal(t, 1, h.Buckets[0])
	assert.Equal(t, 2, h.Buckets[1])
	assert.Equal(t, 1, h.Buckets[2])
	assert.Equal(t, 1, h.Overflow)
	assert.Equal(t, 1, h.Unreachable)
	assert.Equal(t, 6, h.Total())
	assert.Len(t, h.Values(), len(DistanceLabels()))
}

func TestRecorder_AppendStamps(t *testing.T) {
	t.Parallel()
	r := NewRecorder()
	_, err := uuid.Parse(r.SessionID())
	require.NoError(t, err)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	first := r.Append(Record{Timestamp: ts})
	second := r.Append(sampleRecord(true))

	assert.Equal(t, 1, first.Call)
	assert.Equal(t, ts, first.Timestamp)
	assert.Equal(t, 2, second.Call)
	assert.False(t, second.Timestamp.IsZero())
	assert.Equal(t, r.SessionID(), second.SessionID)
	assert.Equal(t, 2, r.Len())

	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, second, last)

	recs := r.Records()
	recs[0].Call = 99
	assert.Equal(t, 1, r.Records()[0].Call)
}

func TestRecorder_LastEmpty(t *testing.T) {
	t.Parallel()
	_, ok := NewRecorder().Last()
	assert.False(t, ok)
}

func TestWriteTSV_StableColumns(t *testing.T) {
	t.Parallel()
	r := NewRecorder()
	r.Append(sampleRecord(true))
	r.Append(Record{Termination: "empty"})
	r.Append(sampleRecord(false))

	var buf bytes.Buffer
	require.NoError(t, r.WriteTSV(&buf))

	cr := csv.NewReader(&buf)
	cr.Comma = '\t'
	rows, err := cr.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, Header(), rows[0])

	col := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		col[name] = i
	}
	assert.Equal(t, "1", rows[1][col["call"]])
	assert.Equal(t, "3", rows[1][col["poses_refined"]])
	assert.Equal(t, "2", rows[1][col["dist_1"]])
	assert.Equal(t, "1", rows[1][col["dist_10plus"]])
	assert.Equal(t, "1", rows[1][col["dist_unreachable"]])
	assert.Equal(t, "1.500000", rows[1][col["solve_time_s"]])
	assert.Equal(t, "1", rows[1][col["local_ba"]])
	assert.Equal(t, "empty", rows[2][col["termination"]])
	assert.Equal(t, "0", rows[3][col["local_ba"]])
}

func TestExport(t *testing.T) {
	t.Parallel()
	r := NewRecorder()
	r.Append(sampleRecord(true))

	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, r.Export(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "session_id\tcall\ttimestamp\t"))

	err = r.Export(filepath.Join(t.TempDir(), "nope", DefaultFileName))
	require.Error(t, err)
}
