package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/localba/internal/lbastats"
)

// Session summarises one recorded adjustment session.
type Session struct {
	ID        string
	Scene     string
	CreatedAt time.Time
	Calls     int
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const insertSessionSQL = `
	INSERT INTO lba_sessions (session_id, scene, created_at) VALUES (?, ?, ?)
	ON CONFLICT(session_id) DO NOTHING`

const insertRecordSQL = `
	INSERT INTO lba_records (
		session_id, call, timestamp_ns, new_views, local_ba, strategy, distance_limit,
		poses_refined, poses_constant, poses_ignored,
		intrinsics_refined, intrinsics_constant, intrinsics_ignored,
		landmarks_refined, landmarks_constant, landmarks_ignored,
		graph_nodes, graph_edges, distances_json,
		parameter_blocks, constant_blocks, residual_blocks,
		converged, termination, iterations, initial_cost, final_cost,
		graph_time_ns, distance_time_ns, classify_time_ns, solve_time_ns, total_time_ns
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectRecordSQL = `
	SELECT
		session_id, call, timestamp_ns, new_views, local_ba, strategy, distance_limit,
		poses_refined, poses_constant, poses_ignored,
		intrinsics_refined, intrinsics_constant, intrinsics_ignored,
		landmarks_refined, landmarks_constant, landmarks_ignored,
		graph_nodes, graph_edges, distances_json,
		parameter_blocks, constant_blocks, residual_blocks,
		converged, termination, iterations, initial_cost, final_cost,
		graph_time_ns, distance_time_ns, classify_time_ns, solve_time_ns, total_time_ns
	FROM lba_records`

// EnsureSession registers a session id if it is not known yet.
func (db *DB) EnsureSession(id, scene string, createdAt time.Time) error {
	if _, err := db.Exec(insertSessionSQL, id, scene, createdAt.UnixNano()); err != nil {
		return fmt.Errorf("failed to insert session %s: %w", id, err)
	}
	return nil
}

// InsertRecord stores one statistics record. Its session must exist.
func (db *DB) InsertRecord(rec lbastats.Record) error {
	return insertRecord(db.DB, rec)
}

// InsertRecords stores a session and its records in one transaction.
func (db *DB) InsertRecords(sessionID, scene string, recs []lbastats.Record) error {
	created := time.Now()
	if len(recs) > 0 {
		created = recs[0].Timestamp
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(insertSessionSQL, sessionID, scene, created.UnixNano()); err != nil {
		return fmt.Errorf("failed to insert session %s: %w", sessionID, err)
	}
	for _, rec := range recs {
		if err := insertRecord(tx, rec); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertRecord(ex execer, rec lbastats.Record) error {
	dist, err := json.Marshal(rec.Distances)
	if err != nil {
		return fmt.Errorf("failed to encode distance histogram: %w", err)
	}
	_, err = ex.Exec(insertRecordSQL,
		rec.SessionID, rec.Call, rec.Timestamp.UnixNano(), rec.NewViews, boolInt(rec.LocalBA), rec.Strategy, rec.DistanceLimit,
		rec.Poses.Refined, rec.Poses.Constant, rec.Poses.Ignored,
		rec.Intrinsics.Refined, rec.Intrinsics.Constant, rec.Intrinsics.Ignored,
		rec.Landmarks.Refined, rec.Landmarks.Constant, rec.Landmarks.Ignored,
		rec.GraphNodes, rec.GraphEdges, string(dist),
		rec.ParameterBlocks, rec.ConstantBlocks, rec.ResidualBlocks,
		boolInt(rec.Converged), rec.Termination, rec.Iterations, rec.InitialCost, rec.FinalCost,
		int64(rec.GraphTime), int64(rec.DistanceTime), int64(rec.ClassifyTime), int64(rec.SolveTime), int64(rec.TotalTime),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record %s/%d: %w", rec.SessionID, rec.Call, err)
	}
	return nil
}

// ListRecords returns the records of a session ordered by call.
func (db *DB) ListRecords(sessionID string) ([]lbastats.Record, error) {
	rows, err := db.Query(selectRecordSQL+` WHERE session_id = ? ORDER BY call`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var recs []lbastats.Record
	for rows.Next() {
		var (
			rec                                        lbastats.Record
			tsNs                                       int64
			localBA, converged                         int
			dist                                       string
			graphNs, distNs, classNs, solveNs, totalNs int64
		)
		if err := rows.Scan(
			&rec.SessionID, &rec.Call, &tsNs, &rec.NewViews, &localBA, &rec.Strategy, &rec.DistanceLimit,
			&rec.Poses.Refined, &rec.Poses.Constant, &rec.Poses.Ignored,
			&rec.Intrinsics.Refined, &rec.Intrinsics.Constant, &rec.Intrinsics.Ignored,
			&rec.Landmarks.Refined, &rec.Landmarks.Constant, &rec.Landmarks.Ignored,
			&rec.GraphNodes, &rec.GraphEdges, &dist,
			&rec.ParameterBlocks, &rec.ConstantBlocks, &rec.ResidualBlocks,
			&converged, &rec.Termination, &rec.Iterations, &rec.InitialCost, &rec.FinalCost,
			&graphNs, &distNs, &classNs, &solveNs, &totalNs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if err := json.Unmarshal([]byte(dist), &rec.Distances); err != nil {
			return nil, fmt.Errorf("failed to decode distance histogram of call %d: %w", rec.Call, err)
		}
		rec.Timestamp = time.Unix(0, tsNs).UTC()
		rec.LocalBA = localBA != 0
		rec.Converged = converged != 0
		rec.GraphTime = time.Duration(graphNs)
		rec.DistanceTime = time.Duration(distNs)
		rec.ClassifyTime = time.Duration(classNs)
		rec.SolveTime = time.Duration(solveNs)
		rec.TotalTime = time.Duration(totalNs)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Sessions lists the recorded sessions, newest first.
func (db *DB) Sessions() ([]Session, error) {
	rows, err := db.Query(`
		SELECT s.session_id, s.scene, s.created_at, COUNT(r.call)
		FROM lba_sessions s
		LEFT JOIN lba_records r ON r.session_id = s.session_id
		GROUP BY s.session_id
		ORDER BY s.created_at DESC, s.session_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			s       Session
			created int64
		)
		if err := rows.Scan(&s.ID, &s.Scene, &created, &s.Calls); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}
