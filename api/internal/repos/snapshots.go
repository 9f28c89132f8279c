package repos

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"sentinelai-backend/api/internal/eventlog"
	"sentinelai-backend/api/internal/models"
	"sentinelai-backend/shared/dbx"
)

const snapshotsSchema = `
CREATE TABLE IF NOT EXISTS analysis_snapshots (
	snapshot_id     BIGSERIAL PRIMARY KEY,
	mission_id      TEXT,
	status_score    INTEGER NOT NULL,
	status          TEXT NOT NULL,
	window_minutes  INTEGER NOT NULL,
	event_counts    JSONB NOT NULL DEFAULT '{}'::jsonb,
	risks           JSONB NOT NULL DEFAULT '[]'::jsonb,
	recommendations JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_analysis_snapshots_mission_created ON analysis_snapshots (mission_id, created_at);
`

type SnapshotsRepo struct {
	pool *pgxpool.Pool
}

func NewSnapshotsRepo(pool *pgxpool.Pool) *SnapshotsRepo {
	return &SnapshotsRepo{pool: pool}
}

func (r *SnapshotsRepo) EnsureSchema(ctx context.Context) error {
	if err := dbx.ApplySchema(ctx, r.pool, snapshotsSchema); err != nil {
		return fmt.Errorf("%w: ensure snapshot schema: %v", eventlog.ErrStore, err)
	}
	return nil
}

func (r *SnapshotsRepo) Insert(ctx context.Context, s models.AnalysisSnapshot) (models.AnalysisSnapshot, error) {
	counts, err := json.Marshal(s.EventCounts)
	if err != nil {
		return models.AnalysisSnapshot{}, err
	}
	risks, err := json.Marshal(nonNil(s.Risks))
	if err != nil {
		return models.AnalysisSnapshot{}, err
	}
	recs, err := json.Marshal(nonNil(s.Recommendations))
	if err != nil {
		return models.AnalysisSnapshot{}, err
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO analysis_snapshots (mission_id, status_score, status, window_minutes, event_counts, risks, recommendations, created_at)
		VALUES (NULLIF($1, ''), $2, $3, $4, $5, $6, $7, $8)
		RETURNING snapshot_id
	`, s.MissionID, s.StatusScore, s.Status, s.WindowMinutes, counts, risks, recs, s.CreatedAt).Scan(&s.SnapshotID)
	if err != nil {
		return models.AnalysisSnapshot{}, fmt.Errorf("%w: insert snapshot: %v", eventlog.ErrStore, err)
	}
	return s, nil
}

// Recent lists the newest snapshots for a mission, newest first.
func (r *SnapshotsRepo) Recent(ctx context.Context, missionID string, limit int) ([]models.AnalysisSnapshot, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT snapshot_id, COALESCE(mission_id, ''), status_score, status, window_minutes, event_counts, risks, recommendations, created_at
		FROM analysis_snapshots
		WHERE ($1 = '' AND mission_id IS NULL) OR mission_id = $1
		ORDER BY created_at DESC, snapshot_id DESC
		LIMIT $2
	`, missionID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query snapshots: %v", eventlog.ErrStore, err)
	}
	defer rows.Close()

	out := make([]models.AnalysisSnapshot, 0)
	for rows.Next() {
		var s models.AnalysisSnapshot
		var counts, risks, recs []byte
		if err := rows.Scan(&s.SnapshotID, &s.MissionID, &s.StatusScore, &s.Status, &s.WindowMinutes, &counts, &risks, &recs, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan snapshot: %v", eventlog.ErrStore, err)
		}
		_ = json.Unmarshal(counts, &s.EventCounts)
		_ = json.Unmarshal(risks, &s.Risks)
		_ = json.Unmarshal(recs, &s.Recommendations)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SnapshotsRepo) Watermark(ctx context.Context) (int64, error) {
	var id int64
	if err := r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(snapshot_id), 0) FROM analysis_snapshots`).Scan(&id); err != nil {
		return 0, fmt.Errorf("%w: snapshots watermark: %v", eventlog.ErrStore, err)
	}
	return id, nil
}

func (r *SnapshotsRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time, upTo int64) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM analysis_snapshots WHERE created_at < $1 AND snapshot_id <= $2`, cutoff, upTo)
	if err != nil {
		return 0, fmt.Errorf("%w: purge snapshots: %v", eventlog.ErrStore, err)
	}
	return int(tag.RowsAffected()), nil
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
