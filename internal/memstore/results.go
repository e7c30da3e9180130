package memstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rojlabs/roj/internal/hive"
)

// SimilarEntry is one hit from the similarity query.
type SimilarEntry struct {
	TaskID     uuid.UUID       `json:"task_id"`
	Similarity float64         `json:"similarity"`
	Output     json.RawMessage `json:"output,omitempty"`
}

// defaultTTL is how long task results are retained before the cleanup
// sweep removes them.
const defaultTTL = 30 * 24 * time.Hour

// Store persists a task result. Large outputs are zstd-compressed at
// rest; the embedding is kept raw for the similarity scan.
func (s *Store) Store(ctx context.Context, taskID uuid.UUID, result hive.TaskResult) error {
	var judgments []byte
	if len(result.Judgments) > 0 {
		var err error
		judgments, err = json.Marshal(result.Judgments)
		if err != nil {
			return fmt.Errorf("marshal judgments: %w", err)
		}
	}

	var output []byte
	if len(result.Output) > 0 {
		output = s.enc.EncodeAll(result.Output, nil)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_results (task_id, agent_id, success, output, error, judgments, embedding, started_at, completed_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			agent_id = excluded.agent_id,
			success = excluded.success,
			output = excluded.output,
			error = excluded.error,
			judgments = excluded.judgments,
			embedding = excluded.embedding,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			expires_at = excluded.expires_at`,
		taskID.String(), result.AgentID.String(), result.Success,
		output, result.Error, judgments, encodeVector(result.Embedding),
		result.StartedAt, result.CompletedAt, time.Now().Add(defaultTTL).UTC())
	if err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	return nil
}

// GetResult loads one result by task id. Returns nil when absent.
func (s *Store) GetResult(ctx context.Context, taskID uuid.UUID) (*hive.TaskResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT task_id, agent_id, success, output, error, judgments, embedding, started_at, completed_at
		FROM task_results WHERE task_id = ?`, taskID.String())

	var (
		r              hive.TaskResult
		tid, aid       string
		output         []byte
		errStr         sql.NullString
		judgments, emb []byte
		started, done  sql.NullTime
	)
	err := row.Scan(&tid, &aid, &r.Success, &output, &errStr, &judgments, &emb, &started, &done)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}

	if r.TaskID, err = uuid.Parse(tid); err != nil {
		return nil, fmt.Errorf("parse task id: %w", err)
	}
	if r.AgentID, err = uuid.Parse(aid); err != nil {
		return nil, fmt.Errorf("parse agent id: %w", err)
	}
	if len(output) > 0 {
		raw, err := s.dec.DecodeAll(output, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress output: %w", err)
		}
		r.Output = raw
	}
	r.Error = errStr.String
	if len(judgments) > 0 {
		if err := json.Unmarshal(judgments, &r.Judgments); err != nil {
			return nil, fmt.Errorf("unmarshal judgments: %w", err)
		}
	}
	r.Embedding = decodeVector(emb)
	if started.Valid {
		r.StartedAt = started.Time
	}
	if done.Valid {
		r.CompletedAt = done.Time
	}
	return &r, nil
}

// RetrieveSimilar scans stored embeddings and returns the closest
// results by cosine similarity, best first. Entries below the threshold
// or without an embedding are skipped.
func (s *Store) RetrieveSimilar(ctx context.Context, vector []float32, limit int, threshold float64) ([]SimilarEntry, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, output, embedding FROM task_results
		WHERE embedding IS NOT NULL AND length(embedding) > 0`)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var entries []SimilarEntry
	for rows.Next() {
		var (
			tid         string
			output, emb []byte
		)
		if err := rows.Scan(&tid, &output, &emb); err != nil {
			return nil, fmt.Errorf("scan embedding row: %w", err)
		}

		sim, ok := cosineSimilarity(vector, decodeVector(emb))
		if !ok || sim < threshold {
			continue
		}
		id, err := uuid.Parse(tid)
		if err != nil {
			continue
		}

		entry := SimilarEntry{TaskID: id, Similarity: sim}
		if len(output) > 0 {
			if raw, err := s.dec.DecodeAll(output, nil); err == nil {
				entry.Output = raw
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Highest similarity first, truncated to the limit.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Similarity > entries[j-1].Similarity; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// CleanupExpired deletes results past their retention window and
// returns how many were removed.
func (s *Store) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM task_results WHERE expires_at IS NOT NULL AND expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("cleanup results: %w", err)
	}
	return res.RowsAffected()
}

// StartCleanup sweeps expired results on the given interval until the
// context is cancelled. A failed sweep is logged and retried next tick.
func (s *Store) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := s.CleanupExpired(ctx, now)
			if err != nil {
				slog.Warn("result cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("expired results removed", "count", n)
			}
		}
	}
}

// SaveDecision appends a synthesized decision to the audit table.
func (s *Store) SaveDecision(ctx context.Context, d hive.Decision) error {
	rationale, err := json.Marshal(d.Rationale)
	if err != nil {
		return fmt.Errorf("marshal rationale: %w", err)
	}
	var taskID any
	if d.TaskID != uuid.Nil {
		taskID = d.TaskID.String()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decisions (id, task_id, action, confidence, level, vetoed, rationale, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID.String(), taskID, string(d.Action), d.Confidence, string(d.Level),
		d.Rationale.Vetoed, rationale, d.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save decision: %w", err)
	}
	return nil
}

// ListDecisions returns the most recent decisions, newest first.
func (s *Store) ListDecisions(ctx context.Context, limit int) ([]hive.Decision, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, action, confidence, level, rationale, created_at
		FROM decisions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []hive.Decision
	for rows.Next() {
		var (
			d         hive.Decision
			id        string
			taskID    sql.NullString
			rationale []byte
		)
		if err := rows.Scan(&id, &taskID, &d.Action, &d.Confidence, &d.Level, &rationale, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if d.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse decision id: %w", err)
		}
		if taskID.Valid {
			d.TaskID, _ = uuid.Parse(taskID.String)
		}
		if len(rationale) > 0 {
			if err := json.Unmarshal(rationale, &d.Rationale); err != nil {
				return nil, fmt.Errorf("unmarshal rationale: %w", err)
			}
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// encodeVector packs float32 components little-endian.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

// cosineSimilarity returns false for mismatched lengths or zero vectors.
func cosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
