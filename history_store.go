package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ========================================
// HistoryStore - SQLite 执行历史存储
// ========================================

// RunRecord 是一条已完成工作流运行的摘要
type RunRecord struct {
	RunID         string `json:"runId"`
	ConnectionKey string `json:"connectionKey"`
	State         string `json:"state"`
	StartedAt     int64  `json:"startedAt"`
	FinishedAt    int64  `json:"finishedAt"`
	DurationMs    int64  `json:"durationMs"`
	NodeCount     int    `json:"nodeCount"`
	LogCount      int    `json:"logCount"`
	Error         string `json:"error,omitempty"`
}

// HistoryStore 持久化运行历史
type HistoryStore struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex

	stmtInsertRun *sql.Stmt
	stmtInsertLog *sql.Stmt
}

const historySchemaSQL = `
-- 启用 WAL 模式提升并发写入性能
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;

-- ==================== Runs 表 ====================
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    connection_key TEXT NOT NULL,
    state TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    finished_at INTEGER NOT NULL,
    node_count INTEGER DEFAULT 0,
    error TEXT,
    node_statuses TEXT DEFAULT '{}',
    created_at INTEGER DEFAULT (strftime('%s', 'now') * 1000)
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_connection ON runs(connection_key);

-- ==================== Run Logs 表 ====================
CREATE TABLE IF NOT EXISTS run_logs (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    node_id TEXT NOT NULL,
    status TEXT NOT NULL,
    message TEXT,
    error TEXT,
    timestamp INTEGER NOT NULL,
    duration INTEGER DEFAULT 0,
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_run_logs_run ON run_logs(run_id, timestamp);
`

// NewHistoryStore 打开或创建历史数据库
func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite 单写入
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &HistoryStore{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}

	HistoryLog().Str("path", dbPath).Msg("History store opened")
	return s, nil
}

func (s *HistoryStore) initSchema() error {
	if _, err := s.db.Exec(historySchemaSQL); err != nil {
		return fmt.Errorf("failed to init history schema: %w", err)
	}
	return nil
}

func (s *HistoryStore) prepareStatements() error {
	var err error
	s.stmtInsertRun, err = s.db.Prepare(`
		INSERT OR REPLACE INTO runs
		(id, connection_key, state, started_at, finished_at, node_count, error, node_statuses)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert run: %w", err)
	}
	s.stmtInsertLog, err = s.db.Prepare(`
		INSERT OR REPLACE INTO run_logs
		(id, run_id, node_id, status, message, error, timestamp, duration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert log: %w", err)
	}
	return nil
}

// SaveRun 持久化一次完整运行及其日志
func (s *HistoryStore) SaveRun(summary RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses, err := json.Marshal(summary.NodeStatuses)
	if err != nil {
		statuses = []byte("{}")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Stmt(s.stmtInsertRun).Exec(
		summary.RunID,
		summary.ConnectionKey,
		string(summary.State),
		summary.StartedAt.UnixMilli(),
		summary.FinishedAt.UnixMilli(),
		summary.NodeCount,
		summary.Error,
		string(statuses),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, entry := range summary.Log {
		_, err = tx.Stmt(s.stmtInsertLog).Exec(
			entry.ID,
			summary.RunID,
			entry.NodeID,
			string(entry.Status),
			entry.Message,
			entry.Error,
			entry.Timestamp.UnixMilli(),
			entry.Duration,
		)
		if err != nil {
			return fmt.Errorf("failed to insert log entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// ListRuns 按开始时间倒序返回运行记录
func (s *HistoryStore) ListRuns(connectionKey string, limit int) ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT r.id, r.connection_key, r.state, r.started_at, r.finished_at, r.node_count, r.error,
		       (SELECT COUNT(*) FROM run_logs l WHERE l.run_id = r.id)
		FROM runs r`
	args := []interface{}{}
	if connectionKey != "" {
		query += " WHERE r.connection_key = ?"
		args = append(args, connectionKey)
	}
	query += " ORDER BY r.started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	records := make([]RunRecord, 0)
	for rows.Next() {
		var rec RunRecord
		var errStr sql.NullString
		if err := rows.Scan(&rec.RunID, &rec.ConnectionKey, &rec.State,
			&rec.StartedAt, &rec.FinishedAt, &rec.NodeCount, &errStr, &rec.LogCount); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		rec.Error = errStr.String
		rec.DurationMs = rec.FinishedAt - rec.StartedAt
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetRunLog 返回一次运行的完整日志
func (s *HistoryStore) GetRunLog(runID string) ([]LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, node_id, status, message, error, timestamp, duration
		FROM run_logs WHERE run_id = ? ORDER BY timestamp ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run logs: %w", err)
	}
	defer rows.Close()

	entries := make([]LogEntry, 0)
	for rows.Next() {
		var e LogEntry
		var msg, errStr sql.NullString
		var ts int64
		if err := rows.Scan(&e.ID, &e.NodeID, &e.Status, &msg, &errStr, &ts, &e.Duration); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		e.Message = msg.String
		e.Error = errStr.String
		e.Timestamp = time.UnixMilli(ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteRun 删除一次运行及其日志
func (s *HistoryStore) DeleteRun(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM runs WHERE id = ?`, runID); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// PruneRuns 保留最近 keep 条记录，删除更早的
func (s *HistoryStore) PruneRuns(keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keep <= 0 {
		keep = 200
	}
	_, err := s.db.Exec(`
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC LIMIT ?
		)`, keep)
	if err != nil {
		return fmt.Errorf("failed to prune runs: %w", err)
	}
	return nil
}

// Close 关闭数据库
func (s *HistoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stmtInsertRun != nil {
		s.stmtInsertRun.Close()
	}
	if s.stmtInsertLog != nil {
		s.stmtInsertLog.Close()
	}
	if s.db != nil {
		start := time.Now()
		err := s.db.Close()
		HistoryLog().Dur("elapsed", time.Since(start)).Msg("History store closed")
		s.db = nil
		return err
	}
	return nil
}

// ========================================
// App 绑定方法
// ========================================

// ListRunHistory returns recent workflow runs, optionally filtered by device
func (a *App) ListRunHistory(connectionKey string, limit int) ([]RunRecord, error) {
	if a.history == nil {
		return []RunRecord{}, nil
	}
	return a.history.ListRuns(connectionKey, limit)
}

// GetRunHistoryLog returns the full execution log of a past run
func (a *App) GetRunHistoryLog(runID string) ([]LogEntry, error) {
	if a.history == nil {
		return []LogEntry{}, nil
	}
	return a.history.GetRunLog(runID)
}

// DeleteRunHistory removes a past run and its log
func (a *App) DeleteRunHistory(runID string) error {
	if a.history == nil {
		return nil
	}
	return a.history.DeleteRun(runID)
}
