package store

import (
	"database/sql"

	_ "github.com/glebarez/go-sqlite"
)

type HistoryStore struct {
	DB *sql.DB
}

func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Create tables if not exist
	queries := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			instruction TEXT,
			status TEXT DEFAULT 'running',
			reason TEXT DEFAULT '',
			replans INTEGER DEFAULT 0,
			started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			finished_at DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS plans (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT,
			replan INTEGER,
			plan_json TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT,
			step_index INTEGER,
			action TEXT,
			target TEXT,
			success INTEGER,
			detail TEXT,
			attempts INTEGER,
			url_after TEXT,
			recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, q := range queries {
		_, err = db.Exec(q)
		if err != nil {
			return nil, err
		}
	}

	return &HistoryStore{DB: db}, nil
}

func (h *HistoryStore) Close() error {
	return h.DB.Close()
}

func (h *HistoryStore) CreateTask(id string, instruction string) error {
	query := `INSERT INTO tasks (id, instruction) VALUES (?, ?)`
	_, err := h.DB.Exec(query, id, instruction)
	return err
}

func (h *HistoryStore) FinishTask(id string, status string, reason string, replans int) error {
	query := `UPDATE tasks SET status = ?, reason = ?, replans = ?, finished_at = datetime('now') WHERE id = ?`
	_, err := h.DB.Exec(query, status, reason, replans, id)
	return err
}

func (h *HistoryStore) RecordPlan(taskID string, replan bool, planJSON string) error {
	query := `INSERT INTO plans (task_id, replan, plan_json) VALUES (?, ?, ?)`
	_, err := h.DB.Exec(query, taskID, boolToInt(replan), planJSON)
	return err
}

func (h *HistoryStore) TaskPlans(taskID string) ([]PlanRecord, error) {
	query := `SELECT id, task_id, replan, plan_json, created_at FROM plans WHERE task_id = ? ORDER BY id`
	rows, err := h.DB.Query(query, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []PlanRecord
	for rows.Next() {
		var p PlanRecord
		var replan int
		if err := rows.Scan(&p.ID, &p.TaskID, &replan, &p.PlanJSON, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Replan = replan != 0
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func (h *HistoryStore) RecordStep(rec StepRecord) error {
	query := `INSERT INTO steps (task_id, step_index, action, target, success, detail, attempts, url_after)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := h.DB.Exec(query, rec.TaskID, rec.StepIndex, rec.Action, rec.Target,
		boolToInt(rec.Success), rec.Detail, rec.Attempts, rec.URLAfter)
	return err
}

func (h *HistoryStore) RecentTasks(limit int) ([]TaskRecord, error) {
	query := `SELECT id, instruction, status, reason, replans, started_at FROM tasks ORDER BY started_at DESC LIMIT ?`
	rows, err := h.DB.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []TaskRecord
	for rows.Next() {
		var t TaskRecord
		if err := rows.Scan(&t.ID, &t.Instruction, &t.Status, &t.Reason, &t.Replans, &t.StartedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (h *HistoryStore) TaskSteps(taskID string) ([]StepRecord, error) {
	query := `SELECT id, task_id, step_index, action, target, success, detail, attempts, url_after, recorded_at
		FROM steps WHERE task_id = ? ORDER BY step_index, id`
	rows, err := h.DB.Query(query, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []StepRecord
	for rows.Next() {
		var s StepRecord
		var success int
		if err := rows.Scan(&s.ID, &s.TaskID, &s.StepIndex, &s.Action, &s.Target,
			&success, &s.Detail, &s.Attempts, &s.URLAfter, &s.RecordedAt); err != nil {
			return nil, err
		}
		s.Success = success != 0
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
