package repo

import (
	"context"
	"database/sql"

	"taskdesk/internal/domain"
)

// Department and owner name are read through the owner, so a task always
// belongs to its owner's current department.
const taskSelect = `SELECT t.id,t.owner_id,a.username,COALESCE(a.department,''),t.title,COALESCE(t.description,''),
t.progress,t.hours_per_week,t.load_per_month,t.created_at,t.updated_at
FROM tasks t JOIN accounts a ON a.id = t.owner_id`

func scanTask(row interface{ Scan(...any) error }) (domain.Task, error) {
	var t domain.Task
	err := row.Scan(&t.ID, &t.OwnerID, &t.OwnerName, &t.Department, &t.Title, &t.Description,
		&t.Progress, &t.HoursPerWeek, &t.LoadPerMonth, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,owner_id,title,description,progress,hours_per_week,load_per_month,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.OwnerID, t.Title, nullable(t.Description), t.Progress, t.HoursPerWeek, t.LoadPerMonth, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, progress=?, hours_per_week=?, load_per_month=?, updated_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.Progress, t.HoursPerWeek, t.LoadPerMonth, t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return getTask(ctx, r.DB, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return getTask(ctx, tx, id)
}

func getTask(ctx context.Context, q queryer, id string) (domain.Task, error) {
	return scanTask(q.QueryRowContext(ctx, taskSelect+` WHERE t.id=?`, id))
}

// ListTasks returns every task, newest first.
func (r Repo) ListTasks(ctx context.Context) ([]domain.Task, error) {
	return listTasks(ctx, r.DB, taskSelect+` ORDER BY t.created_at DESC, t.id`)
}

// ListTasksByOwnerTx returns the tasks owned by ownerID.
func (r Repo) ListTasksByOwnerTx(ctx context.Context, tx *sql.Tx, ownerID string) ([]domain.Task, error) {
	return listTasks(ctx, tx, taskSelect+` WHERE t.owner_id=? ORDER BY t.created_at DESC, t.id`, ownerID)
}

func listTasks(ctx context.Context, q queryer, query string, args ...any) ([]domain.Task, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
