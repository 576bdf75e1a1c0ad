package repo

import (
	"context"
	"database/sql"
	"fmt"

	"taskdesk/internal/domain"
)

const accountColumns = `id,username,role,COALESCE(department,''),created_at`

func scanAccount(row interface{ Scan(...any) error }) (domain.Account, error) {
	var a domain.Account
	var role string
	err := row.Scan(&a.ID, &a.Username, &role, &a.Department, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	a.Role = domain.Role(role)
	return a, err
}

// InsertAccount stores a new account. A taken username yields ErrConflict.
func (r Repo) InsertAccount(ctx context.Context, tx *sql.Tx, a domain.Account, passwordHash string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO accounts(id,username,password_hash,role,department,created_at) VALUES (?,?,?,?,?,?)`,
		a.ID, a.Username, passwordHash, string(a.Role), nullable(a.Department), a.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("username %s already exists: %w", a.Username, ErrConflict)
	}
	return err
}

func (r Repo) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	return getAccount(ctx, r.DB, id)
}

func (r Repo) GetAccountTx(ctx context.Context, tx *sql.Tx, id string) (domain.Account, error) {
	return getAccount(ctx, tx, id)
}

func getAccount(ctx context.Context, q queryer, id string) (domain.Account, error) {
	return scanAccount(q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=?`, id))
}

// GetCredentials returns the account and password hash for username.
func (r Repo) GetCredentials(ctx context.Context, username string) (domain.Account, string, error) {
	var a domain.Account
	var role, hash string
	err := r.DB.QueryRowContext(ctx, `SELECT id,username,role,COALESCE(department,''),created_at,password_hash FROM accounts WHERE username=?`, username).
		Scan(&a.ID, &a.Username, &role, &a.Department, &a.CreatedAt, &hash)
	if err == sql.ErrNoRows {
		return a, "", ErrNotFound
	}
	if err != nil {
		return a, "", err
	}
	a.Role = domain.Role(role)
	return a, hash, nil
}

func (r Repo) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// UpdateAccount writes role and department.
func (r Repo) UpdateAccount(ctx context.Context, tx *sql.Tx, a domain.Account) error {
	res, err := tx.ExecContext(ctx, `UPDATE accounts SET role=?, department=? WHERE id=?`,
		string(a.Role), nullable(a.Department), a.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// DeleteAccount removes the account; its tasks cascade.
func (r Repo) DeleteAccount(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}
