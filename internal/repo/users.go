package repo

import (
	"context"
	"database/sql"

	"podnotes/internal/domain"
)

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Username, &u.Name, &u.Email, &u.CreatedAt); err != nil {
		return domain.User{}, noRows(err)
	}
	return u, nil
}

const userColumns = `id,username,COALESCE(name,''),COALESCE(email,''),created_at`

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO users(id,username,name,email,created_at) VALUES (?,?,?,?,?)`,
		u.ID, u.Username, nullable(u.Name), nullable(u.Email), u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByUsernameTx(ctx context.Context, tx *sql.Tx, username string) (domain.User, error) {
	return scanUser(r.on(tx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username=?`, username))
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
