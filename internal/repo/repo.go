package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"grantmaster/internal/db"
	"grantmaster/internal/domain"
)

// Repo is the single storage abstraction. Queries are written with ?
// placeholders and rebound for the connection's dialect.
type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

var ErrNotFound = errors.New("not found")

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(query string) string {
	return db.Rebind(r.Dialect, query)
}

func (r Repo) exec(ctx context.Context, ex execer, query string, args ...any) (sql.Result, error) {
	return ex.ExecContext(ctx, r.q(query), args...)
}

// execOne runs a write that must touch exactly one row.
func (r Repo) execOne(ctx context.Context, ex execer, query string, args ...any) error {
	res, err := r.exec(ctx, ex, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) EnsureUser(ctx context.Context, u domain.User) error {
	_, err := r.exec(ctx, r.DB, `INSERT INTO users(id,email,created_at) VALUES (?,?,?) ON CONFLICT(id) DO NOTHING`,
		u.ID, nullable(u.Email), u.CreatedAt)
	return err
}

const applicationColumns = `id,title,mechanism,status,owner_id,COALESCE(principal_investigator,''),COALESCE(institution,''),created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row rowScanner) (domain.Application, error) {
	var a domain.Application
	err := row.Scan(&a.ID, &a.Title, &a.Mechanism, &a.Status, &a.OwnerID, &a.PrincipalInvestigator, &a.Institution, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) InsertApplication(ctx context.Context, a domain.Application) error {
	return r.insertApplication(ctx, r.DB, a)
}

func (r Repo) InsertApplicationTx(ctx context.Context, tx *sql.Tx, a domain.Application) error {
	return r.insertApplication(ctx, tx, a)
}

func (r Repo) insertApplication(ctx context.Context, ex execer, a domain.Application) error {
	_, err := r.exec(ctx, ex, `INSERT INTO applications(id,title,mechanism,status,owner_id,principal_investigator,institution,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Title, a.Mechanism, a.Status, a.OwnerID, nullable(a.PrincipalInvestigator), nullable(a.Institution), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetApplication(ctx context.Context, id string) (domain.Application, error) {
	return scanApplication(r.DB.QueryRowContext(ctx, r.q(`SELECT `+applicationColumns+` FROM applications WHERE id=?`), id))
}

type ApplicationFilters struct {
	OwnerID         string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// ListApplications returns the newest applications first.
func (r Repo) ListApplications(ctx context.Context, f ApplicationFilters) ([]domain.Application, error) {
	var clauses []string
	var args []any
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + applicationColumns + ` FROM applications ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Application{}
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ApplicationUpdate carries the fields to change; nil fields are left alone.
type ApplicationUpdate struct {
	Title                 *string
	Status                *string
	PrincipalInvestigator *string
	Institution           *string
	UpdatedAt             string
}

func (r Repo) UpdateApplication(ctx context.Context, id string, u ApplicationUpdate) error {
	return r.updateApplication(ctx, r.DB, id, u)
}

func (r Repo) UpdateApplicationTx(ctx context.Context, tx *sql.Tx, id string, u ApplicationUpdate) error {
	return r.updateApplication(ctx, tx, id, u)
}

func (r Repo) updateApplication(ctx context.Context, ex execer, id string, u ApplicationUpdate) error {
	var (
		fields []string
		args   []any
	)
	if u.Title != nil {
		fields = append(fields, "title=?")
		args = append(args, *u.Title)
	}
	if u.Status != nil {
		fields = append(fields, "status=?")
		args = append(args, *u.Status)
	}
	if u.PrincipalInvestigator != nil {
		fields = append(fields, "principal_investigator=?")
		args = append(args, nullable(*u.PrincipalInvestigator))
	}
	if u.Institution != nil {
		fields = append(fields, "institution=?")
		args = append(args, nullable(*u.Institution))
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, u.UpdatedAt, id)
	return r.execOne(ctx, ex, fmt.Sprintf(`UPDATE applications SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
}

// TouchApplicationTx bumps updated_at after a change to an owned row.
func (r Repo) TouchApplicationTx(ctx context.Context, tx *sql.Tx, id, updatedAt string) error {
	return r.execOne(ctx, tx, `UPDATE applications SET updated_at=? WHERE id=?`, updatedAt, id)
}

// DeleteApplication removes an application; sections, attachments,
// validation results and events cascade.
func (r Repo) DeleteApplication(ctx context.Context, id string) error {
	return r.execOne(ctx, r.DB, `DELETE FROM applications WHERE id=?`, id)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
