package repo

import (
	"context"
	"database/sql"

	"grantmaster/internal/domain"
)

const attachmentColumns = `id,application_id,name,file_url,required,status,sort_order,created_at,updated_at`

func scanAttachment(row rowScanner) (domain.Attachment, error) {
	var a domain.Attachment
	var url sql.NullString
	err := row.Scan(&a.ID, &a.ApplicationID, &a.Name, &url, &a.Required, &a.Status, &a.Order, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if url.Valid {
		a.FileURL = &url.String
	}
	return a, err
}

func (r Repo) InsertAttachmentTx(ctx context.Context, tx *sql.Tx, a domain.Attachment) error {
	_, err := r.exec(ctx, tx, `INSERT INTO attachments(id,application_id,name,file_url,required,status,sort_order,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ApplicationID, a.Name, nullableStringPtr(a.FileURL), a.Required, a.Status, a.Order, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) ListAttachments(ctx context.Context, applicationID string) ([]domain.Attachment, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT `+attachmentColumns+` FROM attachments WHERE application_id=? ORDER BY sort_order ASC, id ASC`), applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Attachment{}
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) GetAttachment(ctx context.Context, applicationID, attachmentID string) (domain.Attachment, error) {
	return scanAttachment(r.DB.QueryRowContext(ctx, r.q(`SELECT `+attachmentColumns+` FROM attachments WHERE application_id=? AND id=?`),
		applicationID, attachmentID))
}

func (r Repo) UpdateAttachmentTx(ctx context.Context, tx *sql.Tx, a domain.Attachment) error {
	return r.execOne(ctx, tx, `UPDATE attachments SET file_url=?, status=?, updated_at=? WHERE id=?`,
		nullableStringPtr(a.FileURL), a.Status, a.UpdatedAt, a.ID)
}
