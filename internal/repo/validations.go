package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"grantmaster/internal/domain"
)

func (r Repo) InsertValidationResultTx(ctx context.Context, tx *sql.Tx, v domain.ValidationResult) error {
	errs, err := json.Marshal(nonNil(v.Errors))
	if err != nil {
		return err
	}
	warns, err := json.Marshal(nonNil(v.Warnings))
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, tx, `INSERT INTO validation_results(id,application_id,is_valid,can_export,errors_json,warnings_json,created_by,created_at)
VALUES (?,?,?,?,?,?,?,?)`,
		v.ID, v.ApplicationID, v.IsValid, v.CanExport, string(errs), string(warns), v.CreatedBy, v.CreatedAt)
	return err
}

func (r Repo) InsertValidationResult(ctx context.Context, v domain.ValidationResult) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.InsertValidationResultTx(ctx, tx, v); err != nil {
		return err
	}
	return tx.Commit()
}

// LatestValidationResult returns the most recent snapshot for an application.
func (r Repo) LatestValidationResult(ctx context.Context, applicationID string) (domain.ValidationResult, error) {
	var v domain.ValidationResult
	var errs, warns string
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT id,application_id,is_valid,can_export,errors_json,warnings_json,created_by,created_at
FROM validation_results WHERE application_id=? ORDER BY created_at DESC, id DESC LIMIT 1`), applicationID).
		Scan(&v.ID, &v.ApplicationID, &v.IsValid, &v.CanExport, &errs, &warns, &v.CreatedBy, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal([]byte(errs), &v.Errors); err != nil {
		return v, err
	}
	if err := json.Unmarshal([]byte(warns), &v.Warnings); err != nil {
		return v, err
	}
	v.Errors, v.Warnings = nonNil(v.Errors), nonNil(v.Warnings)
	return v, nil
}
