package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"grantmaster/internal/domain"
)

const sectionColumns = `id,application_id,type,title,content,page_limit,page_count,required_headings_json,is_valid,is_complete,sort_order,review_json,created_at,updated_at`

func scanSection(row rowScanner) (domain.Section, error) {
	var s domain.Section
	var headings string
	var review sql.NullString
	err := row.Scan(&s.ID, &s.ApplicationID, &s.Type, &s.Title, &s.Content, &s.PageLimit, &s.PageCount, &headings,
		&s.IsValid, &s.IsComplete, &s.Order, &review, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if headings != "" {
		if err := json.Unmarshal([]byte(headings), &s.RequiredHeadings); err != nil {
			return s, err
		}
	}
	if review.Valid && review.String != "" {
		var rv domain.Review
		if err := json.Unmarshal([]byte(review.String), &rv); err != nil {
			return s, err
		}
		s.Review = &rv
	}
	return s, nil
}

func (r Repo) InsertSectionTx(ctx context.Context, tx *sql.Tx, s domain.Section) error {
	headings, err := json.Marshal(nonNil(s.RequiredHeadings))
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, tx, `INSERT INTO sections(id,application_id,type,title,content,page_limit,page_count,required_headings_json,is_valid,is_complete,sort_order,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.ApplicationID, s.Type, s.Title, s.Content, s.PageLimit, s.PageCount, string(headings),
		s.IsValid, s.IsComplete, s.Order, s.CreatedAt, s.UpdatedAt)
	return err
}

// ListSections returns an application's sections in template order.
func (r Repo) ListSections(ctx context.Context, applicationID string) ([]domain.Section, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT `+sectionColumns+` FROM sections WHERE application_id=? ORDER BY sort_order ASC, id ASC`), applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Section{}
	for rows.Next() {
		s, err := scanSection(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// GetSection finds a section of an application by id or by section type.
func (r Repo) GetSection(ctx context.Context, applicationID, sectionID string) (domain.Section, error) {
	return scanSection(r.DB.QueryRowContext(ctx, r.q(`SELECT `+sectionColumns+` FROM sections WHERE application_id=? AND (id=? OR type=?) ORDER BY sort_order LIMIT 1`),
		applicationID, sectionID, sectionID))
}

// UpdateSectionTx stores new content and the derived compliance fields.
func (r Repo) UpdateSectionTx(ctx context.Context, tx *sql.Tx, s domain.Section) error {
	return r.execOne(ctx, tx, `UPDATE sections SET content=?, page_count=?, is_valid=?, is_complete=?, updated_at=? WHERE id=?`,
		s.Content, s.PageCount, s.IsValid, s.IsComplete, s.UpdatedAt, s.ID)
}

func (r Repo) UpdateSection(ctx context.Context, s domain.Section) error {
	return r.execOne(ctx, r.DB, `UPDATE sections SET content=?, page_count=?, is_valid=?, is_complete=?, updated_at=? WHERE id=?`,
		s.Content, s.PageCount, s.IsValid, s.IsComplete, s.UpdatedAt, s.ID)
}

// UpdateSectionReviewTx replaces the stored advisory review. It does not
// touch validity.
func (r Repo) UpdateSectionReviewTx(ctx context.Context, tx *sql.Tx, sectionID string, rv domain.Review) error {
	payload, err := json.Marshal(rv)
	if err != nil {
		return err
	}
	return r.execOne(ctx, tx, `UPDATE sections SET review_json=? WHERE id=?`, string(payload), sectionID)
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
