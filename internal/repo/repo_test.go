package repo

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grantmaster/internal/db"
	"grantmaster/internal/domain"
	"grantmaster/internal/migrate"
)

const ts = "2026-03-01T10:00:00Z"

func setupRepo(t *testing.T) Repo {
	t.Helper()
	conn, d, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn, d))
	return Repo{DB: conn, Dialect: d}
}

func seedApplication(t *testing.T, r Repo) domain.Application {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, r.EnsureUser(ctx, domain.User{ID: "u1", CreatedAt: ts}))
	// idempotent
	require.NoError(t, r.EnsureUser(ctx, domain.User{ID: "u1", CreatedAt: ts}))
	a := domain.Application{ID: "app-1", Title: "Sepsis Dx", Mechanism: "R43", Status: domain.StatusDraft, OwnerID: "u1", CreatedAt: ts, UpdatedAt: ts}
	require.NoError(t, r.InsertApplication(ctx, a))
	return a
}

func TestApplicationCRUD(t *testing.T) {
	ctx := context.Background()
	r := setupRepo(t)
	a := seedApplication(t, r)

	got, err := r.GetApplication(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	title, status, pi := "Sepsis Dx v2", domain.StatusReady, "Dr. Kim"
	require.NoError(t, r.UpdateApplication(ctx, a.ID, ApplicationUpdate{Title: &title, Status: &status, PrincipalInvestigator: &pi, UpdatedAt: "2026-03-02T10:00:00Z"}))
	got, err = r.GetApplication(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, title, got.Title)
	assert.Equal(t, status, got.Status)
	assert.Equal(t, pi, got.PrincipalInvestigator)
	assert.Equal(t, "2026-03-02T10:00:00Z", got.UpdatedAt)

	assert.ErrorIs(t, r.UpdateApplication(ctx, "missing", ApplicationUpdate{Title: &title}), ErrNotFound)
	assert.NoError(t, r.UpdateApplication(ctx, "missing", ApplicationUpdate{}))

	list, err := r.ListApplications(ctx, ApplicationFilters{OwnerID: "u1"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	list, err = r.ListApplications(ctx, ApplicationFilters{OwnerID: "someone-else"})
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, r.DeleteApplication(ctx, a.ID))
	_, err = r.GetApplication(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.DeleteApplication(ctx, a.ID), ErrNotFound)
}

func TestListApplicationsCursor(t *testing.T) {
	ctx := context.Background()
	r := setupRepo(t)
	seedApplication(t, r)
	for _, id := range []string{"app-2", "app-3"} {
		require.NoError(t, r.InsertApplication(ctx, domain.Application{ID: id, Title: id, Mechanism: "R21", Status: domain.StatusDraft, OwnerID: "u1", CreatedAt: ts, UpdatedAt: ts}))
	}
	page, err := r.ListApplications(ctx, ApplicationFilters{OwnerID: "u1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "app-3", page[0].ID)
	rest, err := r.ListApplications(ctx, ApplicationFilters{OwnerID: "u1", CursorCreatedAt: page[1].CreatedAt, CursorID: page[1].ID})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "app-1", rest[0].ID)
}

func TestSectionsAndAttachments(t *testing.T) {
	ctx := context.Background()
	r := setupRepo(t)
	a := seedApplication(t, r)

	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, r.InsertSectionTx(ctx, tx, domain.Section{ID: "s2", ApplicationID: a.ID, Type: "research_strategy", Title: "Research Strategy", PageLimit: 6,
		RequiredHeadings: []string{"Significance", "Innovation", "Approach"}, IsValid: true, Order: 1, CreatedAt: ts, UpdatedAt: ts}))
	require.NoError(t, r.InsertSectionTx(ctx, tx, domain.Section{ID: "s1", ApplicationID: a.ID, Type: "specific_aims", Title: "Specific Aims", PageLimit: 1,
		IsValid: true, Order: 0, CreatedAt: ts, UpdatedAt: ts}))
	require.NoError(t, r.InsertAttachmentTx(ctx, tx, domain.Attachment{ID: "at1", ApplicationID: a.ID, Name: "Biographical Sketch", Required: true, Status: domain.AttachmentPending, CreatedAt: ts, UpdatedAt: ts}))
	require.NoError(t, tx.Commit())

	sections, err := r.ListSections(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Equal(t, "s1", sections[0].ID)
	assert.Equal(t, []string{"Significance", "Innovation", "Approach"}, sections[1].RequiredHeadings)
	assert.Nil(t, sections[0].Review)

	byType, err := r.GetSection(ctx, a.ID, "research_strategy")
	require.NoError(t, err)
	assert.Equal(t, "s2", byType.ID)
	_, err = r.GetSection(ctx, "other-app", "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	byType.Content, byType.PageCount, byType.IsValid, byType.IsComplete = "Significance", 1, false, false
	require.NoError(t, r.UpdateSection(ctx, byType))
	tx, err = r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, r.UpdateSectionReviewTx(ctx, tx, "s2", domain.Review{Kind: "score", Score: 3, Min: 1, Max: 9, Rationale: "ok", ReviewedAt: ts}))
	require.NoError(t, tx.Commit())
	got, err := r.GetSection(ctx, a.ID, "s2")
	require.NoError(t, err)
	assert.Equal(t, "Significance", got.Content)
	assert.False(t, got.IsValid)
	require.NotNil(t, got.Review)
	assert.Equal(t, 3, got.Review.Score)

	att, err := r.GetAttachment(ctx, a.ID, "at1")
	require.NoError(t, err)
	assert.Nil(t, att.FileURL)
	assert.True(t, att.Required)
	url := "https://files.example.org/bio.pdf"
	att.FileURL, att.Status = &url, domain.AttachmentUploaded
	tx, err = r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, r.UpdateAttachmentTx(ctx, tx, att))
	require.NoError(t, tx.Commit())
	list, err := r.ListAttachments(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].FileURL)
	assert.Equal(t, url, *list[0].FileURL)

	// cascade
	require.NoError(t, r.DeleteApplication(ctx, a.ID))
	sections, err = r.ListSections(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, sections)
}

func TestValidationResultsAndEvents(t *testing.T) {
	ctx := context.Background()
	r := setupRepo(t)
	a := seedApplication(t, r)

	_, err := r.LatestValidationResult(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, r.InsertValidationResult(ctx, domain.ValidationResult{ID: "v1", ApplicationID: a.ID, Errors: []string{"x"}, CreatedBy: "u1", CreatedAt: ts}))
	require.NoError(t, r.InsertValidationResult(ctx, domain.ValidationResult{ID: "v2", ApplicationID: a.ID, IsValid: true, CanExport: true, CreatedBy: "u1", CreatedAt: "2026-03-01T11:00:00Z"}))
	v, err := r.LatestValidationResult(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", v.ID)
	assert.True(t, v.CanExport)
	assert.Equal(t, []string{}, v.Errors)

	_, err = r.DB.ExecContext(ctx, `INSERT INTO events(ts,type,application_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, "application.created", a.ID, "application", a.ID, "u1", "{}")
	require.NoError(t, err)
	events, err := r.ListEvents(ctx, a.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "application.created", events[0].Type)
	events, err = r.ListEvents(ctx, a.ID, events[0].ID, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRepoErrorPaths(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	r := Repo{DB: conn, Dialect: db.Postgres}
	ctx := context.Background()

	mock.ExpectQuery(`SELECT .* FROM applications WHERE id=\$1`).WithArgs("a1").WillReturnError(sql.ErrNoRows)
	_, err = r.GetApplication(ctx, "a1")
	assert.ErrorIs(t, err, ErrNotFound)

	boom := errors.New("connection reset")
	mock.ExpectExec(`DELETE FROM applications WHERE id=\$1`).WithArgs("a1").WillReturnError(boom)
	assert.ErrorIs(t, r.DeleteApplication(ctx, "a1"), boom)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE attachments SET file_url=\$1, status=\$2, updated_at=\$3 WHERE id=\$4`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, r.UpdateAttachmentTx(ctx, tx, domain.Attachment{ID: "x", Status: domain.AttachmentUploaded}), ErrNotFound)
	require.NoError(t, tx.Rollback())

	mock.ExpectQuery(`SELECT .* FROM sections WHERE application_id=\$1`).WillReturnError(boom)
	_, err = r.ListSections(ctx, "a1")
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, mock.ExpectationsWereMet())
}
