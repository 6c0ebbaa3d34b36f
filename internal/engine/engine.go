package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"grantmaster/internal/advisor"
	"grantmaster/internal/blob"
	"grantmaster/internal/db"
	"grantmaster/internal/domain"
	"grantmaster/internal/engine/auth"
	"grantmaster/internal/events"
	"grantmaster/internal/export"
	"grantmaster/internal/mechanism"
	"grantmaster/internal/repo"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Registry *mechanism.Registry
	Blob     blob.Store
	Advisor  advisor.Reviewer
	Printer  export.Printer
	Style    export.Style
	Log      *zap.Logger
	Now      func() time.Time
}

// New wires an engine with disabled optional collaborators. Callers replace
// Blob, Advisor, Printer and Log as configured.
func New(conn *sql.DB, dialect db.Dialect, reg *mechanism.Registry) Engine {
	return Engine{
		DB:       conn,
		Repo:     repo.Repo{DB: conn, Dialect: dialect},
		Events:   events.Writer{Dialect: dialect},
		Registry: reg,
		Advisor:  advisor.Disabled{},
		Printer:  export.DisabledPrinter{},
		Log:      zap.NewNop(),
		Now:      time.Now,
	}
}

// InputError reports invalid caller input.
type InputError struct {
	Msg string
}

func (e InputError) Error() string { return e.Msg }

func inputErrorf(format string, args ...any) error {
	return InputError{Msg: fmt.Sprintf(format, args...)}
}

// IsInputError reports whether err is caused by invalid input.
func IsInputError(err error) bool {
	var ie InputError
	return errors.As(err, &ie)
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}

// owned loads an application and checks the actor owns it.
func (e Engine) owned(ctx context.Context, applicationID, actorID string) (domain.Application, error) {
	a, err := e.Repo.GetApplication(ctx, applicationID)
	if err != nil {
		return domain.Application{}, err
	}
	if err := auth.RequireOwner(actorID, a.OwnerID, "application", a.ID); err != nil {
		return domain.Application{}, err
	}
	return a, nil
}

// CreateApplicationOptions are parameters for instantiating an application
// from a mechanism template.
type CreateApplicationOptions struct {
	Title                 string
	Mechanism             string
	PrincipalInvestigator string
	Institution           string
	ActorID               string
}

// CreateApplication creates the application with one section per section
// template and one pending attachment per attachment template.
func (e Engine) CreateApplication(ctx context.Context, opts CreateApplicationOptions) (domain.ApplicationDetail, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.ApplicationDetail{}, inputErrorf("title is required")
	}
	if opts.ActorID == "" {
		return domain.ApplicationDetail{}, auth.ErrNoActor
	}
	mech, ok := e.Registry.Lookup(opts.Mechanism)
	if !ok {
		return domain.ApplicationDetail{}, inputErrorf("unknown mechanism %q", opts.Mechanism)
	}
	now := e.timestamp()
	if err := e.Repo.EnsureUser(ctx, domain.User{ID: opts.ActorID, CreatedAt: now}); err != nil {
		return domain.ApplicationDetail{}, fmt.Errorf("ensure user: %w", err)
	}

	app := domain.Application{
		ID:                    uuid.NewString(),
		Title:                 title,
		Mechanism:             mech.ID,
		Status:                domain.StatusDraft,
		OwnerID:               opts.ActorID,
		PrincipalInvestigator: strings.TrimSpace(opts.PrincipalInvestigator),
		Institution:           strings.TrimSpace(opts.Institution),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ApplicationDetail{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertApplicationTx(ctx, tx, app); err != nil {
		return domain.ApplicationDetail{}, fmt.Errorf("insert application: %w", err)
	}
	for i, sc := range mech.Sections {
		s := domain.Section{
			ID:               uuid.NewString(),
			ApplicationID:    app.ID,
			Type:             sc.Type,
			Title:            sc.Title,
			PageLimit:        sc.PageLimit,
			RequiredHeadings: append([]string(nil), sc.RequiredHeadings...),
			IsValid:          true,
			Order:            i,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := e.Repo.InsertSectionTx(ctx, tx, s); err != nil {
			return domain.ApplicationDetail{}, fmt.Errorf("insert section %s: %w", sc.Type, err)
		}
	}
	for i, ac := range mech.Attachments {
		a := domain.Attachment{
			ID:            uuid.NewString(),
			ApplicationID: app.ID,
			Name:          ac.Name,
			Required:      ac.Required,
			Status:        domain.AttachmentPending,
			Order:         i,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := e.Repo.InsertAttachmentTx(ctx, tx, a); err != nil {
			return domain.ApplicationDetail{}, fmt.Errorf("insert attachment %s: %w", ac.Name, err)
		}
	}
	if err := e.Events.Append(ctx, tx, events.ApplicationCreated, app.ID, "application", app.ID, opts.ActorID,
		events.EventPayload{"mechanism": app.Mechanism, "title": app.Title}); err != nil {
		return domain.ApplicationDetail{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ApplicationDetail{}, err
	}
	return e.detail(ctx, app)
}

// GetApplication returns the application with its sections and attachments.
func (e Engine) GetApplication(ctx context.Context, id, actorID string) (domain.ApplicationDetail, error) {
	app, err := e.owned(ctx, id, actorID)
	if err != nil {
		return domain.ApplicationDetail{}, err
	}
	return e.detail(ctx, app)
}

func (e Engine) detail(ctx context.Context, app domain.Application) (domain.ApplicationDetail, error) {
	sections, err := e.Repo.ListSections(ctx, app.ID)
	if err != nil {
		return domain.ApplicationDetail{}, err
	}
	attachments, err := e.Repo.ListAttachments(ctx, app.ID)
	if err != nil {
		return domain.ApplicationDetail{}, err
	}
	return domain.ApplicationDetail{Application: app, Sections: sections, Attachments: attachments}, nil
}

type ListApplicationsOptions struct {
	ActorID string
	Status  string
	Limit   int
	// Cursor is the created_at|id of the last item of the previous page.
	Cursor string
}

// ListApplications lists the actor's applications, newest first. The
// returned cursor is empty on the last page.
func (e Engine) ListApplications(ctx context.Context, opts ListApplicationsOptions) ([]domain.Application, string, error) {
	if opts.ActorID == "" {
		return nil, "", auth.ErrNoActor
	}
	if opts.Status != "" && !domain.ValidApplicationStatus(opts.Status) {
		return nil, "", inputErrorf("unknown status %q", opts.Status)
	}
	f := repo.ApplicationFilters{OwnerID: opts.ActorID, Status: opts.Status, Limit: opts.Limit}
	if opts.Cursor != "" {
		createdAt, id, ok := strings.Cut(opts.Cursor, "|")
		if !ok || createdAt == "" || id == "" {
			return nil, "", inputErrorf("invalid cursor")
		}
		f.CursorCreatedAt, f.CursorID = createdAt, id
	}
	apps, err := e.Repo.ListApplications(ctx, f)
	if err != nil {
		return nil, "", err
	}
	next := ""
	if opts.Limit > 0 && len(apps) == opts.Limit {
		last := apps[len(apps)-1]
		next = last.CreatedAt + "|" + last.ID
	}
	return apps, next, nil
}

type UpdateApplicationOptions struct {
	ID                    string
	Title                 *string
	Status                *string
	PrincipalInvestigator *string
	Institution           *string
	ActorID               string
}

func (e Engine) UpdateApplication(ctx context.Context, opts UpdateApplicationOptions) (domain.Application, error) {
	if opts.Title != nil && strings.TrimSpace(*opts.Title) == "" {
		return domain.Application{}, inputErrorf("title cannot be empty")
	}
	if opts.Status != nil && !domain.ValidApplicationStatus(*opts.Status) {
		return domain.Application{}, inputErrorf("unknown status %q", *opts.Status)
	}
	app, err := e.owned(ctx, opts.ID, opts.ActorID)
	if err != nil {
		return domain.Application{}, err
	}
	u := repo.ApplicationUpdate{
		Title:                 opts.Title,
		Status:                opts.Status,
		PrincipalInvestigator: opts.PrincipalInvestigator,
		Institution:           opts.Institution,
		UpdatedAt:             e.timestamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Application{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateApplicationTx(ctx, tx, app.ID, u); err != nil {
		return domain.Application{}, err
	}
	payload := events.EventPayload{}
	if opts.Status != nil {
		payload["status"] = *opts.Status
	}
	if opts.Title != nil {
		payload["title"] = *opts.Title
	}
	if err := e.Events.Append(ctx, tx, events.ApplicationUpdated, app.ID, "application", app.ID, opts.ActorID, payload); err != nil {
		return domain.Application{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Application{}, err
	}
	return e.Repo.GetApplication(ctx, app.ID)
}

// DeleteApplication removes the application and everything it owns.
func (e Engine) DeleteApplication(ctx context.Context, id, actorID string) error {
	app, err := e.owned(ctx, id, actorID)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteApplication(ctx, app.ID); err != nil {
		return err
	}
	e.logger().Info("application deleted", zap.String("application_id", app.ID), zap.String("actor_id", actorID))
	return nil
}

// ListEvents lists an application's audit events after afterID.
func (e Engine) ListEvents(ctx context.Context, applicationID, actorID string, afterID int64, limit int) ([]domain.Event, error) {
	if _, err := e.owned(ctx, applicationID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListEvents(ctx, applicationID, afterID, limit)
}
