package engine

import (
	"context"

	"github.com/google/uuid"

	"grantmaster/internal/compliance"
	"grantmaster/internal/domain"
	"grantmaster/internal/events"
)

// ValidateApplication runs the compliance check over the stored sections and
// attachments and persists the outcome as a snapshot.
func (e Engine) ValidateApplication(ctx context.Context, applicationID, actorID string) (domain.ValidationResult, error) {
	app, err := e.owned(ctx, applicationID, actorID)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	sections, err := e.Repo.ListSections(ctx, app.ID)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	attachments, err := e.Repo.ListAttachments(ctx, app.ID)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	report := compliance.ValidateApplication(e.Registry, app.Mechanism, sections, attachments)
	res := domain.ValidationResult{
		ID:            uuid.NewString(),
		ApplicationID: app.ID,
		IsValid:       report.IsValid,
		CanExport:     report.CanExport,
		Errors:        report.Errors(),
		Warnings:      report.Warnings(),
		CreatedBy:     actorID,
		CreatedAt:     e.timestamp(),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertValidationResultTx(ctx, tx, res); err != nil {
		return domain.ValidationResult{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ApplicationValidated, app.ID, "validation", res.ID, actorID, events.EventPayload{
		"canExport": res.CanExport,
		"errors":    len(res.Errors),
		"warnings":  len(res.Warnings),
	}); err != nil {
		return domain.ValidationResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ValidationResult{}, err
	}
	return res, nil
}

// LatestValidation returns the most recent persisted validation snapshot.
func (e Engine) LatestValidation(ctx context.Context, applicationID, actorID string) (domain.ValidationResult, error) {
	if _, err := e.owned(ctx, applicationID, actorID); err != nil {
		return domain.ValidationResult{}, err
	}
	return e.Repo.LatestValidationResult(ctx, applicationID)
}
