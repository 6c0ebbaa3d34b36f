package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"grantmaster/internal/advisor"
	"grantmaster/internal/compliance"
	"grantmaster/internal/domain"
	"grantmaster/internal/events"
)

type SaveSectionOptions struct {
	ApplicationID string
	// SectionID is a section id or section type.
	SectionID string
	Content   string
	ActorID   string
}

type SectionSaveResult struct {
	Section domain.Section
	Issues  []compliance.Issue
}

// SaveSection stores new content and recomputes page count, validity and
// completeness. Concurrent saves are last-write-wins.
func (e Engine) SaveSection(ctx context.Context, opts SaveSectionOptions) (SectionSaveResult, error) {
	app, err := e.owned(ctx, opts.ApplicationID, opts.ActorID)
	if err != nil {
		return SectionSaveResult{}, err
	}
	s, err := e.Repo.GetSection(ctx, app.ID, opts.SectionID)
	if err != nil {
		return SectionSaveResult{}, err
	}
	issues := compliance.ValidateSection(compliance.SectionInput{
		ID:               s.ID,
		Title:            s.Title,
		Content:          opts.Content,
		PageLimit:        s.PageLimit,
		RequiredHeadings: s.RequiredHeadings,
	})
	s.Content = opts.Content
	s.PageCount = compliance.EstimatePageCount(opts.Content)
	s.IsValid = compliance.CanExport(issues)
	s.IsComplete = strings.TrimSpace(opts.Content) != "" && s.IsValid
	s.UpdatedAt = e.timestamp()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return SectionSaveResult{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateSectionTx(ctx, tx, s); err != nil {
		return SectionSaveResult{}, fmt.Errorf("update section: %w", err)
	}
	if err := e.Repo.TouchApplicationTx(ctx, tx, app.ID, s.UpdatedAt); err != nil {
		return SectionSaveResult{}, err
	}
	if err := e.Events.Append(ctx, tx, events.SectionSaved, app.ID, "section", s.ID, opts.ActorID, events.EventPayload{
		"pageCount": s.PageCount,
		"isValid":   s.IsValid,
		"issues":    len(issues),
	}); err != nil {
		return SectionSaveResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return SectionSaveResult{}, err
	}
	return SectionSaveResult{Section: s, Issues: issues}, nil
}

// ListSections returns an application's sections in template order.
func (e Engine) ListSections(ctx context.Context, applicationID, actorID string) ([]domain.Section, error) {
	if _, err := e.owned(ctx, applicationID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListSections(ctx, applicationID)
}

type ReviewSectionOptions struct {
	ApplicationID string
	SectionID     string
	Kind          string
	ActorID       string
}

// ReviewSection asks the advisor for a best-effort assessment and stores it on
// the section. Validity and completeness are never changed.
func (e Engine) ReviewSection(ctx context.Context, opts ReviewSectionOptions) (domain.Review, error) {
	kind, err := advisor.ParseKind(opts.Kind)
	if err != nil {
		return domain.Review{}, InputError{Msg: err.Error()}
	}
	app, err := e.owned(ctx, opts.ApplicationID, opts.ActorID)
	if err != nil {
		return domain.Review{}, err
	}
	s, err := e.Repo.GetSection(ctx, app.ID, opts.SectionID)
	if err != nil {
		return domain.Review{}, err
	}
	if strings.TrimSpace(s.Content) == "" {
		return domain.Review{}, inputErrorf("section %q is empty", s.Title)
	}
	advice, err := e.Advisor.Review(ctx, advisor.Request{Kind: kind, SectionTitle: s.Title, Content: s.Content})
	if err != nil {
		if !errors.Is(err, advisor.ErrDisabled) {
			e.logger().Error("advisor review failed", zap.String("section_id", s.ID), zap.Error(err))
		}
		return domain.Review{}, fmt.Errorf("review section: %w", err)
	}
	rv := domain.Review{
		Kind:       string(advice.Kind),
		Score:      advice.Score,
		Min:        advice.Min,
		Max:        advice.Max,
		Rationale:  advice.Rationale,
		ReviewedAt: e.timestamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Review{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateSectionReviewTx(ctx, tx, s.ID, rv); err != nil {
		return domain.Review{}, err
	}
	if err := e.Events.Append(ctx, tx, events.SectionReviewed, app.ID, "section", s.ID, opts.ActorID,
		events.EventPayload{"kind": rv.Kind, "score": rv.Score}); err != nil {
		return domain.Review{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Review{}, err
	}
	return rv, nil
}
