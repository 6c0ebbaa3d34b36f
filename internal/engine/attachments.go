package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"grantmaster/internal/blob"
	"grantmaster/internal/domain"
	"grantmaster/internal/events"
)

// ErrNoBlobStore is returned by uploads when no blob store is configured.
var ErrNoBlobStore = errors.New("blob storage is not configured")

// ListAttachments returns an application's attachment slots.
func (e Engine) ListAttachments(ctx context.Context, applicationID, actorID string) ([]domain.Attachment, error) {
	if _, err := e.owned(ctx, applicationID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListAttachments(ctx, applicationID)
}

type UpdateAttachmentOptions struct {
	ApplicationID string
	AttachmentID  string
	Status        *string
	FileURL       *string
	ActorID       string
}

// UpdateAttachment changes an attachment's status or file URL. Setting a URL
// without a status marks the attachment uploaded.
func (e Engine) UpdateAttachment(ctx context.Context, opts UpdateAttachmentOptions) (domain.Attachment, error) {
	if opts.Status != nil && !domain.ValidAttachmentStatus(*opts.Status) {
		return domain.Attachment{}, inputErrorf("unknown attachment status %q", *opts.Status)
	}
	app, err := e.owned(ctx, opts.ApplicationID, opts.ActorID)
	if err != nil {
		return domain.Attachment{}, err
	}
	a, err := e.Repo.GetAttachment(ctx, app.ID, opts.AttachmentID)
	if err != nil {
		return domain.Attachment{}, err
	}
	if opts.FileURL != nil {
		if u := strings.TrimSpace(*opts.FileURL); u != "" {
			a.FileURL = &u
			a.Status = domain.AttachmentUploaded
		} else {
			a.FileURL = nil
			a.Status = domain.AttachmentPending
		}
	}
	if opts.Status != nil {
		a.Status = *opts.Status
	}
	return e.saveAttachment(ctx, app.ID, a, events.AttachmentUpdated, opts.ActorID)
}

type UploadAttachmentOptions struct {
	ApplicationID string
	AttachmentID  string
	Filename      string
	ContentType   string
	Body          io.Reader
	ActorID       string
}

// UploadAttachment stores the file in the blob store and marks the
// attachment uploaded.
func (e Engine) UploadAttachment(ctx context.Context, opts UploadAttachmentOptions) (domain.Attachment, error) {
	if e.Blob == nil {
		return domain.Attachment{}, ErrNoBlobStore
	}
	app, err := e.owned(ctx, opts.ApplicationID, opts.ActorID)
	if err != nil {
		return domain.Attachment{}, err
	}
	a, err := e.Repo.GetAttachment(ctx, app.ID, opts.AttachmentID)
	if err != nil {
		return domain.Attachment{}, err
	}
	name := opts.Filename
	if name == "" {
		name = a.Name
	}
	url, err := e.Blob.Put(ctx, blob.Key(app.ID, a.ID, name), opts.ContentType, opts.Body)
	if err != nil {
		e.logger().Error("blob upload failed", zap.String("attachment_id", a.ID), zap.Error(err))
		return domain.Attachment{}, fmt.Errorf("upload attachment: %w", err)
	}
	a.FileURL = &url
	a.Status = domain.AttachmentUploaded
	return e.saveAttachment(ctx, app.ID, a, events.AttachmentUploaded, opts.ActorID)
}

func (e Engine) saveAttachment(ctx context.Context, applicationID string, a domain.Attachment, evt, actorID string) (domain.Attachment, error) {
	a.UpdatedAt = e.timestamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Attachment{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateAttachmentTx(ctx, tx, a); err != nil {
		return domain.Attachment{}, err
	}
	if err := e.Repo.TouchApplicationTx(ctx, tx, applicationID, a.UpdatedAt); err != nil {
		return domain.Attachment{}, err
	}
	if err := e.Events.Append(ctx, tx, evt, applicationID, "attachment", a.ID, actorID,
		events.EventPayload{"name": a.Name, "status": a.Status}); err != nil {
		return domain.Attachment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Attachment{}, err
	}
	return a, nil
}
