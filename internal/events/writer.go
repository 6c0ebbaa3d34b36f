package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"grantmaster/internal/db"
)

// Event types.
const (
	ApplicationCreated   = "application.created"
	ApplicationUpdated   = "application.updated"
	SectionSaved         = "section.saved"
	SectionReviewed      = "section.reviewed"
	AttachmentUpdated    = "attachment.updated"
	AttachmentUploaded   = "attachment.uploaded"
	ApplicationValidated = "application.validated"
	PackageExported      = "package.exported"
)

type Writer struct {
	Dialect db.Dialect
	Now     func() time.Time
}

type EventPayload map[string]any

// Append records an event inside the caller's transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, applicationID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, db.Rebind(w.Dialect, `INSERT INTO events(ts,type,application_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`),
		ts, evtType, nullable(applicationID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
