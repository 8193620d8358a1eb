package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"recordline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// InsertEvent writes the event header row. Actions are appended separately.
func (r Repo) InsertEvent(ctx context.Context, tx *sql.Tx, doc domain.EventDocument) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO events(id,event_type,transaction_id,created_at,updated_at) VALUES (?,?,?,?,?)`,
		doc.ID, doc.Type, doc.TransactionID, doc.CreatedAt, doc.UpdatedAt)
	return err
}

// EventIDByTransaction resolves an event id from the creation transaction,
// the idempotency key for event creation.
func (r Repo) EventIDByTransaction(ctx context.Context, transactionID string) (string, error) {
	var id string
	err := r.DB.QueryRowContext(ctx, `SELECT id FROM events WHERE transaction_id=?`, transactionID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return id, err
}

// TouchEvent advances the event header's updated_at.
func (r Repo) TouchEvent(ctx context.Context, tx *sql.Tx, eventID, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE events SET updated_at=? WHERE id=?`, updatedAt, eventID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetEvent loads the full event document: header plus the complete action
// log in append order.
func (r Repo) GetEvent(ctx context.Context, id string) (domain.EventDocument, error) {
	var doc domain.EventDocument
	err := r.DB.QueryRowContext(ctx, `SELECT id,event_type,transaction_id,created_at,updated_at FROM events WHERE id=?`, id).
		Scan(&doc.ID, &doc.Type, &doc.TransactionID, &doc.CreatedAt, &doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return doc, ErrNotFound
	}
	if err != nil {
		return doc, err
	}
	doc.Actions, err = r.listActions(ctx, id)
	return doc, err
}

// ListEvents loads the full documents for the given event types, in header
// creation order. Empty eventTypes means all.
func (r Repo) ListEvents(ctx context.Context, eventTypes []string) ([]domain.EventDocument, error) {
	query := `SELECT id,event_type,transaction_id,created_at,updated_at FROM events`
	var args []any
	if len(eventTypes) > 0 {
		query += ` WHERE event_type IN (?` + strings.Repeat(",?", len(eventTypes)-1) + `)`
		for _, t := range eventTypes {
			args = append(args, t)
		}
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []domain.EventDocument
	for rows.Next() {
		var doc domain.EventDocument
		if err := rows.Scan(&doc.ID, &doc.Type, &doc.TransactionID, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range docs {
		docs[i].Actions, err = r.listActions(ctx, docs[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// NextSeq returns the next per-event sequence number. The sequence is the
// authoritative append order, ahead of createdAt wall-clock granularity.
func (r Repo) NextSeq(ctx context.Context, tx *sql.Tx, eventID string) (int64, error) {
	var seq int64
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM actions WHERE event_id=?`, eventID).Scan(&seq)
	return seq, err
}

// InsertAction appends one action to the event log.
func (r Repo) InsertAction(ctx context.Context, tx *sql.Tx, eventID string, seq int64, a domain.ActionDocument) error {
	declaration, err := marshalMap(a.Declaration)
	if err != nil {
		return fmt.Errorf("marshal declaration: %w", err)
	}
	annotation, err := marshalMap(a.Annotation)
	if err != nil {
		return fmt.Errorf("marshal annotation: %w", err)
	}
	var duplicates any
	if len(a.Duplicates) > 0 {
		b, err := json.Marshal(a.Duplicates)
		if err != nil {
			return err
		}
		duplicates = string(b)
	}
	trackingID := ""
	registrationNumber := a.RegistrationNumber
	if a.Identifiers != nil {
		trackingID = a.Identifiers.TrackingID
		if registrationNumber == "" {
			registrationNumber = a.Identifiers.RegistrationNumber
		}
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO actions(
id,event_id,seq,type,status,transaction_id,created_at,created_by,created_at_location,
declaration_json,annotation_json,assigned_to,registration_number,tracking_id,
request_id,original_action_id,duplicates_json,custom_type)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, eventID, seq, string(a.Type), string(a.Status), nullable(a.TransactionID),
		a.CreatedAt, a.CreatedBy, nullable(a.CreatedAtLocation),
		declaration, annotation, nullable(a.AssignedTo), nullable(registrationNumber),
		nullable(trackingID), nullable(a.RequestID), nullable(a.OriginalActionID),
		duplicates, nullable(a.CustomType))
	return err
}

// ActionByTransaction resolves a previously appended action by its
// idempotency key.
func (r Repo) ActionByTransaction(ctx context.Context, eventID, transactionID string) (domain.ActionDocument, error) {
	row := r.DB.QueryRowContext(ctx, actionSelect+` WHERE event_id=? AND transaction_id=?`, eventID, transactionID)
	a, err := scanAction(row)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

const actionSelect = `SELECT id,type,status,transaction_id,created_at,created_by,created_at_location,
declaration_json,annotation_json,assigned_to,registration_number,tracking_id,
request_id,original_action_id,duplicates_json,custom_type FROM actions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(row rowScanner) (domain.ActionDocument, error) {
	var a domain.ActionDocument
	var actionType, status string
	var transactionID, location, declaration, annotation, assignedTo sql.NullString
	var registrationNumber, trackingID, requestID, originalActionID, duplicates, customType sql.NullString
	err := row.Scan(&a.ID, &actionType, &status, &transactionID, &a.CreatedAt, &a.CreatedBy, &location,
		&declaration, &annotation, &assignedTo, &registrationNumber, &trackingID,
		&requestID, &originalActionID, &duplicates, &customType)
	if err != nil {
		return a, err
	}
	a.Type = domain.ActionType(actionType)
	a.Status = domain.ActionStatus(status)
	a.TransactionID = transactionID.String
	a.CreatedAtLocation = location.String
	a.AssignedTo = assignedTo.String
	a.RegistrationNumber = registrationNumber.String
	a.RequestID = requestID.String
	a.OriginalActionID = originalActionID.String
	a.CustomType = customType.String
	if trackingID.String != "" || (a.Type == domain.ActionRegister && registrationNumber.String != "") {
		a.Identifiers = &domain.Identifiers{
			TrackingID:         trackingID.String,
			RegistrationNumber: registrationNumber.String,
		}
	}
	if declaration.Valid && declaration.String != "" {
		if err := json.Unmarshal([]byte(declaration.String), &a.Declaration); err != nil {
			return a, fmt.Errorf("action %s declaration: %w", a.ID, err)
		}
	}
	if annotation.Valid && annotation.String != "" {
		if err := json.Unmarshal([]byte(annotation.String), &a.Annotation); err != nil {
			return a, fmt.Errorf("action %s annotation: %w", a.ID, err)
		}
	}
	if duplicates.Valid && duplicates.String != "" {
		if err := json.Unmarshal([]byte(duplicates.String), &a.Duplicates); err != nil {
			return a, fmt.Errorf("action %s duplicates: %w", a.ID, err)
		}
	}
	return a, nil
}

func (r Repo) listActions(ctx context.Context, eventID string) ([]domain.ActionDocument, error) {
	rows, err := r.DB.QueryContext(ctx, actionSelect+` WHERE event_id=? ORDER BY seq ASC`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var actions []domain.ActionDocument
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// LatestActions returns the most recent actions across all events, newest
// first, optionally filtered by event id and action type.
func (r Repo) LatestActions(ctx context.Context, limit int, eventID, actionType string) ([]domain.ActionDocument, error) {
	clauses := []string{"1=1"}
	var args []any
	if eventID != "" {
		clauses = append(clauses, "event_id=?")
		args = append(args, eventID)
	}
	if actionType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, actionType)
	}
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)
	query := actionSelect + ` WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, seq DESC LIMIT ?`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var actions []domain.ActionDocument
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func marshalMap(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
