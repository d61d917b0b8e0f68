package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tiger/discharge-followup/api/calls"
)

type scanner interface {
	Scan(dest ...any) error
}

// InsertPatient stores a new patient.
func (s *Store) InsertPatient(ctx context.Context, p calls.Patient) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO patients (id, name, phone, mrn, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Phone, p.MRN, formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert patient: %w", err)
	}
	return nil
}

// Patient returns calls.ErrNotFound when id is unknown.
func (s *Store) Patient(ctx context.Context, id string) (calls.Patient, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, phone, mrn, created_at FROM patients WHERE id = ?`, id)
	p, err := scanPatient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return calls.Patient{}, fmt.Errorf("patient %s: %w", id, calls.ErrNotFound)
	}
	return p, err
}

// ListPatients returns patients newest first.
func (s *Store) ListPatients(ctx context.Context) ([]calls.Patient, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, phone, mrn, created_at FROM patients ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query patients: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]calls.Patient, 0)
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPatient(row scanner) (calls.Patient, error) {
	var p calls.Patient
	var createdAt string
	if err := row.Scan(&p.ID, &p.Name, &p.Phone, &p.MRN, &createdAt); err != nil {
		return calls.Patient{}, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return calls.Patient{}, err
	}
	p.CreatedAt = t
	return p, nil
}

const callColumns = `id, patient_id, telephony_provider, provider_call_id, status, recording_url,
	transcript, transcript_status, created_at, completed_at`

// InsertCall stores a new call.
func (s *Store) InsertCall(ctx context.Context, c calls.Call) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO calls (`+callColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.PatientID, c.TelephonyProvider, nullString(c.ProviderCallID), string(c.Status),
		nullString(c.RecordingURL), nullString(c.Transcript), string(c.TranscriptStatus),
		formatTime(c.CreatedAt), nullTime(c.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to insert call: %w", err)
	}
	return nil
}

// Call returns calls.ErrNotFound when id is unknown.
func (s *Store) Call(ctx context.Context, id string) (calls.Call, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE id = ?`, id)
	c, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return calls.Call{}, fmt.Errorf("call %s: %w", id, calls.ErrNotFound)
	}
	return c, err
}

// CallByProviderID resolves a telephony call identifier.
func (s *Store) CallByProviderID(ctx context.Context, providerCallID string) (calls.Call, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE provider_call_id = ? ORDER BY created_at DESC LIMIT 1`, providerCallID)
	c, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return calls.Call{}, fmt.Errorf("provider call %s: %w", providerCallID, calls.ErrNotFound)
	}
	return c, err
}

// ListCalls returns calls newest first.
func (s *Store) ListCalls(ctx context.Context) ([]calls.Call, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+callColumns+` FROM calls ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query calls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]calls.Call, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateCall applies fn to the stored call inside one transaction so no concurrent
// reader observes a partial write. An error from fn aborts without writing.
func (s *Store) UpdateCall(ctx context.Context, id string, fn func(*calls.Call) error) (calls.Call, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return calls.Call{}, fmt.Errorf("failed to begin call update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	c, err := scanCall(tx.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return calls.Call{}, fmt.Errorf("call %s: %w", id, calls.ErrNotFound)
	}
	if err != nil {
		return calls.Call{}, err
	}
	if err := fn(&c); err != nil {
		return calls.Call{}, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE calls SET provider_call_id = ?, status = ?, recording_url = ?, transcript = ?,
			transcript_status = ?, completed_at = ?
		WHERE id = ?`,
		nullString(c.ProviderCallID), string(c.Status), nullString(c.RecordingURL), nullString(c.Transcript),
		string(c.TranscriptStatus), nullTime(c.CompletedAt), c.ID)
	if err != nil {
		return calls.Call{}, fmt.Errorf("failed to update call: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return calls.Call{}, fmt.Errorf("failed to commit call update: %w", err)
	}
	return c, nil
}

func scanCall(row scanner) (calls.Call, error) {
	var c calls.Call
	var providerCallID, recordingURL, transcript, completedAt sql.NullString
	var status, transcriptStatus, createdAt string
	if err := row.Scan(&c.ID, &c.PatientID, &c.TelephonyProvider, &providerCallID, &status, &recordingURL,
		&transcript, &transcriptStatus, &createdAt, &completedAt); err != nil {
		return calls.Call{}, err
	}
	c.ProviderCallID = providerCallID.String
	c.Status = calls.Status(status)
	c.RecordingURL = recordingURL.String
	c.Transcript = transcript.String
	c.TranscriptStatus = calls.TranscriptStatus(transcriptStatus)
	t, err := parseTime(createdAt)
	if err != nil {
		return calls.Call{}, err
	}
	c.CreatedAt = t
	if completedAt.Valid {
		done, err := parseTime(completedAt.String)
		if err != nil {
			return calls.Call{}, err
		}
		c.CompletedAt = &done
	}
	return c, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// InsertCostItem appends an immutable cost item.
func (s *Store) InsertCostItem(ctx context.Context, item calls.CostItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cost_items (id, call_id, category, provider, units, unit_cost, total_cost, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.CallID, string(item.Category), item.Provider,
		item.Units.String(), item.UnitCost.String(), item.TotalCost.String(), formatTime(item.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert cost item: %w", err)
	}
	return nil
}

// CostItems lists a call's items in insertion order.
func (s *Store) CostItems(ctx context.Context, callID string) ([]calls.CostItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, call_id, category, provider, units, unit_cost, total_cost, created_at
		FROM cost_items WHERE call_id = ? ORDER BY seq`, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cost items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]calls.CostItem, 0)
	for rows.Next() {
		var item calls.CostItem
		var category, units, unitCost, totalCost, createdAt string
		if err := rows.Scan(&item.ID, &item.CallID, &category, &item.Provider, &units, &unitCost, &totalCost, &createdAt); err != nil {
			return nil, err
		}
		item.Category = calls.CostCategory(category)
		if item.Units, err = decimal.NewFromString(units); err != nil {
			return nil, fmt.Errorf("parse units: %w", err)
		}
		if item.UnitCost, err = decimal.NewFromString(unitCost); err != nil {
			return nil, fmt.Errorf("parse unit cost: %w", err)
		}
		if item.TotalCost, err = decimal.NewFromString(totalCost); err != nil {
			return nil, fmt.Errorf("parse total cost: %w", err)
		}
		if item.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// Settings returns the stored settings, or the zero value when none were saved.
func (s *Store) Settings(ctx context.Context) (calls.ProviderSettings, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM settings WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return calls.ProviderSettings{}, nil
	}
	if err != nil {
		return calls.ProviderSettings{}, fmt.Errorf("failed to read settings: %w", err)
	}
	var out calls.ProviderSettings
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return calls.ProviderSettings{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	return out, nil
}

// SaveSettings replaces the single settings record.
func (s *Store) SaveSettings(ctx context.Context, settings calls.ProviderSettings) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (id, payload, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		string(payload), formatTime(settings.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// Claim records (callID, recordingURL) and reports whether this was the first claim.
func (s *Store) Claim(ctx context.Context, callID, recordingURL string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO webhook_dedupe (call_id, recording_url, claimed_at) VALUES (?, ?, ?)`,
		callID, recordingURL, formatTime(time.Now()))
	if err != nil {
		return false, fmt.Errorf("failed to claim dedupe key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim dedupe key: %w", err)
	}
	return n == 1, nil
}

// Release forgets a claim so a redelivered event can trigger again.
func (s *Store) Release(ctx context.Context, callID, recordingURL string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM webhook_dedupe WHERE call_id = ? AND recording_url = ?`, callID, recordingURL)
	if err != nil {
		return fmt.Errorf("failed to release dedupe key: %w", err)
	}
	return nil
}
