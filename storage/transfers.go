package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"chatroute/models"
)

// SaveTransfer inserts or updates the journal row of one invitation.
func (s *Store) SaveTransfer(record models.TransferRecord) error {
	if record.InvitationID == "" {
		return errors.New("invitation_id is required")
	}
	if record.RemoteParty == "" {
		return errors.New("remote_party is required")
	}
	if record.DataType == "" {
		record.DataType = models.DataFile
	}
	if err := validateDataType(record.DataType); err != nil {
		return err
	}
	if err := validateTransferState(record.State); err != nil {
		return err
	}
	if record.Network == "" {
		record.Network = models.NetworkStandard
	}
	now := nowUnixMilli()
	if record.CreatedAt == 0 {
		record.CreatedAt = now
	}
	if record.UpdatedAt == 0 {
		record.UpdatedAt = now
	}

	_, err := s.db.Exec(
		`INSERT INTO transfers (
			invitation_id,
			remote_party,
			data_type,
			filename,
			size,
			stream_handle,
			network,
			state,
			deferred,
			transferred,
			total,
			stored_path,
			reason,
			created_at,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(invitation_id) DO UPDATE SET
			state = excluded.state,
			deferred = excluded.deferred,
			transferred = excluded.transferred,
			total = excluded.total,
			stored_path = excluded.stored_path,
			reason = excluded.reason,
			updated_at = excluded.updated_at`,
		record.InvitationID,
		record.RemoteParty,
		string(record.DataType),
		record.Filename,
		record.Size,
		record.StreamHandle,
		string(record.Network),
		string(record.State),
		boolToInt(record.Deferred),
		record.Transferred,
		record.Total,
		nullString(record.StoredPath),
		nullString(record.Reason),
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert transfer %q: %w", record.InvitationID, err)
	}

	return nil
}

// UpdateTransferState changes only the state of a journaled invitation.
func (s *Store) UpdateTransferState(invitationID string, state models.TransferState) error {
	if invitationID == "" {
		return errors.New("invitation_id is required")
	}
	if err := validateTransferState(state); err != nil {
		return err
	}

	res, err := s.db.Exec(
		`UPDATE transfers
		SET state = ?, updated_at = ?
		WHERE invitation_id = ?`,
		string(state),
		nowUnixMilli(),
		invitationID,
	)
	if err != nil {
		return fmt.Errorf("update transfer state %q: %w", invitationID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for transfer state %q: %w", invitationID, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// GetTransfer fetches the journal row of one invitation.
func (s *Store) GetTransfer(invitationID string) (*models.TransferRecord, error) {
	row := s.db.QueryRow(
		`SELECT `+transferColumns+`
		FROM transfers
		WHERE invitation_id = ?`,
		invitationID,
	)

	record, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transfer %q: %w", invitationID, err)
	}
	return record, nil
}

// ListTransfers returns journaled invitations, newest first, optionally
// filtered by state.
func (s *Store) ListTransfers(states ...models.TransferState) ([]models.TransferRecord, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers`
	args := make([]any, 0, len(states))
	if len(states) > 0 {
		placeholders := make([]string, 0, len(states))
		for _, state := range states {
			if err := validateTransferState(state); err != nil {
				return nil, err
			}
			placeholders = append(placeholders, "?")
			args = append(args, string(state))
		}
		query += ` WHERE state IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY updated_at DESC, invitation_id ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	records := make([]models.TransferRecord, 0)
	for rows.Next() {
		record, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer row: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer rows: %w", err)
	}
	return records, nil
}

// AbandonOpenTransfers marks every non-terminal invitation left over from a
// previous run as aborted and returns how many were changed.
func (s *Store) AbandonOpenTransfers(reason string) (int64, error) {
	res, err := s.db.Exec(
		`UPDATE transfers
		SET state = ?, reason = ?, updated_at = ?
		WHERE state IN (?, ?, ?)`,
		string(models.TransferAborted),
		nullString(reason),
		nowUnixMilli(),
		string(models.TransferOffered),
		string(models.TransferAccepted),
		string(models.TransferActive),
	)
	if err != nil {
		return 0, fmt.Errorf("abandon open transfers: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for abandon transfers: %w", err)
	}
	return rowsAffected, nil
}

const transferColumns = `
			invitation_id,
			remote_party,
			data_type,
			filename,
			size,
			stream_handle,
			network,
			state,
			deferred,
			transferred,
			total,
			stored_path,
			reason,
			created_at,
			updated_at`

func scanTransfer(row scanner) (*models.TransferRecord, error) {
	var (
		record     models.TransferRecord
		dataType   string
		network    string
		state      string
		deferred   int
		storedPath sql.NullString
		reason     sql.NullString
	)
	if err := row.Scan(
		&record.InvitationID,
		&record.RemoteParty,
		&dataType,
		&record.Filename,
		&record.Size,
		&record.StreamHandle,
		&network,
		&state,
		&deferred,
		&record.Transferred,
		&record.Total,
		&storedPath,
		&reason,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return nil, err
	}
	record.DataType = models.DataType(dataType)
	record.Network = models.NetworkType(network)
	record.State = models.TransferState(state)
	record.Deferred = deferred == 1
	record.StoredPath = storedPath.String
	record.Reason = reason.String
	return &record, nil
}
