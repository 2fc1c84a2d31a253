package store

import (
	"context"
	"fmt"
)

// WriteRoom inserts a room record unless one with the same room_id exists.
// Uses ON CONFLICT(room_id) DO NOTHING: rooms are write-once, so a duplicate
// is a benign no-op and the existing metadata is left untouched.
// Returns inserted=false for the duplicate case.
func (s *Store) WriteRoom(ctx context.Context, room Room) (inserted bool, err error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms
		(room_id, display_name, topic, retrieval_ts)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(room_id) DO NOTHING
	`,
		room.RoomID,
		room.DisplayName,
		room.Topic,
		room.RetrievalTS,
	)
	if err != nil {
		return false, fmt.Errorf("write room: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write room: rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// WriteMember inserts a membership record unless the (room_id, user_id)
// pair exists. Write-once: the duplicate case never updates the stored
// display name or avatar.
//
// Note: The room referenced by RoomID must exist (foreign key constraint);
// the orchestrator writes the room before its members.
func (s *Store) WriteMember(ctx context.Context, member Member) (inserted bool, err error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO members
		(room_id, user_id, display_name, avatar_url, retrieval_ts)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(room_id, user_id) DO NOTHING
	`,
		member.RoomID,
		member.UserID,
		member.DisplayName,
		member.AvatarURL,
		member.RetrievalTS,
	)
	if err != nil {
		return false, fmt.Errorf("write member: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write member: rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// WriteDevice inserts a device record unless the (user_id, device_id) pair
// exists. Rediscovery on a later run is a no-op.
func (s *Store) WriteDevice(ctx context.Context, device Device) (inserted bool, err error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO devices
		(user_id, device_id, display_name, last_seen_ts, last_seen_ip, retrieval_ts)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, device_id) DO NOTHING
	`,
		device.UserID,
		device.DeviceID,
		device.DisplayName,
		device.LastSeenTS,
		device.LastSeenIP,
		device.RetrievalTS,
	)
	if err != nil {
		return false, fmt.Errorf("write device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write device: rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// WriteEvent inserts a single event record. Uses ON CONFLICT(event_id)
// DO NOTHING: events are immutable and globally unique, so replaying an
// already-archived event is a benign no-op.
//
// Note: The room referenced by RoomID must exist (foreign key constraint).
func (s *Store) WriteEvent(ctx context.Context, event Event) (inserted bool, err error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO events
		(event_id, room_id, sender, type, content, origin_server_ts, raw, retrieval_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`,
		event.EventID,
		event.RoomID,
		event.Sender,
		event.Type,
		event.Content,
		event.OriginServerTS,
		event.Raw,
		event.RetrievalTS,
	)
	if err != nil {
		return false, fmt.Errorf("write event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write event: rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// WriteEvents inserts a batch of events in one transaction, preserving the
// slice order. Returns how many rows were actually inserted (duplicates are
// skipped by ON CONFLICT, not counted, and never updated).
//
// One pagination batch = one transaction: a crash mid-run loses at most the
// current batch, never previously committed ones.
func (s *Store) WriteEvents(ctx context.Context, events []Event) (inserted int, err error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("write events: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, event := range events {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO events
			(event_id, room_id, sender, type, content, origin_server_ts, raw, retrieval_ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(event_id) DO NOTHING
		`,
			event.EventID,
			event.RoomID,
			event.Sender,
			event.Type,
			event.Content,
			event.OriginServerTS,
			event.Raw,
			event.RetrievalTS,
		)
		if err != nil {
			return 0, fmt.Errorf("write events: insert %s: %w", event.EventID, err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("write events: rows affected: %w", err)
		}
		if rowsAffected > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("write events: commit: %w", err)
	}

	return inserted, nil
}

// UpsertAttachment writes an attachment row keyed by its content reference.
// Attachments are the one mutable entity kind:
//
//   - No existing row: insert as given, AttachmentInserted.
//   - Existing row already cached: leave it completely untouched,
//     AttachmentUnchanged. A cached row is never downgraded, which also
//     closes the lost-update race between two concurrent fetches of the
//     same reference.
//   - Existing row not cached: always overwrite last_fetch_status and
//     last_fetch_ts; overwrite data (and the metadata that came with it)
//     only when the incoming fetch succeeded. AttachmentUpdated.
//
// The insert-or-update decision runs in a single transaction on the store's
// single writer connection, so concurrent upserts to one key serialize.
func (s *Store) UpsertAttachment(ctx context.Context, att Attachment) (AttachmentWrite, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return AttachmentUnchanged, fmt.Errorf("upsert attachment: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO attachments
		(fetch_url_matrix, fetch_url_http, filename, size, mime_type,
		 is_image, is_cached, data, last_fetch_status, last_fetch_ts, retrieval_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fetch_url_matrix) DO NOTHING
	`,
		att.FetchURLMatrix,
		att.FetchURLHTTP,
		att.Filename,
		att.Size,
		att.MimeType,
		att.IsImage,
		att.IsCached,
		att.Data,
		att.LastFetchStatus,
		att.LastFetchTS,
		att.RetrievalTS,
	)
	if err != nil {
		return AttachmentUnchanged, fmt.Errorf("upsert attachment: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return AttachmentUnchanged, fmt.Errorf("upsert attachment: rows affected: %w", err)
	}

	if rowsAffected > 0 {
		if err := tx.Commit(); err != nil {
			return AttachmentUnchanged, fmt.Errorf("upsert attachment: commit: %w", err)
		}
		return AttachmentInserted, nil
	}

	// Conflict - a row exists for this content reference.
	var cached bool
	err = tx.QueryRowContext(ctx, `
		SELECT is_cached FROM attachments WHERE fetch_url_matrix = ?
	`, att.FetchURLMatrix).Scan(&cached)
	if err != nil {
		return AttachmentUnchanged, fmt.Errorf("upsert attachment: select existing: %w", err)
	}

	if cached {
		if err := tx.Commit(); err != nil {
			return AttachmentUnchanged, fmt.Errorf("upsert attachment: commit (cached): %w", err)
		}
		return AttachmentUnchanged, nil
	}

	if att.IsCached {
		// A later fetch succeeded: store the bytes and refresh the metadata
		// that arrived with them.
		_, err = tx.ExecContext(ctx, `
			UPDATE attachments
			SET fetch_url_http = ?, filename = ?, size = ?, mime_type = ?,
			    is_image = ?, is_cached = 1, data = ?,
			    last_fetch_status = ?, last_fetch_ts = ?
			WHERE fetch_url_matrix = ?
		`,
			att.FetchURLHTTP,
			att.Filename,
			att.Size,
			att.MimeType,
			att.IsImage,
			att.Data,
			att.LastFetchStatus,
			att.LastFetchTS,
			att.FetchURLMatrix,
		)
	} else {
		// Still failing: record the attempt, keep whatever data state exists.
		_, err = tx.ExecContext(ctx, `
			UPDATE attachments
			SET last_fetch_status = ?, last_fetch_ts = ?
			WHERE fetch_url_matrix = ?
		`,
			att.LastFetchStatus,
			att.LastFetchTS,
			att.FetchURLMatrix,
		)
	}
	if err != nil {
		return AttachmentUnchanged, fmt.Errorf("upsert attachment: update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return AttachmentUnchanged, fmt.Errorf("upsert attachment: commit: %w", err)
	}
	return AttachmentUpdated, nil
}
