package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RecentEventIDs returns the event IDs of the newest limit events archived
// for a room, ordered by origin_server_ts descending. This is the
// known-recent window the frontier detector compares incoming batches
// against.
//
// Returns an empty slice (not nil) for a room with no archived events.
func (s *Store) RecentEventIDs(ctx context.Context, roomID string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id
		FROM events
		WHERE room_id = ?
		ORDER BY origin_server_ts DESC, id DESC
		LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent event ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan event id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event ids: %w", err)
	}

	if ids == nil {
		ids = []string{}
	}

	return ids, nil
}

// GetAttachment retrieves an attachment row by its content reference.
// Returns (nil, nil) when no row exists; the fetcher uses that to decide
// between a fresh download and a skip.
func (s *Store) GetAttachment(ctx context.Context, fetchURLMatrix string) (*Attachment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT fetch_url_matrix, fetch_url_http, filename, size, mime_type,
		       is_image, is_cached, data, last_fetch_status, last_fetch_ts, retrieval_ts
		FROM attachments
		WHERE fetch_url_matrix = ?
	`, fetchURLMatrix)

	var att Attachment
	err := row.Scan(
		&att.FetchURLMatrix, &att.FetchURLHTTP, &att.Filename, &att.Size, &att.MimeType,
		&att.IsImage, &att.IsCached, &att.Data, &att.LastFetchStatus, &att.LastFetchTS,
		&att.RetrievalTS,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get attachment: %w", err)
	}

	return &att, nil
}

// RoomSummaries returns one aggregate row per archived room, ordered by
// room_id for deterministic output.
func (s *Store) RoomSummaries(ctx context.Context) ([]RoomSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.room_id, r.display_name,
		       (SELECT COUNT(*) FROM events e WHERE e.room_id = r.room_id),
		       (SELECT COUNT(*) FROM members m WHERE m.room_id = r.room_id)
		FROM rooms r
		ORDER BY r.room_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query room summaries: %w", err)
	}
	defer rows.Close()

	var summaries []RoomSummary
	for rows.Next() {
		var sum RoomSummary
		if err := rows.Scan(&sum.RoomID, &sum.DisplayName, &sum.Events, &sum.Members); err != nil {
			return nil, fmt.Errorf("scan room summary: %w", err)
		}
		summaries = append(summaries, sum)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate room summaries: %w", err)
	}

	if summaries == nil {
		summaries = []RoomSummary{}
	}

	return summaries, nil
}

// AttachmentCacheStats aggregates the attachment table: totals, cache hit
// state, and how many bytes are held inline.
func (s *Store) AttachmentCacheStats(ctx context.Context) (AttachmentStats, error) {
	var stats AttachmentStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(is_cached), 0),
		       COALESCE(SUM(CASE WHEN is_cached = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN is_cached = 1 THEN LENGTH(data) ELSE 0 END), 0)
		FROM attachments
	`).Scan(&stats.Total, &stats.Cached, &stats.Pending, &stats.CachedBytes)
	if err != nil {
		return AttachmentStats{}, fmt.Errorf("query attachment stats: %w", err)
	}
	return stats, nil
}

// CountDevices returns the number of archived device records.
func (s *Store) CountDevices(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count devices: %w", err)
	}
	return count, nil
}

// CountEvents returns the number of archived events for a room.
func (s *Store) CountEvents(ctx context.Context, roomID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM events WHERE room_id = ?
	`, roomID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}
