// Package store provides SQLite-backed durable storage for the archive.
//
// Five tables, one per archived entity kind:
//   - Rooms: room metadata snapshots (write-once, keyed room_id)
//   - Members: membership records (write-once, keyed room_id+user_id)
//   - Devices: session devices (write-once, keyed user_id+device_id)
//   - Events: timeline events with the raw payload (immutable, keyed event_id)
//   - Attachments: inline binaries (mutable per fetch outcome, keyed by the
//     opaque content reference)
//
// # Write Discipline
//
// Every write is an upsert keyed by the entity's natural key:
//   - Write-once kinds use INSERT ... ON CONFLICT DO NOTHING and report
//     inserted-ness via RowsAffected, so a re-run against unchanged remote
//     data produces zero new rows.
//   - Attachments use a transactional conditional update: data is only ever
//     overwritten by a successful fetch, fetch status is always refreshed,
//     and a cached row is never downgraded.
//
// Event batches commit in a single transaction (one pagination batch = one
// transaction), so a crash never corrupts previously committed batches.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: events/members require their room row
//   - Single writer connection: serializes concurrent upserts when rooms are
//     archived in parallel
//
// Timestamps are stored as ISO-8601 UTC text at millisecond precision; the
// fixed width keeps lexicographic ORDER BY chronological.
package store
