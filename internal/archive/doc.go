// Package archive implements the incremental archival engine.
//
// One run mirrors the account's device list and every target room into
// the local store, downloading only what previous runs have not captured.
//
// ARCHITECTURE:
//
// Backward walk with frontier detection:
// A room's history is walked newest to oldest through an opaque
// pagination cursor (Paginator). The most recent stored event IDs form a
// known-recent window (Frontier); the first already-known ID in a batch
// marks where the walk has caught up with the previous run. The boundary
// batch is still processed whole, so fresh events sharing a batch with
// known ones are persisted before the walk stops.
//
// Write discipline:
// Every row is an upsert keyed by its natural unique key. Re-running
// against an unchanged source inserts nothing, and a run killed mid-room
// leaves committed batches valid. One pagination batch commits as one
// transaction.
//
// Attachment handling:
// Fetches are best-effort and recorded per content reference. A failure
// or ceiling rejection persists a status row with is_cached=false and is
// re-attempted on the next run that sees the reference. A cached row is
// never re-downloaded or downgraded.
//
// CRITICAL PATTERNS:
//
// Events for one room are persisted in paginator delivery order by a
// single goroutine. Rooms are independent and may fan out when jobs > 1;
// the frontier decision depends on batch order within a room, never
// across rooms.
//
// Room failures abandon only that room. Attachment failures abort
// nothing and become persisted status. Topic lookup failure records the
// topic as absent.
package archive
