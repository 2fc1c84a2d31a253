// Package harness runs end-to-end archival scenarios against a scripted
// homeserver.
//
// A scenario is a YAML fixture describing the remote side (rooms, rosters,
// topics, event history, media objects, injected failures) plus a sequence
// of archival runs, each optionally mutating the remote first (appending
// events, healing failed media). The harness executes the real engine over
// the real SQLite store (in memory) with a frozen clock and fixed run
// tokens, so every execution produces the same transcript.
//
// Per-run expectations declared in the scenario are checked during
// execution; the full transcript (run reports plus final store state) is
// compared against golden files with goldie:
//
//	go test ./internal/harness -update
//
// regenerates the goldens after an intentional behavior change.
package harness
