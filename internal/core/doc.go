// Package core turns an uploaded access log into an onion model.
//
// It holds everything between the transport and the engine: column mapping,
// CSV loading, classification resolution, snapshot persistence, and the
// [Service] that runs them in order. The onion engine itself lives in
// package onion and the graph/stats projection in package graph.
//
// # Pipeline
//
// A run ([Service.Run]) proceeds as:
//
//  1. Acquire a slot from the [RunLimiter] and assign a run id and version.
//  2. Read the file (size-limited, UTF-8 decoded, BOM stripped). If no
//     mapping was supplied, look one up by [HeaderSignature].
//  3. Concurrently load the [EventTable] and resolve the
//     [ClassificationBundle] from the submission and the latest snapshot.
//  4. Compute the onion model and assemble the graph and stats.
//  5. Persist the merged snapshot unless a newer run already finished.
//  6. Hand the [RunResult] to the [RunTracker]; only the newest completed
//     run is surfaced.
//
// Fatal failures end the run with Success false and no graph. Non-fatal
// problems (skipped rows, bad per-door inputs, disconnected doors) are
// returned as warnings.
//
// # Error Handling
//
// Errors are mapped to operator-facing messages using [MapError]. Each
// category has a stable code:
//
//   - MAP001-MAP002: column mapping
//   - LOAD001-LOAD005: reading and parsing the event log
//   - PROC001-PROC003: onion model computation
//   - CLS001-CLS003: classification input and snapshots
//   - STORE001-STORE003: persistence
//   - RUN001-RUN004: run admission and cancellation
package core
