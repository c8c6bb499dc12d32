// Package manager hosts generation sessions for the server. It is
// structured into small files by concern:
//
//   - manager.go: core Manager type, constructor, Get, Close.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: manager state and the RuntimeFactory (SimFactory by default).
//   - errors.go: error types and helpers (IsTooBusy, IsSessionNotFound, ...).
//   - admission.go: running-session slots and per-file cache locks.
//   - start.go: Start, request to parameter mapping, the per-session goroutine.
//   - session.go: Session: output buffer, long-poll wakeups, input hand-off.
//   - ops.go: Info, SupplyInput, Poll, Stream, Stop, Interrupt, Remove.
//   - status_report.go: Status and ListCaches.
//   - metrics.go, publisher.go: event fan-out and Prometheus series.
//
// Each session owns one genloop.Loop running on its own goroutine. The
// loop never touches manager state; it talks to its Session through the
// InputSource and Sink it was built with.
package manager
