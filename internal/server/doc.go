// Package server exposes a tracker's controls and run history over HTTP.
//
// The server hosts a small JSON API: a control endpoint for starting and
// stopping the poller or triggering a manual run, plus read endpoints for
// paginated run history, whole-history stats, scheduler state, and
// time-bucketed activity with ready-to-render chart geometry.
//
// Users of the adtrail library should not need to interact with this
// package directly; it backs the adtrail CLI's serve command.
package server
