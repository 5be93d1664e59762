// Package scheduler owns the background poll loop and its lifecycle.
//
// A Scheduler is in one of three states: stopped, running, or backing off
// after an upstream rate-limit signal. The worker loop sleeps in short,
// interruptible steps so a stop signal is observed promptly, and all
// fetch-and-persist sequences are serialized through a single mutex so at
// most one run is in flight per scheduler instance.
package scheduler
