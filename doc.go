// Package fiberrt is an M:N user-space concurrency runtime: stackful
// cooperative fibers multiplexed over a pool of worker threads, an I/O
// reactor that wakes fibers when descriptors become readable or writable,
// and a timer set that wakes them on deadline.
//
// The Runtime type bundles the three subsystems behind one handle.
// Blocking-style code on a fiber registers its descriptor with the
// runtime, yields, and is resumed by whichever worker observes the
// readiness; timers and plain tasks flow through the same scheduler.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package fiberrt
