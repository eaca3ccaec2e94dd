package gpsr

import (
	"errors"
	"time"
)

// -------------------------------------------------------------------------
// Protocol Constants — spec §6
// -------------------------------------------------------------------------

// ControlPort is the UDP port reserved for hello and position control
// traffic.
const ControlPort uint16 = 666

// DefaultHelloInterval is the mean time between hello broadcasts.
const DefaultHelloInterval = 1 * time.Second

// DefaultEntryLifetime is the default neighbor-entry lifetime: three
// hello intervals.
const DefaultEntryLifetime = 3 * DefaultHelloInterval

// DefaultMaxQueueLen is the default deferred-queue capacity per node.
const DefaultMaxQueueLen = 64

// DefaultMaxQueueTime is the default per-entry deferred-queue deadline.
const DefaultMaxQueueTime = 30 * time.Second

// -------------------------------------------------------------------------
// Error Taxonomy — spec §7
// -------------------------------------------------------------------------

// Sentinel errors surfaced to error callbacks, returned by
// DeferredQueue.Enqueue (ErrDuplicateEntry) and by the header codec
// (ErrBufTooSmall). Table and queue read operations never return errors to
// callers; they return sentinel zero values instead (the zero IPv4
// address, the invalid position, or a boolean/ok pattern).
var (
	// ErrNoRouteToHost indicates greedy forwarding failed and recovery
	// was either disabled or also exhausted.
	ErrNoRouteToHost = errors.New("no route to host")

	// ErrQueueFull indicates a deferred-queue entry was evicted to make
	// room for a new one. Surfaced to the evicted entry's error callback
	// as ErrNoRouteToHost per spec §7; kept distinct here so callers that
	// inspect the cause can still tell eviction from a genuine route
	// failure via errors.Is.
	ErrQueueFull = errors.New("deferred queue full")

	// ErrQueueTimeout indicates a deferred-queue entry exceeded its
	// deadline before a route became available. Surfaced to the entry's
	// error callback wrapped together with ErrNoRouteToHost.
	ErrQueueTimeout = errors.New("deferred queue entry timed out")

	// ErrUnknownDestination indicates the locator has no position for
	// the requested destination, or this node's own position is
	// unavailable. Transient for locally originated packets: RouteOutput
	// enqueues them and DrainQueue keeps them queued until the position
	// is known or their deadline passes. On the transit path RouteInput
	// reports it to the error callback as a terminal drop.
	ErrUnknownDestination = errors.New("unknown destination position")

	// ErrMalformedHeader indicates an inbound packet failed type-byte
	// validation and was dropped silently.
	ErrMalformedHeader = errors.New("malformed gpsr header")

	// ErrDuplicateEntry indicates an enqueue was rejected because a
	// matching (packet UID, destination) pair is already queued.
	ErrDuplicateEntry = errors.New("duplicate queue entry")

	// ErrBufTooSmall indicates a marshal target buffer is undersized.
	ErrBufTooSmall = errors.New("buffer too small")

	// ErrNoInterface indicates no bound interface owns the resolved next
	// hop, so no route can be constructed even though one was found.
	ErrNoInterface = errors.New("no interface for next hop")
)
