// Package gpsr implements the core of Greedy Perimeter Stateless Routing
// for wireless ad-hoc networks (Karp & Kung, MobiCom 2000).
//
// This includes the on-wire hello/position header codec, the per-node
// neighbor position table with lifetime-based eviction, the deferred
// packet queue, the periodic hello beaconer, and the forwarding engine
// that dispatches locally originated and transit datagrams through
// greedy forwarding with right-hand-rule perimeter recovery.
//
// The package depends on the standard library, github.com/google/uuid
// (packet UIDs), and the collaborator interfaces defined in collab.go: a
// discrete-event
// Scheduler, an Ipv4 host, a Mobility source, and a Locator. Concrete
// implementations of those interfaces live in sibling packages
// (clocksched, simsched, netio, locator, mobility) so that gpsr itself
// stays a deterministic, single-threaded-per-node core that is equally
// at home inside a real UDP daemon or a virtual-time test harness.
package gpsr
