// Package netio provides the UDP broadcast transport GPSR control
// traffic rides on.
//
// Linux-specific implementation uses golang.org/x/sys/unix for
// SO_BROADCAST, SO_REUSEADDR, and IP_TTL socket options, and
// net.Interfaces polling to detect link up/down transitions.
package netio
