// Package session owns request correlation for the w1 netlink socket.
//
// Ownership boundary:
// - connector sequence allocation
// - pending request table keyed by connector seq
// - request timeouts and dial retry/backoff primitives
//
// Frames are routed raw; decoding stays with the requester so each request can
// choose the connector codec its replies need.
package session
