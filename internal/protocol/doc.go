// Package protocol owns the w1 netlink wire contract.
//
// Ownership boundary:
// - shared error taxonomy (this package)
// - connector envelope framing (connector/)
// - w1 message and command records (w1/)
// - request correlation helpers (session/)
//
// Wire shape, all integers little-endian:
//
//	cn_msg (20 bytes) | w1_netlink_msg (12 bytes) | w1_netlink_cmd (4 bytes) | data ...
//
// A connector envelope carries one or more w1 messages; command-bearing messages
// carry zero or more commands. Event messages carry no body.
package protocol
