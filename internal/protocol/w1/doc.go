// Package w1 encodes and decodes the w1_netlink_msg and w1_netlink_cmd records the
// kernel 1-Wire core exchanges over the netlink connector.
//
// Event messages (slave/master add and remove) carry no body. List-masters replies
// carry little-endian u32 master ids. Master and slave command messages carry a
// sequence of commands; only read and write commands carry data.
//
// Slave add/remove and list-slaves commands have no defined payload layout and are
// rejected with protocol.ErrNotImplemented in both directions.
package w1
