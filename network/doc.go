// Package network provides the UDP transport and the Node service of a
// LanChat peer.
//
// This package implements:
//   - UDPTransport: datagram send/receive with broadcast emulation over a
//     port range, loopback suppression and message-id deduplication
//   - SeenSet: the bounded dedup set
//   - Node: composition of transport, peer registry and group directory,
//     dispatching inbound messages to the right component
package network
