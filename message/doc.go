// Package message defines the datagram envelope exchanged between LanChat
// nodes and its JSON wire codec.
//
// This package implements:
//   - Message: the wire envelope and its kinds
//   - Identity: the local node's stable id, display name and port
//   - Encode/Decode: the UTF-8 JSON codec used on every datagram
package message
