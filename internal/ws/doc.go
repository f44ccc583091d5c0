// Package ws relays assistant output to WebSocket clients.
//
// The package implements:
//   - ThreadRegistry: which connections watch which thread
//   - StreamRelay: pulls a turn's fragments and broadcasts them in order
//   - Session: one connection's lifecycle, from the connect checks to close
//   - Client: a gorilla/websocket connection with a buffered write pump
//   - Handler and Service: HTTP upgrade and wiring
//
// Each connection runs its turns one at a time from a bounded queue. A
// subscriber whose send fails is dropped without affecting the others.
package ws
