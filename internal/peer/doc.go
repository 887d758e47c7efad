// Package peer is the server-side counterpart used to exercise relay
// clients: a frame responder, a listener loop for tcp and unix sockets, and
// an optional admin HTTP surface.
package peer
