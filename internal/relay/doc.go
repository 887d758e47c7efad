// Package relay layers the frame codec over a transport.
//
// One Send is one frame; one Receive consumes one frame. A Relay never
// retries. After a transport error the caller closes it and builds a new
// transport and relay pair.
package relay
