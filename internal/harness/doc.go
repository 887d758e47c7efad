// Package harness connects relayctl to a peer: it builds the transport the
// configuration selects, wraps it in a relay, and retries Connect with
// exponential backoff when asked to. Send and Receive are never retried.
package harness
