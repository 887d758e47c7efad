// Package tools starts child processes whose stdin and stdout are handed to
// the caller as a byte stream pair. relayctl uses it to run a relayd peer on
// the pipes transport.
package tools
