// Package clientid holds the fixed 20-byte peer identity this client
// advertises to trackers and peers.
package clientid

// PeerID is this client's 20-character ASCII peer id, Azureus-style
// ("-BG0100-" for "bitgopher 1.0.0" followed by a fixed instance tail).
const PeerID = "-BG0100-1234567890AB"
