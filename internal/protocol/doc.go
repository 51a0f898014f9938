// Package protocol owns the debugger wire contract.
//
// Ownership boundary:
// - handshake and packet framing primitives (frame)
// - payload value encoding (wire)
//
// Command semantics live with the request processor, not here.
package protocol
