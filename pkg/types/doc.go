// Package types defines shared Go types used by both the agent and server.
// These are the canonical in-memory representations of an event batch and
// the helpers that encode it to, and decode it from, the wire payload.
//
// Wire format: a JSON array of strings, one element per event identifier,
// in recording order, e.g. ["GazedCube","GazedSphere"]. Empty batches are
// never put on the wire.
package types
