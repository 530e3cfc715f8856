// Package entity implements the durable key-value entities that hold sensor
// state.
//
// Entities serializes every operation on a key: Update and WithLock take the
// key's critical section, Signal queues an ordered fire-and-forget update that
// is retried until it applies, Settle waits for a key's queued signals, and
// Read returns the last committed value without waiting for a critical section
// (so it may lag behind a write that is still in progress). Values are stored
// by a Backend: SQL, a JSON file, or memory.
package entity
