// Package ingest decides what a sensor state report does: nothing when the
// state is unchanged, an entity update when the door closes, and an entity
// update plus a new monitoring orchestration when it opens.
package ingest
