// Package monitor implements the door monitoring orchestration: while the
// sensor stays open it waits, re-checks the sensor under its entity lock and
// sends a reminder, until the door closes or the retry budget runs out.
package monitor
