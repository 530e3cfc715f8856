// Package common holds helpers shared by the door-report commands.
//
// It provides a lightweight DoorMonitorService client with timeouts and a
// helper to detect the current system actor (hostname/username) for audit purposes.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
