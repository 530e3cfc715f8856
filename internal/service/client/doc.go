// Package client implements the door-report commands that push sensor states
// to the door monitor and inspect or terminate its monitoring instances.
package client
