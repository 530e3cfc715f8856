// Package integration runs the door monitor end to end over its HTTP and gRPC
// front ends against a sqlite database.
package integration
