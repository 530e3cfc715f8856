// Package door implements the gRPC transport of the door monitor.
//
// The DoorMonitorService is described by hand on top of protobuf well-known
// types, so no generated code is needed: requests and replies travel as
// structpb.Struct, instance ids as wrapperspb.StringValue. The wire helpers
// in messages.go are shared by the server and the door-report client.
package door
