// Package flags implements the gRPC transport for the flag arbiter.
//
// The FlagService carries well-known protobuf messages (Struct, ListValue,
// Empty) so clients in any language can speak it without generated stubs.
// The server adapts them to flag store calls and returns the decision each
// call computed, or the controller's latest one when it computed none.
package flags
