// Package common holds helpers shared by several services.
//
// It provides a gRPC client wrapper for the flag service with call timeouts,
// and detects the current system actor (hostname/username) that the client
// forwards for the server's audit log.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
