// Package client implements the flagctl commands.
//
// Each command connects to the arbiter server, performs one request and
// prints the outcome. Switching a flag can keep retrying while the server is
// unreachable.
package client
