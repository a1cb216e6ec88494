// Package app provides the application service layer.
//
// Poller drives the feed on an interval and fans new items out to the bus and
// live connections. Relay forwards bus traffic to live connections.
// PostService backs the record-management endpoints. Everything here depends
// on domain interfaces, not concrete adapters.
package app
