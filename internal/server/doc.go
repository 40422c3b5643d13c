// Package server implements the HTTP and WebSocket transport of the journal
// realtime service.
//
// The implementation is organized into specialized files for clients, rate
// limiting, origin checks, routing, and HTTP handlers. Connection state lives
// in the hub package and event handling in the dispatch package; Server is the
// composition root that ties them to sockets.
package server
