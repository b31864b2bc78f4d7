// Package ws carries runs over WebSocket connections.
//
// Clients send submit and cancel frames; the server answers with every
// core.Event of the runs started on the connection, encoded as JSON, plus an
// error frame for each rejected request. A connection may drive runs on
// several threads at once; events are routed by thread id on the client.
package ws
