// Package ws streams event counts to dashboards over WebSocket.
//
// Hub.ServeHTTP sends the current snapshot as soon as a client connects.
// Hub.Run then checks the store every interval and broadcasts only when the
// lifetime totals or the number of live counters moved, so an idle server
// sends nothing but pings.
//
// Every message has the shape
//
//	{"event": "snapshot", "data": { /* GET /api/v1/snapshot */ }}
//
// Clients whose send buffer fills are disconnected. The server mounts the
// hub at /ws/stream.
package ws
