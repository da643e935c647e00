// Package mcp is the client side of the evaluation protocol spoken between the
// developer tool and the evaluation server.
//
// # Overview
//
// The client holds one duplex WebSocket connection per conversation. The
// endpoint is the configured server URL with the conversation id appended as
// a path segment:
//
//	ws://localhost:5001/ws/<conversation-id>
//
// Every frame is a JSON envelope:
//
//	{
//	  "context": {
//	    "conversation_id": "...",
//	    "message_id": "...",
//	    "parent_id": null,
//	    "metadata": {}
//	  },
//	  "message_type": "suggestion",
//	  "content": { ... }
//	}
//
// # Correlation
//
// Outbound requests are recorded in a PendingTable keyed by message id. A
// reply is matched by its own message id first (the server echoes the request
// context) and by its parent id second. Each request settles exactly once:
// with its reply, with a TimeoutError, or with the error that ended the
// connection or the client.
//
// # Connection lifecycle
//
//	Disconnected → Connecting → Connected
//	                   ↑            ↓ (drop or stale heartbeat)
//	                   └──── Reconnecting
//
// Reconnect delays grow as 2s × 1.5^(n−1). After five failed attempts the
// client stays Disconnected, fails every pending request, and reports
// ErrReconnectExhausted through its Notifier until the next explicit Connect.
//
// # HTTP
//
// HTTPClient posts the same envelopes to POST /mcp/message on the server's
// HTTP base URL and reads one reply per request. It has no connection state
// and is meant for callers that cannot keep a WebSocket open.
//
// # Timeouts
//
//   - DefaultRequestTimeout: 30 seconds for a correlated reply
//   - DefaultHeartbeatInterval: 15 seconds between pings
//   - DefaultHeartbeatStale: 30 seconds after the last pong forces a
//     reconnect, independent of the ping schedule
//   - DefaultHandshakeTimeout: 15 seconds for the WebSocket upgrade
package mcp
