// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns the single push connection per process (WebSocket, optionally SockJS framed)
//   - Authenticates with a bearer token in the STOMP CONNECT frame
//   - Shares one in-flight connect between concurrent callers
//   - Reconnects with linear backoff until the attempt budget runs out, then fails
//   - Replays every registered subscription after each successful (re)connect
//   - Routes MESSAGE frames to the Subscription Registry
package connection
