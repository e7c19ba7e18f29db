// Package server implements the chat server core.
//
// A Hub owns the room Registry and every live Session. Transports (the TCP
// ChatServer and the WebSocket handler) hand each connection to Hub.Serve,
// which validates the username and then runs the session state machine:
// room selection, the private group name and join timestamp when needed,
// history replay, registration in the room, and the chat loop with its
// /switch command. Broadcasts are serialised per room and never block on a
// slow member; such members are disconnected and clean up after themselves.
package server
