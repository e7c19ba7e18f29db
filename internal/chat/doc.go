// Package chat defines the domain vocabulary shared by the server, the client
// and the persistence adapters: room and message kinds, message formatting,
// username validation, protocol constants and the error taxonomy.
package chat
