// Package session stores advisory presence records for connected clients in
// Redis: which relay instance holds the socket, when it connected, and how
// many rooms it has joined. Records expire on their own; the relay never
// consults them for delivery.
package session
