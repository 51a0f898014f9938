// Package session owns one debugger session: the goroutine that accepts or
// establishes the debugger connection, drives the transport's receive loop
// and dispatches command packets to a RequestProcessor.
//
// Ownership boundary:
// - start, attach and shutdown rendezvous for the embedding process
// - the serialization token shared by command replies and events
// - request/event serial allocation
// - event request registrations (cleared on every reset)
//
// Collaborators are supplied by the embedding process: a Facade for the
// debugged runtime and a RequestProcessor for command semantics.
package session
