// Package session tracks the open connections of an application and moves
// their traffic to and from a Console.
//
// A List is plain state owned by the application loop: it is created with a
// SocketFactory, sessions are added with Add, and Update is called once per
// tick. Update drops sessions that were closed and starts at most one
// receive per open session, so a slow peer never piles up reads.
//
// Example:
//
//	list := session.NewList(factory, session.WithRecvSize(1024))
//	s, isNew, err := list.Add(dev, false, "")
//	for range ticker.C {
//	    list.Update()
//	}
//
// Output is written through the Console interface. Received bytes become
// text lines, secure channel alerts are shown as "Alert: <desc>", and a peer
// close is reported as "Remote host closed connection.". Errors caused by
// cancellation are never shown; they only mean the session was closed
// locally.
package session
