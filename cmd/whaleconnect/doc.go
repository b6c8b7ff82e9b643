// Package main provides the whaleconnect command-line terminal.
//
// In client mode it opens one session to a remote device, sends every line
// read from standard input and prints whatever arrives. In server mode it
// runs an echo server for TCP, UDP and the connection-oriented Bluetooth
// types, which is handy as the other end of a client session.
//
// Sessions can be secured with TLS (client only) or with the Noise
// protocol. Log output goes to stderr or, with -log-file, to a rotating
// file.
package main
