// Package acceptor accepts HTTP/1.x connections and hands each parsed
// request, together with a single-use Session for its response, to a Handler.
//
// The acceptor does not process requests. A Handler may answer from any
// goroutine at any later time; the connection waits for that answer before
// it reads the next request. A request that is never answered holds its
// connection until Stop closes it.
package acceptor
