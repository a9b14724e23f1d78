// Package network issues requests against the remote search API.
//
// A Client performs one logical GET with a bounded number of attempts.
// Every attempt runs on a Session, which pairs a user agent with an
// optional proxy. Sessions come from a SessionPool that draws both at
// random from the configured lists; a session that gets an empty 200 or
// a 403 is discarded and the next attempt gets a fresh one. The pool is
// the only state shared between crawl workers and is mutex guarded.
//
// Proxies may be HTTP(S) proxies or SOCKS5 endpoints. An EmbeddedTor
// daemon (tornago) can be started and added to the pool as a SOCKS5 proxy.
package network
