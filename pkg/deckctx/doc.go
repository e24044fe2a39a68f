// Package deckctx encodes and decodes button identities.
//
// A context is the string uuid___key___actionid. Main-service UUIDs are the
// first four dot segments of any action UUID:
//
//	com.ulanzi.analogclock.ulanziPlugin        main service
//	com.ulanzi.analogclock.ulanziPlugin.clock  action of that plugin
//
// Everything here is pure and safe for concurrent use.
package deckctx
