// Package signaling relays room signaling between browser peers.
//
// The relay is a dumb pipe for session descriptions and ICE candidates: it
// checks who may talk to whom, stamps the sender, and forwards payloads
// byte for byte. Protocol correctness lives in the endpoints.
package signaling
