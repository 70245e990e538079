// Package idgen provides id generation for the outline store's id space
// and for transient surface instances.
//
// Components accept a Generator so the id strategy is a wiring decision,
// not a compile-time one; tests install counters for determinism.
package idgen

import (
	"crypto/rand"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// NodeIDLength is the length of an outline node id. Reference tokens and
// aliases embed ids of exactly this length.
const NodeIDLength = 9

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Node returns a Generator producing base-36 outline node ids of
// NodeIDLength characters.
func Node() Generator {
	return func() string {
		buf := make([]byte, NodeIDLength)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		b := make([]byte, NodeIDLength)
		for i := range b {
			b[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(b)
	}
}

// Instance returns a transient identifier for one annotation-surface
// session. UUIDv7, so concurrent sessions sort by attach time in logs.
func Instance() string {
	return uuid.Must(uuid.NewV7()).String()
}
