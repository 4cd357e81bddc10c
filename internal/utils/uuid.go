// Package utils provides small shared helpers.
package utils

import (
	"github.com/google/uuid"
)

// GenerateUUID generates a new UUID v4 string.
func GenerateUUID() string {
	return uuid.New().String()
}

// IsValidUUID checks if a string parses as a UUID.
func IsValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// NamespaceSessions is the namespace used to derive stable session ids from
// a (device, client, version) tuple, so repeated activity from the same
// client maps onto the same session.
var NamespaceSessions = uuid.MustParse("6ba7b815-9dad-11d1-80b4-00c04fd430c8")

// GenerateNamespaceUUID generates a deterministic UUID v5 from a namespace
// and name. The same inputs always produce the same id.
func GenerateNamespaceUUID(namespace uuid.UUID, name string) string {
	return uuid.NewSHA1(namespace, []byte(name)).String()
}
