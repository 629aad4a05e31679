// Package challenge provides the TTL-keyed ephemeral store for in-flight
// authentication and registration state. Entries live under a namespace so
// login challenges, registration challenges and invitations cannot collide on
// the same key.
package challenge

// Namespace partitions the ephemeral keyspace.
type Namespace string

const (
	NamespaceLogin        Namespace = "login-challenges"
	NamespaceRegistration Namespace = "registration-challenges"
	NamespaceInvitations  Namespace = "invitations"
)
