// Package api exposes the REST surface of the intent system: wallet
// challenge-response login, agent registration and revocation, and the
// intent lifecycle endpoints. Authentication is per request, either an
// AgentAuth signed header or a session cookie.
package api
