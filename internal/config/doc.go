// Package config loads and validates the intentchaind configuration file,
// covering the HTTP server, storage and event backends, rate limiting,
// wallet-login parameters, and the supported chain set.
package config
