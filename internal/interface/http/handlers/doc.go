// Package handlers contains HTTP middleware, health checks and webhook parsing
// shared by the notification API server.
//
// # Health Checks
//
// Checks run in parallel. Critical checks decide /health, every check
// decides /ready:
//
//	checker := handlers.NewCompositeHealthChecker("v1")
//	checker.AddCheck("database", handlers.NewPingCheck(db))
//	checker.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
//	checker.AddOptionalCheck("waha_session", handlers.NewSessionCheck(client, "default"))
//
// # Delivery Webhooks
//
// The gateway posts {event, message_id, timestamp, phone, error?}. When a
// secret is configured the raw body must carry an HMAC-SHA256 signature in
// the X-Webhook-Signature header, as produced by Sign.
//
// # Authentication
//
// APIKeyAuth compares the X-API-Key header (or a Bearer token) with bcrypt
// hashes from configuration. HashAPIKey produces such a hash.
package handlers
