// Package migrations embeds the flat Postgres schema for this service
// (users, auth_sessions, scheduled_posts, failure_records, audit_log),
// replacing the teacher's per-tenant migrations/tenant tree since this
// service has a single fixed schema instead of one database per tenant.
package migrations

import "embed"

//go:embed files/*.sql
var FS embed.FS

// Dir is the directory within FS where migrations live.
const Dir = "files"
