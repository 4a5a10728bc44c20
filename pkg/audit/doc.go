// Package audit implements the audit trail pipeline for a content
// management backend.
//
// # Overview
//
// Events describing content, media, user and authentication activity enter
// through the Pipeline, which filters untracked or excluded events, redacts
// sensitive payload values, and persists the result as an immutable
// AuditRecord. Stored records are served back through the QueryService and
// aged out by the retention Engine.
//
// # Ingestion
//
//	pipeline := audit.NewPipeline(filter, redactor, store, logger, metrics)
//	id, captured, err := pipeline.Ingest(ctx, &audit.AuditEvent{
//		Action: audit.ActionEntryCreate,
//		Actor:  &audit.Actor{ID: 42, DisplayName: "Jane Editor"},
//		Payload: map[string]interface{}{
//			"title":    "Launch post",
//			"password": "never-stored",
//		},
//	})
//
// The password value above is persisted as "[REDACTED]".
//
// # Querying
//
//	result, err := query.List(ctx, audit.ListOptions{
//		Action: audit.ActionEntryCreate,
//		Sort:   "date:desc",
//	})
//
// # Retention
//
// The Engine applies an age or count based policy, optionally archiving
// expiring records to object storage before deletion. Default policy is 90
// days of active retention. Export supports JSON, CSV and NDJSON.
package audit
