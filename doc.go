// Package loreline provides the local-first data layer for a fiction
// writer's worldbuilding tool: projects, world elements, and typed
// relationships, with offline-safe synchronization to a remote
// persistence service.
//
// All reads and writes happen against an in-memory entity store, so the
// UI never blocks on the network. Every mutation is also appended to a
// durable mutation queue; a sync engine drains the queue to the remote
// service when connectivity allows, preserving per-entity order and
// retrying transient failures with exponential backoff.
//
// # Basic Usage
//
// Open a database with default configuration:
//
//	db, err := loreline.Open(loreline.DefaultConfig("data"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
// Create entities:
//
//	project, _ := db.CreateProject(ctx, "The Shattered Coast")
//	hero, _ := db.CreateElement(ctx, project.ID, loreline.CategoryCharacter, "Mara")
//	city, _ := db.CreateElement(ctx, project.ID, loreline.CategoryLocation, "Veldt")
//	db.AddRelationship(ctx, hero.ID, city.ID, loreline.RelLocatedIn)
//
// Query relationships:
//
//	related := db.Index().GetRelatedElementIDs(hero.ID)
//	path := db.Index().GetRelationshipPath(hero.ID, city.ID, 5)
//
// # Features
//
// Entity Store:
//   - Projects, categorized world elements, questionnaire answers
//   - Closed set of typed, directed relationships with inverses
//   - Deep-copy reads; deletes detach relationships on both sides
//
// Relationship Index:
//   - Constant-time adjacency checks
//   - Deterministic shortest-path search with bounded depth
//   - Aggregate statistics and full rebuild from store contents
//
// Offline Sync:
//   - Durable mutation queue (memory, file, SQLite, or S3 backends)
//   - Crash recovery with quarantine of corrupt records
//   - Per-entity strict ordering, bounded cross-entity concurrency
//   - Exponential backoff with jitter, circuit breaking, dead letters
//   - Last-write-wins conflict handling with user notification
//   - Optional snappy compression and AES-256-GCM encryption at rest
//
// Observability:
//   - Structured logging via log/slog
//   - Prometheus metrics for queue depth and sync outcomes
//   - Sync event stream (conflicts, dead letters, degraded mode) over
//     in-process subscriptions or WebSocket
package loreline
