// Package export provides annotation backup and restore.
//
// # Formats
//
// JSON keeps every annotation field, including history, under a metadata
// header and can be re-imported. CSV is a flat, export-only view with one
// row per annotation for spreadsheets.
//
// # HTTP API
//
// Export endpoint: GET /v1/export
// Query parameters:
//   - format: "json" or "csv" (default: json)
//   - startDate: RFC3339 timestamp (default: 30 days before endDate)
//   - endDate: RFC3339 timestamp (default: now)
//   - index: source index filter (optional)
//
// Example:
//
//	curl "http://localhost:8080/v1/export?format=csv&startDate=2024-03-01T00:00:00Z" \
//	  -o annotations.csv
//
// Import endpoint: POST /v1/import
//
//	curl -X POST "http://localhost:8080/v1/import" \
//	  -H "Content-Type: application/json" \
//	  -d @annotations.json
//
// Imports are idempotent: each annotation is created with a mutation id
// derived from its exported id, so importing the same file twice creates
// nothing new. Imported annotations get fresh ids and start a new history.
package export
