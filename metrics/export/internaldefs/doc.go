// Package internaldefs holds the metric name, help, and bucket boundary
// definitions shared by the exporter implementations.
//
// Both the Prometheus and OTel exporters read from this single table so a
// metric keeps the same name and buckets regardless of the export path.
//
// # What this package must NOT do
//
//   - Import any exporter package.
//   - Perform I/O.
package internaldefs
