// Package history stores per-user crop recommendation and weed detection records.
//
// Records are written to an InfluxDB bucket as points; the most recent records
// for a user are read back with a Flux query. When no InfluxDB URL is configured
// a Noop store is used and history reads return empty lists.
package history
