// Package stores provides persistence backends for task trees.
// Every backend keeps one record per tree, keyed by tree ID, holding the
// engine codec document. SQLite (WAL mode, embedded migrations) also keeps
// an append-only journal of tree events; BadgerDB, plain JSON files and an
// in-memory map cover embedded, inspectable and ephemeral deployments.
package stores
