// Package runstore persists workflow run and task records in a local
// BoltDB file for after-the-fact inspection.
package runstore
