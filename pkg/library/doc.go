/*
Package library loads and indexes container definitions from a
directory tree.

The on-disk layout mirrors the container id hierarchy: each directory
holds a container.json, and child directories declare child containers
whose ids extend the parent id with a dot segment. Load validates the
whole tree (unique ids, prefix rule, single ownership, acyclic graph,
directory nesting) and caches it in memory; the cache is replaced
atomically so readers never observe a partially loaded library.
*/
package library
