/*
Package queue serializes operation execution per container.

Each container id owns at most one cooperative worker at a time; the
worker drains that container's queue in priority order (FIFO within a
priority) and exits, and the processing set guarantees a replacement
only spawns when no worker is live. Distinct containers proceed
concurrently. Lifecycle is surfaced on the event bus as task:queued,
task:started and task:completed or task:failed; a task can be
cancelled only before it starts.
*/
package queue
