/*
Package types defines the shared data model for Drover.

Container definitions describe page regions and live in a file-backed
library; container instances bind definitions to DOM node paths for one
matcher pass; operation tasks flow through per-container queues; workflow
definitions sequence blocks over a shared context; checkpoint ids name the
page states that gate progress.

All types here are plain data. Behavior lives in the packages that own
each concern (library, match, queue, workflow, checkpoint).
*/
package types
