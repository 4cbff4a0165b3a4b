/*
Package operation holds the global table of named operations and the
container binding rules.

An operation is a pure async unit of work over a browser context:
highlight, scroll, click, extract, find-child, type, key, navigate,
mouseMove, mouseClick. Each declares the capabilities a container must
carry before the operation may target it. Binding is enforced before a
task reaches the queue: capability coverage, plus membership in the
container's declared operation list when one is present.

Clicks run through OS-level mouse input by default; page-synthetic
clicks are only used when a container's config opts out.
*/
package operation
