/*
Package workflow executes block-based workflows over a shared context.

A workflow is an ordered list of steps, each naming a registered block
and an input record. Whole-string "$name" values in inputs resolve
against the accumulated context via dotted-path lookup before the
block runs; the block's output record is shallow-merged back. Steps
run strictly sequentially and the first failure stops the run; retry
policy belongs inside blocks, never here.
*/
package workflow
