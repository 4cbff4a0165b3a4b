/*
Package blocks ships the built-in workflow blocks that drive a full
collection pass: open a page, match containers, gate on checkpoints,
search behind a rate-limit permit, extract lists and comments through
the operation queue, and persist the result as JSONL plus a Markdown
digest.

Blocks return {success:false, error:...} records for environmental
failures so the executor stops the run with the partial context;
thrown errors are reserved for programmer mistakes.
*/
package blocks
