/*
Package match binds container definitions to live DOM nodes.

A matcher pass walks the URL's candidate containers parent before
child, counts DOM matches per selector through the browser bridge and
records a stable DOM path per matched node. Child matching is scoped
to the parent's subtree once the parent has resolved. The result is an
immutable snapshot: the rooted container tree (zero-match regions
retained), the flattened matched ids, the winning root and the
page-level DOM signals checkpoint detection feeds on.
*/
package match
