/*
Package bridge is the HTTP+WS client for the external browser service.

The bridge owns the real browser processes; Drover only speaks its RPC
surface (evaluate, goto, page:back, browser:execute, session:create,
session:list). Calls on the same session are serialized through a
per-session gate because a session holds exactly one live DOM and the
service forbids overlapping evaluate calls. The websocket side-channel
republishes browser push events onto the event bus under the
"browser:" topic prefix.
*/
package bridge
