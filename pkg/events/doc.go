/*
Package events provides Drover's process-wide pub/sub bus and the
workflow-rule dispatcher.

The bus delivers events synchronously: subscribers for one event run
in registration order, one at a time, so ordering-sensitive consumers
like the dispatcher observe a stable sequence. Topic
subscriptions are globs segmented on ':' and '.' where '*' matches one
segment, '**' any run of segments and '?' a single character.

The dispatcher is a bus middleware holding a table of workflow rules.
Each rule binds glob-matched events to operations on one container;
matching events enqueue those operations through the operation queue.
Rules are validated against container binding when registered, so a
rule naming an operation the container does not permit never installs.
*/
package events
