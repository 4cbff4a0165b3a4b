/*
Package checkpoint names page states and drives the page toward them.

Detection reasons over a container snapshot and a handful of DOM
signals through a per-platform ordered rule table: hard URL rules
(risk control, offsite) first, then anchor-based states from most to
least specific. Enforcement re-detects in a loop and recovers only
with keyboard ESC; risk_control and offsite are terminal and are
handed straight back to the operator.
*/
package checkpoint
