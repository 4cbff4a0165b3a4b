// Package metrics defines and registers Drover's Prometheus metrics:
// library load state, matcher passes, queue throughput and depth,
// checkpoint detections and recovery attempts, workflow runs and bridge
// traffic.
package metrics
