// Package loadtest wires a configured run together: metrics registry, ID
// pool, HTTP transport, workflow executor and VU scheduler. It polls
// thresholds while the run is in progress and produces the final Report.
package loadtest
