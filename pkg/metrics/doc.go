/*
Package metrics defines the Prometheus collectors for Veridex: issuance
counts and latency, duplicate-index retries, shard selection conflicts and
reuse hits, list rotations, capacity growth, publications and API request
accounting.

Call RegisterAll once at service start; Handler serves the /metrics endpoint.
*/
package metrics
