// Package metrics holds the Prometheus collectors of the door monitor.
// Collectors register with the default registry on first use.
package metrics
