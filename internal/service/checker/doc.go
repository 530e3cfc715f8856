// Package checker implements "door-report watch": it polls a monitoring
// instance until the instance completes, fails or is terminated.
package checker
