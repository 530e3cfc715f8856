// Package workflow contains the persisted shapes of orchestration instances:
// the Instance record with its runtime Status and the append-only Step log
// used to replay an instance after a restart.
package workflow
