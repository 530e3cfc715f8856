// Package door contains core domain types for the sensor monitoring logic.
//
// It defines the sensor State values, the EntityID compound key of the single
// sensor entity, and the Report an ingestion caller submits together with the
// Actor who sent it.
package door
