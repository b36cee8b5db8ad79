// Ganymede is the request-admission and cost-governance core of an
// AI-model proxy gateway.
//
// It tracks consumption against multi-period spending caps, tracks
// concurrent in-flight sessions against concurrency caps, selects a
// healthy upstream endpoint per provider and computes dynamic cost
// multipliers from business rules.
//
// Usage:
//
//	# Start with default configuration
//	ganymede run
//
//	# Start with a custom configuration file
//	ganymede run --config /path/to/config.yaml
//
//	# Validate a configuration file
//	ganymede validate --config /path/to/config.yaml
//
//	# Show version information
//	ganymede version
package main

func main() {
	Execute()
}
