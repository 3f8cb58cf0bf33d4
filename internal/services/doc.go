// Package services provides centralized service registry for scoped.
//
// Registry pattern for accessing all core services (orchestrator, sessions,
// checkpoints, stages, locks, generation, evaluation, events, audit).
// Use NewRegistry() to create a registry with service instances, then
// accessor methods to retrieve individual services.
package services
