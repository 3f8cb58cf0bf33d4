package services

import (
	"github.com/fyrsmithlabs/scoped/internal/audit"
	"github.com/fyrsmithlabs/scoped/internal/checkpoint"
	"github.com/fyrsmithlabs/scoped/internal/evaluation"
	"github.com/fyrsmithlabs/scoped/internal/events"
	"github.com/fyrsmithlabs/scoped/internal/generation"
	"github.com/fyrsmithlabs/scoped/internal/locks"
	"github.com/fyrsmithlabs/scoped/internal/orchestrator"
	"github.com/fyrsmithlabs/scoped/internal/session"
	"github.com/fyrsmithlabs/scoped/internal/stages"
)

// Registry provides access to all scoped services.
// Use accessor methods to retrieve individual services.
type Registry interface {
	Orchestrator() orchestrator.Service
	Sessions() session.Repository
	Checkpoints() checkpoint.Store
	Stages() *stages.Registry
	Locks() *locks.Manager
	Generator() generation.Generator
	Evaluator() evaluation.Evaluator
	Events() *events.Publisher
	Audit() *audit.Recorder
}

// Options configures the registry with service instances.
type Options struct {
	Orchestrator orchestrator.Service
	Sessions     session.Repository
	Checkpoints  checkpoint.Store
	Stages       *stages.Registry
	Locks        *locks.Manager
	Generator    generation.Generator
	Evaluator    evaluation.Evaluator
	Events       *events.Publisher
	Audit        *audit.Recorder
}

// registry is the concrete implementation of Registry.
type registry struct {
	orchestrator orchestrator.Service
	sessions     session.Repository
	checkpoints  checkpoint.Store
	stages       *stages.Registry
	locks        *locks.Manager
	generator    generation.Generator
	evaluator    evaluation.Evaluator
	events       *events.Publisher
	audit        *audit.Recorder
}

// NewRegistry creates a new service registry.
func NewRegistry(opts Options) Registry {
	return &registry{
		orchestrator: opts.Orchestrator,
		sessions:     opts.Sessions,
		checkpoints:  opts.Checkpoints,
		stages:       opts.Stages,
		locks:        opts.Locks,
		generator:    opts.Generator,
		evaluator:    opts.Evaluator,
		events:       opts.Events,
		audit:        opts.Audit,
	}
}

func (r *registry) Orchestrator() orchestrator.Service { return r.orchestrator }
func (r *registry) Sessions() session.Repository       { return r.sessions }
func (r *registry) Checkpoints() checkpoint.Store      { return r.checkpoints }
func (r *registry) Stages() *stages.Registry           { return r.stages }
func (r *registry) Locks() *locks.Manager              { return r.locks }
func (r *registry) Generator() generation.Generator    { return r.generator }
func (r *registry) Evaluator() evaluation.Evaluator    { return r.evaluator }
func (r *registry) Events() *events.Publisher          { return r.events }
func (r *registry) Audit() *audit.Recorder             { return r.audit }
