// Package store is the Persistence Gateway: typed, per-collection CRUD
// over a MongoDB-backed document store, with collection-name
// prefixing, transactional array-union mutations, and cursor-based
// pagination. Collection names follow a "{prefix}{base}" convention
// so multiple deployments can share one database.
package store

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
)

// Gateway is the single entry point into the document store. One
// Gateway is wired per service at startup and handed its collection
// prefix and database from config.
type Gateway struct {
	db     *mongo.Database
	prefix string
	logger *logrus.Logger

	RawTraces       *RawTraceRepository
	FailurePatterns *FailurePatternRepository
	Suggestions     *SuggestionRepository
	Exports         *ExportRepository
}

// NewGateway wires the fixed-name repositories (raw traces, failure
// patterns, suggestions) against db. Stage-scoped repositories
// (run summaries, diagnostic errors) are obtained per-stage via
// RunSummariesFor / DiagnosticErrorsFor, since each pipeline stage
// writes its own collection of each.
func NewGateway(db *mongo.Database, prefix string, logger *logrus.Logger) *Gateway {
	return &Gateway{
		db:     db,
		prefix: prefix,
		logger: logger,

		RawTraces:       newRawTraceRepository(db, collectionName(prefix, "raw_traces"), logger),
		FailurePatterns: newFailurePatternRepository(db, collectionName(prefix, "failure_patterns"), logger),
		Suggestions:     newSuggestionRepository(db, collectionName(prefix, "suggestions"), logger),
		Exports:         newExportRepository(db, collectionName(prefix, "exports"), logger),
	}
}

// RunSummariesFor returns the RunSummaryRepository for a given
// pipeline stage (e.g. "extraction", "eval_test", "runbook",
// "guardrail", "dedup"), backed by the "{prefix}{stage}_runs"
// collection.
func (g *Gateway) RunSummariesFor(stage string) *RunSummaryRepository {
	return newRunSummaryRepository(g.db, collectionName(g.prefix, stage+"_runs"), g.logger)
}

// DiagnosticErrorsFor returns the DiagnosticErrorRepository for a
// given pipeline stage, backed by the "{prefix}{stage}_errors"
// collection.
func (g *Gateway) DiagnosticErrorsFor(stage string) *DiagnosticErrorRepository {
	return newDiagnosticErrorRepository(g.db, collectionName(g.prefix, stage+"_errors"), g.logger)
}

// collectionName applies the configured prefix to a base collection
// name, yielding "evalforge_raw_traces"-style names.
func collectionName(prefix, base string) string {
	return prefix + base
}

// Ping verifies connectivity to the backing database, used by
// service health checks.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.db.Client().Ping(ctx, nil)
}
