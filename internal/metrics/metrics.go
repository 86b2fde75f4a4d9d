// Package metrics registers the engine's Prometheus collectors on the default
// registry. The application shell decides whether to expose them (promhttp);
// the engine only counts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Reconciliations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "megachat",
		Name:      "reconciliations_total",
		Help:      "Full snapshot reconciliations forced by an scsn mismatch.",
	})

	Commits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "megachat",
		Name:      "cache_commits_total",
		Help:      "Cache transaction commits.",
	})

	MigrationSteps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "megachat",
		Name:      "cache_migration_steps_total",
		Help:      "Schema migration ladder steps applied.",
	})

	RoomsAdded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "megachat",
		Name:      "rooms_added_total",
		Help:      "Chat rooms added from a remote listing.",
	})

	RoomsRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "megachat",
		Name:      "rooms_removed_total",
		Help:      "Chat rooms removed after an own-privilege exclusion.",
	})

	MemberWrites = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "megachat",
		Name:      "member_writes_total",
		Help:      "Persisted group-membership mutations (adds, removals, privilege updates).",
	})

	ContactWrites = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "megachat",
		Name:      "contact_writes_total",
		Help:      "Persisted contact mutations (inserts, visibility updates, deletions).",
	})

	TitleDecryptFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "megachat",
		Name:      "title_decrypt_failures_total",
		Help:      "Chat titles that failed to decrypt and fell back to member names.",
	})
)
