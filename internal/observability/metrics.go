package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the operation counters for the core. Registration is
// per-instance so tests can create isolated cores.
type Metrics struct {
	MemoriesStored    prometheus.Counter
	MemoriesRetrieved prometheus.Counter
	MemoriesDeleted   prometheus.Counter
	SelfHeals         prometheus.Counter

	LLMCalls      *prometheus.CounterVec // labels: model, kind (generate|embed)
	LLMErrors     *prometheus.CounterVec // labels: model, reason
	TokensUsed    *prometheus.CounterVec // labels: model, direction (input|output)
	BackupsTotal  prometheus.Counter
	RestoresTotal prometheus.Counter
}

// NewMetrics creates and registers metrics on the given registry. A nil
// registry creates unregistered collectors, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MemoriesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recall_memories_stored_total",
			Help: "Memory items written to the dual store.",
		}),
		MemoriesRetrieved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recall_memories_retrieved_total",
			Help: "Memory items returned from context retrieval.",
		}),
		MemoriesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recall_memories_deleted_total",
			Help: "Memory items explicitly deleted.",
		}),
		SelfHeals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recall_memory_self_heals_total",
			Help: "Lazy reconciliations between metadata and vector stores.",
		}),
		LLMCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_llm_calls_total",
			Help: "Successful LLM calls by model and kind.",
		}, []string{"model", "kind"}),
		LLMErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_llm_errors_total",
			Help: "Failed LLM calls by model and reason.",
		}, []string{"model", "reason"}),
		TokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_tokens_total",
			Help: "Tokens consumed by model and direction.",
		}, []string{"model", "direction"}),
		BackupsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recall_backups_total",
			Help: "Backups created.",
		}),
		RestoresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recall_restores_total",
			Help: "Backups restored.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.MemoriesStored, m.MemoriesRetrieved, m.MemoriesDeleted, m.SelfHeals,
			m.LLMCalls, m.LLMErrors, m.TokensUsed, m.BackupsTotal, m.RestoresTotal,
		)
	}
	return m
}
