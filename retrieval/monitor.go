package retrieval

import (
	"log/slog"

	"github.com/poiesic/contentpulse/core"
)

// Monitor observes the steps of a retrieval. Implementations must be safe to
// call from the goroutine running the retrieval only.
type Monitor interface {
	Start(sources []core.Source, perSourceLimit int)
	AfterQueryEmbedding(queries int)
	AfterSourceSearch(source core.Source, hits []core.ScoredItem)
	BelowThreshold(hit core.ScoredItem)
	Finish(candidates []core.ScoredItem)
}

type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ []core.Source, _ int)                         {}
func (n *noopMonitor) AfterQueryEmbedding(_ int)                            {}
func (n *noopMonitor) AfterSourceSearch(_ core.Source, _ []core.ScoredItem) {}
func (n *noopMonitor) BelowThreshold(_ core.ScoredItem)                     {}
func (n *noopMonitor) Finish(_ []core.ScoredItem)                           {}

// LogMonitor reports retrieval steps at debug level. It keeps no state, so
// one LogMonitor can serve concurrent retrievals.
type LogMonitor struct {
	logger *slog.Logger
}

var _ Monitor = (*LogMonitor)(nil)

// NewLogMonitor creates a monitor logging to logger, or to slog.Default when
// logger is nil.
func NewLogMonitor(logger *slog.Logger) *LogMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMonitor{logger: logger.With("component", "retrieval-monitor")}
}

func (m *LogMonitor) Start(sources []core.Source, perSourceLimit int) {
	m.logger.Debug("retrieval started", "sources", len(sources), "per_source", perSourceLimit)
}

func (m *LogMonitor) AfterQueryEmbedding(queries int) {
	m.logger.Debug("queries embedded", "queries", queries)
}

func (m *LogMonitor) AfterSourceSearch(source core.Source, hits []core.ScoredItem) {
	m.logger.Debug("source searched", "source", source, "hits", len(hits))
}

func (m *LogMonitor) BelowThreshold(hit core.ScoredItem) {
	m.logger.Debug("hit below threshold", "identity", hit.Item.Identity, "score", hit.Score)
}

func (m *LogMonitor) Finish(candidates []core.ScoredItem) {
	m.logger.Debug("retrieval finished", "candidates", len(candidates))
}
