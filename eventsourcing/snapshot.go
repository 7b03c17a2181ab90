package eventsourcing

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Snapshot describes aggregate state at a version. Only the metadata is produced here;
// State stays empty until aggregates define how their state is encoded.
type Snapshot struct {
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       uint64          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	State         json.RawMessage `json:"state,omitempty"`
}

func snapshotDue(frequency, version uint64) bool {
	return frequency > 0 && version > 0 && version%frequency == 0
}

// createSnapshot is the snapshot hook. It records that a snapshot is due and persists nothing.
func (r *Repository[A]) createSnapshot(_ context.Context, agg A, version uint64) {
	s := Snapshot{
		AggregateID:   agg.AggregateID(),
		AggregateType: agg.AggregateType(),
		Version:       version,
		Timestamp:     time.Now().UTC(),
	}
	r.logger.Info("snapshot due",
		zap.String("aggregate_id", s.AggregateID),
		zap.String("aggregate_type", s.AggregateType),
		zap.Uint64("version", s.Version),
		zap.Time("timestamp", s.Timestamp),
	)
}
