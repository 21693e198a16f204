package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"trade-metrics-lab/internal/domain"
)

// ComputeSnapshotID computes a deterministic snapshot_id using SHA256.
// Formula: SHA256(strategy_id|model_id|regime|period_type|period_start_unix)
// Returns hex-encoded hash (64 characters).
func ComputeSnapshotID(key domain.SnapshotKey) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%d",
		key.Dimension.StrategyID,
		key.Dimension.ModelID,
		key.Dimension.Regime,
		string(key.PeriodType),
		key.PeriodStart.UTC().Unix(),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeVariantSnapshotID computes the snapshot_id of an experiment variant aggregate.
// Formula: SHA256(experiment|experiment_id|variant_id)
func ComputeVariantSnapshotID(experimentID, variantID string) string {
	data := fmt.Sprintf("experiment|%s|%s", experimentID, variantID)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
