// Copyright 2025 Certen Protocol
package node

import (
	"fmt"

	"github.com/aureum-chain/aureum-node/pkg/execution"
	"github.com/aureum-chain/aureum-node/pkg/storage"
	"github.com/aureum-chain/aureum-node/pkg/types"
)

// executorAdapter satisfies consensus.Executor by running the execution
// pipeline over a committed block's transactions and deriving the new
// height's state root from the accounts it touched, exactly the narrow
// seam §9 calls for between the consensus engine and the execution
// pipeline.
type executorAdapter struct {
	store    *storage.Store
	pipeline *execution.Pipeline
	onResult func(outcomes []execution.Outcome)
}

func newExecutorAdapter(store *storage.Store, pipeline *execution.Pipeline, onResult func([]execution.Outcome)) *executorAdapter {
	return &executorAdapter{store: store, pipeline: pipeline, onResult: onResult}
}

func (a *executorAdapter) ApplyBlock(height uint64, now int64, txs []*types.Transaction) (uint64, string, error) {
	outcomes, totalFees, deltas, err := a.pipeline.ApplyBlock(height, now, txs)
	if err != nil {
		return 0, "", fmt.Errorf("node: apply block %d: %w", height, err)
	}
	if a.onResult != nil {
		a.onResult(outcomes)
	}

	vs, err := a.store.GetValidatorSet()
	if err != nil {
		return 0, "", err
	}
	cs, err := a.store.GetChainState()
	if err != nil {
		return 0, "", err
	}
	stateRoot := storage.CalculateStateRoot(vs, cs, deltas)
	return totalFees, stateRoot, nil
}
