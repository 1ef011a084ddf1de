// Copyright 2025 Certen Protocol
//
// Package oracle aggregates signed price reports from authorized reporters
// into a finalized median price per asset, persisted through pkg/storage.
package oracle

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aureum-chain/aureum-node/pkg/codec"
	"github.com/aureum-chain/aureum-node/pkg/crypto"
	"github.com/aureum-chain/aureum-node/pkg/types"
)

var (
	ErrUnauthorizedReporter = errors.New("oracle: reporter not authorized")
	ErrInvalidSignature     = errors.New("oracle: invalid report signature")
	ErrDuplicateReport      = errors.New("oracle: reporter already submitted for this asset")
)

// PriceStore is the minimal storage contract the oracle needs to persist a
// finalized price.
type PriceStore interface {
	SavePrice(assetID string, priceEUR uint64) error
}

// Oracle collects pending reports per asset and finalizes the median once
// quorum is reached.
type Oracle struct {
	mu                  sync.Mutex
	authorizedReporters map[string]bool
	pending             map[string][]*types.OracleReport // assetID -> reports
}

// NewOracle constructs an Oracle authorized for the given reporter
// addresses.
func NewOracle(authorizedReporters []string) *Oracle {
	set := make(map[string]bool, len(authorizedReporters))
	for _, r := range authorizedReporters {
		set[r] = true
	}
	return &Oracle{
		authorizedReporters: set,
		pending:             make(map[string][]*types.OracleReport),
	}
}

// SetAuthorizedReporters replaces the authorized set. Changing the
// authorized set invalidates in-flight aggregation thresholds for assets
// with reports from reporters no longer authorized.
func (o *Oracle) SetAuthorizedReporters(reporters []string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	set := make(map[string]bool, len(reporters))
	for _, r := range reporters {
		set[r] = true
	}
	o.authorizedReporters = set

	for assetID, reports := range o.pending {
		filtered := reports[:0]
		for _, r := range reports {
			if set[r.Reporter] {
				filtered = append(filtered, r)
			}
		}
		o.pending[assetID] = filtered
	}
}

// SubmitReport validates and stages a report, finalizing (and persisting)
// the median price once `floor(n/2)+1` distinct authorized reporters have
// submitted for the asset.
func (o *Oracle) SubmitReport(store PriceStore, report *types.OracleReport) error {
	if !crypto.VerifySignature(report.PubKey, codec.EncodeOracleReportSignable(report), report.Signature) {
		return ErrInvalidSignature
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.authorizedReporters[report.Reporter] {
		return ErrUnauthorizedReporter
	}

	reports := o.pending[report.AssetID]
	for _, r := range reports {
		if r.Reporter == report.Reporter {
			return ErrDuplicateReport
		}
	}
	reports = append(reports, report)
	o.pending[report.AssetID] = reports

	threshold := len(o.authorizedReporters)/2 + 1
	if len(reports) < threshold {
		return nil
	}

	median := medianPrice(reports)
	delete(o.pending, report.AssetID)
	if err := store.SavePrice(report.AssetID, median); err != nil {
		return fmt.Errorf("oracle: persist finalized price for %s: %w", report.AssetID, err)
	}
	return nil
}

// medianPrice sorts prices ascending and returns the element at index
// len/2, matching the spec's even-count tie-break rule.
func medianPrice(reports []*types.OracleReport) uint64 {
	prices := make([]uint64, len(reports))
	for i, r := range reports {
		prices[i] = r.PriceEUR
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
	return prices[len(prices)/2]
}

// PendingCount returns the number of staged reports for an asset, for
// diagnostics and tests.
func (o *Oracle) PendingCount(assetID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending[assetID])
}
