// Package rfq holds the domain types shared by the liquidity-coordination
// core: makers, token pairs, asset offerings and balance-check subjects.
package rfq

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Workflow is the quoting protocol variant a maker participates in.
type Workflow string

const (
	// WorkflowRfqt is the signed-order settlement path.
	WorkflowRfqt Workflow = "rfqt"
	// WorkflowRfqm is the relayed, gasless settlement path.
	WorkflowRfqm Workflow = "rfqm"
)

// OrderType is the on-chain order format a maker supports.
type OrderType string

const (
	// OrderTypeRfq is the legacy RfqOrder format.
	OrderTypeRfq OrderType = "rfq"
	// OrderTypeOtc is the current OtcOrder format.
	OrderTypeOtc OrderType = "otc"
)

// Maker is one market-making counterparty on one chain. Records are
// overwritten wholesale by each registry refresh, never mutated field by
// field.
type Maker struct {
	MakerID   string
	ChainID   int64
	Pairs     []Pair
	RfqtURI   *string
	RfqmURI   *string
	UpdatedAt time.Time
}

// URIForWorkflow returns the maker's endpoint for the given workflow, or nil
// if the maker does not participate in it.
func (m *Maker) URIForWorkflow(workflow Workflow) *string {
	switch workflow {
	case WorkflowRfqt:
		return m.RfqtURI
	case WorkflowRfqm:
		return m.RfqmURI
	default:
		return nil
	}
}

// AssetOffering maps a maker endpoint URI to the token pairs quoted at that
// endpoint. Distinct URIs may quote the same pair. Always rebuilt wholesale
// from a maker list, never mutated in place.
type AssetOffering map[string][]Pair

// ERC20Owner pairs a holder address with a token contract for a balance or
// allowance check.
type ERC20Owner struct {
	Owner common.Address
	Token common.Address
}
