package makers

import (
	"github.com/quotelane/rfq-gateway/internal/rfq"
)

// MakerIDSet is an allow-list of maker IDs for one workflow/order-type
// partition.
type MakerIDSet map[string]struct{}

// NewMakerIDSet builds a set from a list of maker IDs.
func NewMakerIDSet(ids []string) MakerIDSet {
	set := make(MakerIDSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Has reports whether id is in the set.
func (s MakerIDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// BuildAssetOffering groups the pairs of eligible makers by endpoint URI for
// the given workflow. A maker is eligible when its ID is allow-listed and it
// exposes an endpoint for the workflow. Pure transform, no I/O.
func BuildAssetOffering(makerList []rfq.Maker, allowed MakerIDSet, workflow rfq.Workflow) rfq.AssetOffering {
	offering := make(rfq.AssetOffering)
	for i := range makerList {
		maker := &makerList[i]
		uri := maker.URIForWorkflow(workflow)
		if uri == nil || !allowed.Has(maker.MakerID) {
			continue
		}
		offering[*uri] = append(offering[*uri], maker.Pairs...)
	}
	return offering
}

// BuildPairIndex builds the reverse index from canonical pair key to the
// eligible makers quoting that pair. A maker with zero pairs simply never
// appears in the index; lookups for pairs nobody quotes return nil.
func BuildPairIndex(makerList []rfq.Maker, allowed MakerIDSet, workflow rfq.Workflow) map[string][]rfq.Maker {
	index := make(map[string][]rfq.Maker)
	for i := range makerList {
		maker := &makerList[i]
		uri := maker.URIForWorkflow(workflow)
		if uri == nil || !allowed.Has(maker.MakerID) {
			continue
		}
		for _, pair := range maker.Pairs {
			key := pair.Key()
			index[key] = append(index[key], *maker)
		}
	}
	return index
}
