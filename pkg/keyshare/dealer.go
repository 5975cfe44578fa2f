package keyshare

import (
	"fmt"
	"io"

	"github.com/taurusgroup/threshold-keys/pkg/math/curve"
	"github.com/taurusgroup/threshold-keys/pkg/math/polynomial"
	"github.com/taurusgroup/threshold-keys/pkg/math/sample"
	"github.com/taurusgroup/threshold-keys/pkg/party"
)

// Deal splits secret into a (threshold+1)-out-of-n sharing among ids, acting as a trusted dealer.
//
// If secret is nil, a random one is sampled.
func Deal(group curve.Curve, rand io.Reader, ids []party.ID, threshold int, secret curve.Scalar) (map[party.ID]*Config, error) {
	partyIDs := party.NewIDSlice(ids)
	if !partyIDs.Valid() {
		return nil, fmt.Errorf("keyshare.Deal: invalid party IDs %v", partyIDs)
	}
	if !ValidThreshold(threshold, len(partyIDs)) {
		return nil, fmt.Errorf("keyshare.Deal: threshold %d is invalid for %d parties", threshold, len(partyIDs))
	}
	if secret == nil {
		secret = sample.ScalarUnit(rand, group)
	}

	f := polynomial.Sample(rand, group, threshold, secret)
	defer f.Zeroize()

	shares := make(map[party.ID]curve.Scalar, len(partyIDs))
	public := make(map[party.ID]curve.Point, len(partyIDs))
	for _, j := range partyIDs {
		shares[j] = f.Evaluate(j.Scalar(group))
		public[j] = shares[j].ActOnBase()
	}

	configs := make(map[party.ID]*Config, len(partyIDs))
	for _, j := range partyIDs {
		publicCopy := make(map[party.ID]curve.Point, len(public))
		for k, X := range public {
			publicCopy[k] = X
		}
		configs[j] = &Config{
			Group:     group,
			ID:        j,
			Threshold: threshold,
			ECDSA:     shares[j],
			Public:    publicCopy,
		}
	}
	return configs, nil
}
