package ledger

import (
	"fmt"

	"github.com/bobarin/slnpart/internal/models"
)

// Default per-operation costs in tokens.
const (
	CoverArtCost    = 1
	AudioMasterCost = 1
	VideoCost       = 5
)

// Costs maps each job kind to its fixed price.
type Costs map[models.JobKind]int

// DefaultCosts returns the standard price table.
func DefaultCosts() Costs {
	return Costs{
		models.JobKindCoverArt:    CoverArtCost,
		models.JobKindAudioMaster: AudioMasterCost,
		models.JobKindVideo:       VideoCost,
	}
}

// For returns the price of kind.
func (c Costs) For(kind models.JobKind) (int, error) {
	cost, ok := c[kind]
	if !ok || cost <= 0 {
		return 0, fmt.Errorf("%w: no cost configured for %q", models.ErrValidation, kind)
	}
	return cost, nil
}
