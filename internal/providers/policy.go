package providers

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/bobarin/slnpart/internal/ledger"
	"github.com/bobarin/slnpart/internal/models"
)

// Policy is the declarative mapping of kind to cost and ordered candidates.
//
//	[costs]
//	video = 5
//
//	[chains]
//	video = ["xai", "veo", "replicate", "local-video"]
type Policy struct {
	Costs  map[models.JobKind]int
	Chains map[models.JobKind][]string
}

type policyFile struct {
	Costs  map[string]int      `toml:"costs"`
	Chains map[string][]string `toml:"chains"`
}

// DefaultPolicy is used when no policy file is configured; a file only needs
// to name the entries it overrides.
func DefaultPolicy() Policy {
	return Policy{
		Costs: map[models.JobKind]int{
			models.JobKindCoverArt:    ledger.CoverArtCost,
			models.JobKindAudioMaster: ledger.AudioMasterCost,
			models.JobKindVideo:       ledger.VideoCost,
		},
		Chains: map[models.JobKind][]string{
			models.JobKindCoverArt:    {"openai", "gemini", "stability", "local-cover"},
			models.JobKindAudioMaster: {"ffmpeg-master", "passthrough"},
			models.JobKindVideo:       {"xai", "veo", "replicate", "local-video"},
		},
	}
}

// LoadPolicy reads a TOML policy file over the defaults. An empty path
// returns the defaults.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read provider policy: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes TOML policy data over the defaults.
func ParsePolicy(data []byte) (Policy, error) {
	policy := DefaultPolicy()

	var file policyFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return Policy{}, fmt.Errorf("failed to parse provider policy: %w", err)
	}

	for name, cost := range file.Costs {
		kind := models.JobKind(name)
		if !kind.Valid() {
			return Policy{}, fmt.Errorf("unknown job kind %q in costs", name)
		}
		if cost <= 0 {
			return Policy{}, fmt.Errorf("cost for %s must be positive", name)
		}
		policy.Costs[kind] = cost
	}

	for name, chain := range file.Chains {
		kind := models.JobKind(name)
		if !kind.Valid() {
			return Policy{}, fmt.Errorf("unknown job kind %q in chains", name)
		}
		if len(chain) == 0 {
			return Policy{}, fmt.Errorf("chain for %s is empty", name)
		}
		policy.Chains[kind] = chain
	}

	return policy, nil
}
