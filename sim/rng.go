package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// === SimulationKey ===

// SimulationKey uniquely identifies a reproducible simulation run.
// Two runs with the same SimulationKey, configuration and participant set
// draw identical arrival, basket and privilege sequences.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// === Subsystem Constants ===

const (
	// SubsystemArrivals drives per-tick shopper arrivals.
	// Uses master seed directly.
	SubsystemArrivals = "arrivals"

	// SubsystemBasket draws shopping durations and basket sizes.
	SubsystemBasket = "basket"

	// SubsystemPrivilege draws the privileged flag of new shoppers.
	SubsystemPrivilege = "privilege"
)

// SubsystemParticipant returns the subsystem name for a named participant, so
// two client participants in one run draw independent sequences.
func SubsystemParticipant(name, subsystem string) string {
	return fmt.Sprintf("%s/%s", name, subsystem)
}

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem.
//
// Derivation formula:
//   - For SubsystemArrivals: uses masterSeed directly
//   - For all other subsystems: masterSeed XOR fnv1a64(subsystemName)
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type PartitionedRNG struct {
	key        SimulationKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named subsystem.
// The same subsystem name always returns the same *rand.Rand instance (cached).
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}

	derivedSeed := int64(p.key)
	if name != SubsystemArrivals {
		derivedSeed ^= fnv1a64(name)
	}

	rng := rand.New(rand.NewSource(derivedSeed))
	p.subsystems[name] = rng
	return rng
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

// IntBetween draws uniformly from [lo, hi] using the named subsystem.
// Returns lo when hi <= lo.
func (p *PartitionedRNG) IntBetween(subsystem string, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + p.ForSubsystem(subsystem).Intn(hi-lo+1)
}

// Chance reports true with probability prob using the named subsystem.
func (p *PartitionedRNG) Chance(subsystem string, prob float64) bool {
	if prob <= 0 {
		return false
	}
	if prob >= 1 {
		return true
	}
	return p.ForSubsystem(subsystem).Float64() < prob
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
