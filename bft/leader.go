package bft

import "github.com/lattice-network/lattice/lib"

// LeaderStrategy answers which committee member may propose at a given height.
// The concrete selection algorithm is pluggable; the engine only ever asks this
// question per (epoch, height) pair
type LeaderStrategy interface {
	LeaderAt(committee *lib.Committee, height uint64) *lib.Validator
}

// RoundRobin rotates leadership through the committee roster in order
type RoundRobin struct{}

// LeaderAt() picks the validator at the height's position in the roster
func (RoundRobin) LeaderAt(committee *lib.Committee, height uint64) *lib.Validator {
	return committee.Validators[height%uint64(committee.Size())]
}
