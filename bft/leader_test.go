package bft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundRobinRotation(t *testing.T) {
	net := newTestNet(t, 0, nil)
	strategy := RoundRobin{}
	// leadership walks the roster in order and wraps at the committee size
	for height := uint64(1); height <= 9; height++ {
		expected := net.committee.Validators[height%4]
		require.Equal(t, expected, strategy.LeaderAt(net.committee, height))
	}
}
