// SPDX-License-Identifier: GPL-2.0-or-later

package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateMachine(t *testing.T) {
	allowed := map[State]map[State]bool{
		StateUnknown: {
			StateIdle: true, StateCaching: true, StateWriting: true,
			StateStopped: true, StateCanceled: true,
		},
		StateIdle: {
			StateCaching: true, StateWriting: true, StateCanceled: true,
		},
		StateCaching: {
			StateWriting: true, StateStopped: true, StateIdle: true, StateCanceled: true,
		},
		StateWriting: {
			StateStopped: true, StateCanceled: true,
		},
		StateStopped: {
			StateIdle: true, StateCaching: true, StateWriting: true, StateCanceled: true,
		},
		StateCanceled: {
			StateIdle: true, StateCaching: true, StateWriting: true, StateStopped: true,
		},
	}

	for _, from := range States {
		for _, to := range States {
			t.Run(from.String()+"->"+to.String(), func(t *testing.T) {
				m := StateMachine{state: from}
				err := m.Transition(to)
				switch {
				case from == to:
					require.ErrorIs(t, err, ErrSameState)
					require.Equal(t, from, m.State())
				case allowed[from][to]:
					require.NoError(t, err)
					require.Equal(t, to, m.State())
				default:
					require.ErrorIs(t, err, ErrInvalidState)
					require.Equal(t, from, m.State())
				}
			})
		}
	}
}

func TestStateString(t *testing.T) {
	require.Equal(t, "writing", StateWriting.String())
	require.Equal(t, "state(9)", State(9).String())
}
