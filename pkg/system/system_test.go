// SPDX-License-Identifier: GPL-2.0-or-later

package system

import (
	"capture/pkg/log"
	"capture/pkg/storage"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/require"
)

func TestSystem(t *testing.T) {
	newTestSystem := func() *System {
		s := New(func(time.Duration) (storage.DiskUsage, error) {
			return storage.DiskUsage{Percent: 3, Formatted: "3GB"}, nil
		}, log.NewMockLogger())
		s.cpu = func(context.Context, time.Duration, bool) ([]float64, error) {
			return []float64{11}, nil
		}
		s.ram = func() (*mem.VirtualMemoryStat, error) {
			return &mem.VirtualMemoryStat{UsedPercent: 22}, nil
		}
		return s
	}

	t.Run("update", func(t *testing.T) {
		s := newTestSystem()
		require.NoError(t, s.update(context.Background()))

		expected := Status{
			CPUUsage:           11,
			RAMUsage:           22,
			DiskUsage:          3,
			DiskUsageFormatted: "3GB",
		}
		require.Equal(t, expected, s.Status())
	})
	t.Run("cpuError", func(t *testing.T) {
		s := newTestSystem()
		s.cpu = func(context.Context, time.Duration, bool) ([]float64, error) {
			return nil, errors.New("mock")
		}
		require.Error(t, s.update(context.Background()))
		require.Equal(t, Status{}, s.Status())
	})
	t.Run("loop", func(t *testing.T) {
		s := newTestSystem()
		s.cpu = func(context.Context, time.Duration, bool) ([]float64, error) {
			time.Sleep(time.Millisecond)
			return []float64{11}, nil
		}
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan struct{})
		go func() {
			s.StatusLoop(ctx)
			close(done)
		}()
		require.Eventually(t, func() bool {
			return s.Status().CPUUsage == 11
		}, time.Second, 5*time.Millisecond)

		cancel()
		<-done
	})
}
