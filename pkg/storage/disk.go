// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
)

// DiskUsage of the file system that holds the storage directory.
type DiskUsage struct {
	Total     uint64 `json:"total"`
	Free      uint64 `json:"free"`
	Used      uint64 `json:"used"`
	Percent   int    `json:"percent"`
	Formatted string `json:"formatted"`
}

type usageFunc func(string) (*disk.UsageStat, error)

// Disk calculates and caches disk usage.
type Disk struct {
	path    string
	usageFn usageFunc

	cache      DiskUsage
	lastUpdate time.Time
	cacheLock  sync.Mutex

	updateLock sync.Mutex
}

// NewDisk returns a disk for the file system at path.
func NewDisk(path string) *Disk {
	return &Disk{
		path:    path,
		usageFn: disk.Usage,
	}
}

// UsageCached returns cached value and its age.
func (d *Disk) UsageCached() (DiskUsage, time.Duration) {
	d.cacheLock.Lock()
	defer d.cacheLock.Unlock()

	return d.cache, time.Since(d.lastUpdate)
}

// Usage returns cached value if witin maxAge.
// Will update and return new value if the cached value is too old.
func (d *Disk) Usage(maxAge time.Duration) (DiskUsage, error) {
	maxTime := time.Now().Add(-maxAge)

	d.cacheLock.Lock()
	if d.lastUpdate.After(maxTime) {
		defer d.cacheLock.Unlock()
		return d.cache, nil
	}
	d.cacheLock.Unlock()

	// Cache is too old, acquire update lock and update it.
	d.updateLock.Lock()
	defer d.updateLock.Unlock()

	// Check if it was updated while we were waiting for the update lock.
	d.cacheLock.Lock()
	if d.lastUpdate.After(maxTime) {
		defer d.cacheLock.Unlock()
		return d.cache, nil
	}
	d.cacheLock.Unlock()

	stat, err := d.usageFn(d.path)
	if err != nil {
		return DiskUsage{}, fmt.Errorf("disk usage: %w", err)
	}
	usage := DiskUsage{
		Total:     stat.Total,
		Free:      stat.Free,
		Used:      stat.Used,
		Percent:   int(stat.UsedPercent),
		Formatted: formatDiskUsage(float64(stat.Used)),
	}

	d.cacheLock.Lock()
	d.cache = usage
	d.lastUpdate = time.Now()
	d.cacheLock.Unlock()

	return usage, nil
}

const (
	kilobyte float64 = 1000
	megabyte         = kilobyte * 1000
	gigabyte         = megabyte * 1000
	terabyte         = gigabyte * 1000
)

func formatDiskUsage(used float64) string {
	switch {
	case used < 1000*megabyte:
		return fmt.Sprintf("%.0fMB", used/megabyte)
	case used < 10*gigabyte:
		return fmt.Sprintf("%.2fGB", used/gigabyte)
	case used < 100*gigabyte:
		return fmt.Sprintf("%.1fGB", used/gigabyte)
	case used < 1000*gigabyte:
		return fmt.Sprintf("%.0fGB", used/gigabyte)
	case used < 10*terabyte:
		return fmt.Sprintf("%.2fTB", used/terabyte)
	case used < 100*terabyte:
		return fmt.Sprintf("%.1fTB", used/terabyte)
	default:
		return fmt.Sprintf("%.0fTB", used/terabyte)
	}
}
