package devices

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"callscribe/internal/domain"
	"callscribe/internal/ports"
)

const defaultPollInterval = 2 * time.Second

// Inventory tracks the available audio inputs and the current selection.
// The device set is always replaced wholesale, never patched.
type Inventory struct {
	lister       ports.DeviceLister
	watcher      ports.DeviceWatcher
	pollInterval time.Duration
	logger       *slog.Logger

	mu       sync.Mutex
	devices  []domain.AudioDevice
	selected string
}

// NewInventory builds an inventory; watcher may be nil to always poll.
func NewInventory(lister ports.DeviceLister, watcher ports.DeviceWatcher, pollInterval time.Duration, logger *slog.Logger) *Inventory {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Inventory{
		lister:       lister,
		watcher:      watcher,
		pollInterval: pollInterval,
		logger:       logger.With("component", "devices"),
	}
}

// Refresh re-queries the host and replaces the device set.
// Listing failures yield an empty set; the caller decides whether to block recording.
func (i *Inventory) Refresh(ctx context.Context) []domain.AudioDevice {
	listed, err := i.lister.ListDevices(ctx)
	if err != nil {
		i.logger.Warn("audio device listing failed", "error", err)
		listed = nil
	}

	devices := make([]domain.AudioDevice, 0, len(listed))
	for _, device := range listed {
		if device.Label == "" {
			device.Label = fallbackLabel(device.ID)
		}
		devices = append(devices, device)
	}

	i.mu.Lock()
	i.devices = devices
	if !containsID(devices, i.selected) {
		i.selected = ""
		if len(devices) > 0 {
			i.selected = devices[0].ID
		}
	}
	i.mu.Unlock()

	i.logger.Debug("audio devices refreshed", "count", len(devices))
	return slices.Clone(devices)
}

// Devices returns the last refreshed device set.
func (i *Inventory) Devices() []domain.AudioDevice {
	i.mu.Lock()
	defer i.mu.Unlock()
	return slices.Clone(i.devices)
}

// Select marks deviceID as the preferred input.
func (i *Inventory) Select(deviceID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.selected = deviceID
	i.logger.Info("audio device selected", "device", deviceID)
}

// Selected returns the preferred input, or "" when none is available.
func (i *Inventory) Selected() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.selected
}

// Watch re-queries the inventory on every host device change and calls onChange
// with the full set. It blocks until ctx is done.
func (i *Inventory) Watch(ctx context.Context, onChange func([]domain.AudioDevice)) {
	if i.watcher != nil {
		changes, err := i.watcher.WatchDevices(ctx)
		if err == nil {
			for range changes {
				onChange(i.Refresh(ctx))
			}
			if ctx.Err() != nil {
				return
			}
			i.logger.Warn("device watcher exited, falling back to polling")
		} else {
			i.logger.Warn("device watcher unavailable, falling back to polling", "error", err)
		}
	}
	i.poll(ctx, onChange)
}

func (i *Inventory) poll(ctx context.Context, onChange func([]domain.AudioDevice)) {
	ticker := time.NewTicker(i.pollInterval)
	defer ticker.Stop()

	last := i.Devices()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := i.Refresh(ctx)
			if !slices.Equal(current, last) {
				last = current
				onChange(current)
			}
		}
	}
}

func fallbackLabel(id string) string {
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return "Microphone " + short
}

func containsID(devices []domain.AudioDevice, id string) bool {
	if id == "" {
		return false
	}
	for _, device := range devices {
		if device.ID == id {
			return true
		}
	}
	return false
}
