package devices

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"callscribe/internal/domain"
)

// PactlLister enumerates PulseAudio/PipeWire input sources through pactl.
type PactlLister struct {
	command string
}

func NewPactlLister(command string) *PactlLister {
	if command == "" {
		command = "pactl"
	}
	return &PactlLister{command: command}
}

func (p *PactlLister) ListDevices(ctx context.Context) ([]domain.AudioDevice, error) {
	cmd := exec.CommandContext(ctx, p.command, "list", "sources")
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("pactl list sources failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseSources(bytes.NewReader(out))
}

// WatchDevices follows `pactl subscribe` and signals on every source event.
// The returned channel is closed when ctx ends or pactl exits.
func (p *PactlLister) WatchDevices(ctx context.Context) (<-chan struct{}, error) {
	cmd := exec.CommandContext(ctx, p.command, "subscribe")
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pactl stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start pactl subscribe: %w", err)
	}

	changes := make(chan struct{}, 1)
	go func() {
		defer close(changes)
		defer func() { _ = cmd.Wait() }()
		scanSourceEvents(stdout, func() {
			select {
			case changes <- struct{}{}:
			default:
			}
		})
	}()
	return changes, nil
}

// scanSourceEvents calls notify for lines like "Event 'new' on source #52".
func scanSourceEvents(r io.Reader, notify func()) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "Event ") {
			continue
		}
		if strings.Contains(line, " on source #") {
			notify()
		}
	}
}

// parseSources reads the long form of `pactl list sources`, skipping monitors.
func parseSources(r io.Reader) ([]domain.AudioDevice, error) {
	var (
		devices []domain.AudioDevice
		current *pactlSource
	)

	flush := func() {
		if current == nil || current.name == "" || current.monitor {
			return
		}
		devices = append(devices, current.device())
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(line, "Source #") {
			flush()
			current = &pactlSource{}
			continue
		}
		if current == nil || trimmed == "" {
			continue
		}

		if key, value, ok := strings.Cut(trimmed, ":"); ok && !strings.Contains(key, " = ") {
			switch key {
			case "Name":
				current.name = strings.TrimSpace(value)
				if strings.HasSuffix(current.name, ".monitor") {
					current.monitor = true
				}
			case "Description":
				current.description = strings.TrimSpace(value)
			}
			continue
		}

		if key, value, ok := strings.Cut(trimmed, " = "); ok {
			value = strings.Trim(strings.TrimSpace(value), `"`)
			switch strings.TrimSpace(key) {
			case "device.class":
				if value == "monitor" {
					current.monitor = true
				}
			case "device.bus_path":
				current.busPath = value
			case "alsa.card":
				current.card = value
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pactl output: %w", err)
	}
	flush()
	return devices, nil
}

type pactlSource struct {
	name        string
	description string
	busPath     string
	card        string
	monitor     bool
}

func (s *pactlSource) device() domain.AudioDevice {
	group := s.busPath
	if group == "" && s.card != "" {
		group = "alsa-card-" + s.card
	}
	if group == "" {
		group = s.name
	}
	label := s.description
	if label == "(null)" {
		label = ""
	}
	return domain.AudioDevice{ID: s.name, Label: label, GroupID: group}
}
