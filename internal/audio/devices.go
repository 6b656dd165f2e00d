package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const (
	clientName = "hark"
	clientIcon = "audio-input-microphone"
)

// Device describes one Pulse input source.
type Device struct {
	ID          string
	Description string
	State       string
	Available   bool
	Muted       bool
	Default     bool
}

func (d Device) String() string {
	label := d.ID
	if d.Description != "" {
		label = fmt.Sprintf("%s (%s)", d.ID, d.Description)
	}
	return label
}

// Selection is the resolved capture source plus an optional fallback warning.
type Selection struct {
	Device   Device
	Warning  string
	Fallback bool
}

func newPulseClient() (*pulse.Client, error) {
	return pulse.NewClient(
		pulse.ClientApplicationName(clientName),
		pulse.ClientApplicationIconName(clientIcon),
	)
}

// ListDevices returns Pulse input sources with default and availability metadata.
func ListDevices(_ context.Context) ([]Device, error) {
	client, err := newPulseClient()
	if err != nil {
		return nil, NewDeviceError("connect pulse server", err)
	}
	defer client.Close()

	defaultSource, err := client.DefaultSource()
	if err != nil {
		return nil, NewDeviceError("read default source", err)
	}
	defaultID := defaultSource.ID()

	var infos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &infos); err != nil {
		return nil, NewDeviceError("list sources", err)
	}

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		if info == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          info.SourceName,
			Description: info.Device,
			State:       sourceStateString(info.State),
			Available:   sourceAvailable(info),
			Muted:       info.Mute,
			Default:     info.SourceName == defaultID,
		})
	}
	return devices, nil
}

// SelectDevice resolves a device name against the live source list.
func SelectDevice(ctx context.Context, name string, fallbackToDefault bool) (Selection, error) {
	devices, err := ListDevices(ctx)
	if err != nil {
		return Selection{}, err
	}
	return selectDeviceFromList(devices, name, fallbackToDefault)
}

// selectDeviceFromList picks the named device, or the default source when
// name is empty. An unusable named device falls back to the default source
// when allowed.
func selectDeviceFromList(devices []Device, name string, fallbackToDefault bool) (Selection, error) {
	if len(devices) == 0 {
		return Selection{}, errors.New("no audio input devices found")
	}

	name = strings.TrimSpace(strings.ToLower(name))
	useDefault := name == "" || name == "default"

	var defaultDevice, named *Device
	for i := range devices {
		dev := &devices[i]
		if dev.Default && defaultDevice == nil {
			defaultDevice = dev
		}
		if !useDefault && named == nil && deviceMatches(*dev, name) {
			named = dev
		}
	}

	primary := named
	if useDefault {
		primary = defaultDevice
	}
	if primary == nil {
		if useDefault {
			return Selection{}, errors.New("default audio source is unavailable")
		}
		if !fallbackToDefault || defaultDevice == nil {
			return Selection{}, fmt.Errorf("audio.device %q did not match any source", name)
		}
		return usableFallback(defaultDevice, fmt.Sprintf("audio.device %q did not match any source; using default %q", name, defaultDevice.ID))
	}

	if usable(*primary) {
		return Selection{Device: *primary}, nil
	}

	reason := "unavailable"
	if primary.Muted {
		reason = "muted"
	}
	if useDefault || !fallbackToDefault || defaultDevice == nil {
		return Selection{}, fmt.Errorf("audio source %q is %s", primary.ID, reason)
	}
	return usableFallback(defaultDevice, fmt.Sprintf("audio source %q is %s; falling back to %q", primary.ID, reason, defaultDevice.ID))
}

func usableFallback(dev *Device, warning string) (Selection, error) {
	if !dev.Available {
		return Selection{}, fmt.Errorf("fallback source %q is not available", dev.ID)
	}
	if dev.Muted {
		return Selection{}, fmt.Errorf("fallback source %q is muted", dev.ID)
	}
	return Selection{Device: *dev, Warning: warning, Fallback: true}, nil
}

func usable(dev Device) bool {
	return dev.Available && !dev.Muted
}

func deviceMatches(device Device, term string) bool {
	if term == "" {
		return false
	}
	return strings.Contains(strings.ToLower(device.ID), term) ||
		strings.Contains(strings.ToLower(device.Description), term)
}

func sourceStateString(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

func sourceAvailable(source *pulseproto.GetSourceInfoReply) bool {
	if source == nil {
		return false
	}
	if len(source.Ports) == 0 {
		return true
	}
	for _, port := range source.Ports {
		if port.Name != source.ActivePortName {
			continue
		}
		// PulseAudio values: unknown=0, no=1, yes=2.
		return port.Available == 0 || port.Available == 2
	}
	return true
}
