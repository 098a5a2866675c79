package recorder

import (
	"fmt"
)

// DefaultDeviceID selects the system default input device. Any other
// non-negative ID is an index into the full PortAudio device list, the same
// index ListAudioDevices reports.
const DefaultDeviceID = -1

// DeviceInfo describes one audio device by its global index.
type DeviceInfo struct {
	Index             int
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
}

func (d DeviceInfo) IsInput() bool {
	return d.MaxInputChannels > 0
}

// inputDevices keeps the input-capable devices, preserving their indexes.
func inputDevices(all []DeviceInfo) []DeviceInfo {
	inputs := make([]DeviceInfo, 0, len(all))
	for _, device := range all {
		if device.IsInput() {
			inputs = append(inputs, device)
		}
	}
	return inputs
}

// lookupInputDevice resolves an explicit device ID against the full list.
func lookupInputDevice(all []DeviceInfo, id int) (DeviceInfo, error) {
	if id < 0 || id >= len(all) {
		return DeviceInfo{}, fmt.Errorf("invalid device ID %d", id)
	}
	device := all[id]
	if !device.IsInput() {
		return DeviceInfo{}, fmt.Errorf("device %d (%s) is not an input device", id, device.Name)
	}
	return device, nil
}
