package recorder

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

const (
	sampleRate      = 44100
	channels        = 1
	framesPerBuffer = 1024
)

// PortAudioDevice captures from a PortAudio input device. DefaultDeviceID
// selects the system default input.
type PortAudioDevice struct {
	deviceID int

	mu          sync.Mutex
	initialized bool
	params      portaudio.StreamParameters
}

func NewPortAudioDevice(deviceID int) *PortAudioDevice {
	return &PortAudioDevice{deviceID: deviceID}
}

func (d *PortAudioDevice) SampleRate() int {
	return sampleRate
}

// Probe initializes PortAudio and resolves the input device. It is the
// capability check run once per session.
func (d *PortAudioDevice) Probe() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("%w: failed to initialize PortAudio: %v", ErrCaptureUnsupported, err)
		}
		d.initialized = true
	}

	params, err := d.inputParams()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	d.params = params
	return nil
}

func (d *PortAudioDevice) inputParams() (portaudio.StreamParameters, error) {
	var device *portaudio.DeviceInfo
	if d.deviceID != DefaultDeviceID {
		devices, err := portaudio.Devices()
		if err != nil {
			return portaudio.StreamParameters{}, fmt.Errorf("failed to get audio devices: %w", err)
		}

		info, err := lookupInputDevice(describeDevices(devices), d.deviceID)
		if err != nil {
			return portaudio.StreamParameters{}, err
		}
		device = devices[info.Index]

		slog.Info("Using specified audio device",
			"deviceID", d.deviceID,
			"deviceName", device.Name,
			"sampleRate", device.DefaultSampleRate,
			"inputChannels", device.MaxInputChannels)
	} else {
		var err error
		device, err = portaudio.DefaultInputDevice()
		if err != nil {
			return portaudio.StreamParameters{}, fmt.Errorf("failed to get default input device: %w", err)
		}

		slog.Info("Using default audio device",
			"deviceName", device.Name,
			"sampleRate", device.DefaultSampleRate,
			"inputChannels", device.MaxInputChannels)
	}

	return portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: framesPerBuffer,
	}, nil
}

func (d *PortAudioDevice) Open(onChunk func(chunk []int16)) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized || d.params.Input.Device == nil {
		return nil, ErrCaptureUnsupported
	}

	stream, err := portaudio.OpenStream(d.params, func(in []int16) {
		onChunk(in)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}
	return stream, nil
}

// Terminate shuts PortAudio down. Streams must be released first.
func (d *PortAudioDevice) Terminate() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return nil
	}
	d.initialized = false
	return portaudio.Terminate()
}

// ListAudioDevices returns the input devices with the IDs NewPortAudioDevice
// accepts.
func ListAudioDevices() ([]DeviceInfo, error) {
	err := portaudio.Initialize()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	return inputDevices(describeDevices(devices)), nil
}

func describeDevices(devices []*portaudio.DeviceInfo) []DeviceInfo {
	infos := make([]DeviceInfo, len(devices))
	for i, device := range devices {
		infos[i] = DeviceInfo{
			Index:             i,
			Name:              device.Name,
			MaxInputChannels:  device.MaxInputChannels,
			DefaultSampleRate: device.DefaultSampleRate,
		}
	}
	return infos
}
