package audio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// portAudioHost initializes PortAudio on first use so that non-audio
// sources never touch the audio subsystem.
type portAudioHost struct {
	mu          sync.Mutex
	initialized bool
}

func (h *portAudioHost) Open(cfg Config, callback func(in []float32)) (hostStream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		if err := portaudio.Initialize(); err != nil {
			return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
		}
		h.initialized = true
	}

	device, err := findDevice(cfg.DeviceID)
	if err != nil {
		return nil, err
	}
	if device.MaxInputChannels < cfg.Channels {
		return nil, fmt.Errorf("device %q has %d input channels, need %d",
			device.Name, device.MaxInputChannels, cfg.Channels)
	}

	st, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: cfg.Channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.BufferSize,
	}, callback)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (h *portAudioHost) Terminate() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return nil
	}
	h.initialized = false
	return portaudio.Terminate()
}

func findDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", name)
}

// ListDevices returns the input-capable devices PortAudio can see.
func ListDevices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]Device, 0, len(devices))
	defaultDevice, _ := portaudio.DefaultInputDevice()

	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, Device{
				ID:      d.Name,
				Name:    d.Name,
				Default: defaultDevice != nil && d.Name == defaultDevice.Name,
			})
		}
	}

	return result, nil
}
