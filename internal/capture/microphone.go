package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"
)

const (
	// SampleRate is the capture rate for all microphone audio.
	SampleRate      = 44100
	channels        = 1
	framesPerBuffer = 1024
)

// ErrPermissionDenied indicates the microphone could not be opened: the user
// rejected access or no input device exists. Fatal to an interview session.
var ErrPermissionDenied = errors.New("microphone access denied or unavailable")

// Microphone owns the single live input stream for a session. Acquire opens
// it once; Release stops it and is safe to call repeatedly.
type Microphone struct {
	deviceIndex int
	logger      *zap.Logger

	mu         sync.Mutex
	stream     *Stream
	pa         *portaudio.Stream
	acquired   bool
	deviceName string
}

// NewMicrophone selects the input device by index; pass -1 for the default.
func NewMicrophone(deviceIndex int, logger *zap.Logger) *Microphone {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Microphone{deviceIndex: deviceIndex, logger: logger}
}

// Acquire opens the input device and starts capturing. It returns the shared
// frame stream and a human-readable device label. Calling Acquire while a
// stream is live returns the existing stream.
func (m *Microphone) Acquire(ctx context.Context) (*Stream, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquired && m.stream != nil && m.stream.Live() {
		return m.stream, m.label(), nil
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, "", fmt.Errorf("%w: initialize: %v", ErrPermissionDenied, err)
	}

	device, err := m.pickDevice()
	if err != nil {
		portaudio.Terminate()
		return nil, "", err
	}

	stream := NewStream(SampleRate)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      SampleRate,
		FramesPerBuffer: framesPerBuffer,
	}
	pa, err := portaudio.OpenStream(params, func(in []int16) {
		select {
		case <-ctx.Done():
		default:
			stream.Push(in)
		}
	})
	if err != nil {
		portaudio.Terminate()
		return nil, "", fmt.Errorf("%w: open stream: %v", ErrPermissionDenied, err)
	}
	if err := pa.Start(); err != nil {
		pa.Close()
		portaudio.Terminate()
		return nil, "", fmt.Errorf("%w: start stream: %v", ErrPermissionDenied, err)
	}

	m.stream = stream
	m.pa = pa
	m.acquired = true
	m.deviceName = device.Name
	m.logger.Info("microphone acquired",
		zap.String("device", device.Name),
		zap.Float64("defaultSampleRate", device.DefaultSampleRate))
	return stream, device.Name, nil
}

func (m *Microphone) pickDevice() (*portaudio.DeviceInfo, error) {
	if m.deviceIndex < 0 {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: no default input device: %v", ErrPermissionDenied, err)
		}
		return device, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: list devices: %v", ErrPermissionDenied, err)
	}
	if m.deviceIndex >= len(devices) {
		return nil, fmt.Errorf("%w: device index %d out of range", ErrPermissionDenied, m.deviceIndex)
	}
	device := devices[m.deviceIndex]
	if device.MaxInputChannels == 0 {
		return nil, fmt.Errorf("%w: device %q has no input channels", ErrPermissionDenied, device.Name)
	}
	return device, nil
}

func (m *Microphone) label() string { return m.deviceName }

// Release stops capture and frees the device. Idempotent.
func (m *Microphone) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.acquired {
		return
	}
	m.acquired = false
	if m.pa != nil {
		if err := m.pa.Stop(); err != nil {
			m.logger.Warn("stop input stream", zap.Error(err))
		}
		m.pa.Close()
		m.pa = nil
	}
	if m.stream != nil {
		m.stream.Close()
		m.stream = nil
	}
	portaudio.Terminate()
	m.logger.Info("microphone released")
}

// ListInputDevices enumerates available input devices for troubleshooting.
func ListInputDevices() ([]portaudio.DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}
	inputs := make([]portaudio.DeviceInfo, 0)
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			inputs = append(inputs, *d)
		}
	}
	return inputs, nil
}
