package main

import (
	"fmt"

	"github.com/cjeanneret/scango/internal/config"
	"github.com/cjeanneret/scango/internal/debug"
	"github.com/cjeanneret/scango/internal/hw/camera"
	"github.com/cjeanneret/scango/internal/hw/gpio"
	"github.com/cjeanneret/scango/internal/logic/capture"
	"github.com/cjeanneret/scango/internal/logic/decode"
	"github.com/cjeanneret/scango/internal/logic/geometry"
	"github.com/cjeanneret/scango/internal/store"
)

// scanner bundles everything a scan session needs; Close releases it all.
type scanner struct {
	gpio     gpio.Driver
	store    *store.Store
	recorder *store.Recorder
	session  *capture.Session
}

func (s *scanner) Close() {
	if s.session != nil {
		s.session.Stop()
	}
	if err := s.store.Close(); err != nil {
		debug.Warn("closing store failed: %v", err)
	}
	if s.gpio != nil {
		if err := s.gpio.Close(); err != nil {
			debug.Warn("closing GPIO driver failed: %v", err)
		}
	}
}

// newScanner wires the GPIO driver, camera, decoder, history store and
// session from cfg. The session is not started.
func newScanner(cfg *config.Config) (_ *scanner, err error) {
	s := &scanner{}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	if s.gpio, err = gpio.NewDriver(cfg.Defaults.MockGPIO); err != nil {
		return nil, fmt.Errorf("init GPIO failed: %w", err)
	}

	debug.Step(2, "Initializing camera")
	opener, err := newOpener(cfg, s.gpio)
	if err != nil {
		return nil, err
	}
	debug.Value("Camera type", cfg.Camera.Type)
	debug.PrintStruct("Camera config", cfg.Camera)
	debug.Value("Lock file", cfg.LockPath())
	mgr := camera.NewManager(opener, geometry.NewPlanner(cfg.Limits()), camera.WithLockFile(cfg.LockPath()))
	if cfg.Geometry.ManualWidth > 0 && cfg.Geometry.ManualHeight > 0 {
		mgr.SetManualScanRect(cfg.Geometry.ManualWidth, cfg.Geometry.ManualHeight)
	}

	debug.Step(3, "Initializing decoder")
	dec, err := decode.NewZXingDecoder(decode.ZXingOptions{
		Formats:      cfg.Decode.Formats,
		TryHarder:    cfg.Decode.TryHarder,
		CharacterSet: cfg.Decode.CharacterSet,
	})
	if err != nil {
		return nil, fmt.Errorf("init decoder failed: %w", err)
	}
	debug.Value("Formats", dec.Formats())

	if cfg.Store.Path != "" {
		debug.Step(4, "Opening match history")
		if s.store, err = store.Open(cfg.Store.Path); err != nil {
			return nil, fmt.Errorf("open store failed: %w", err)
		}
		debug.Value("Store", cfg.Store.Path)
	}
	s.recorder = store.NewRecorder(s.store)

	s.session = capture.NewSession(mgr, dec, s.recorder, pipelineOptions(cfg))
	s.recorder.SetSession(s.session.ID())
	return s, nil
}

func pipelineOptions(cfg *config.Config) capture.Options {
	return capture.Options{
		FocusInterval:   cfg.FocusInterval(),
		ShutdownTimeout: cfg.ShutdownTimeout(),
		ReadyTimeout:    cfg.ReadyTimeout(),
		FrameRetry:      cfg.FrameRetry(),
	}
}

func surface(cfg *config.Config) camera.Surface {
	return camera.FixedSurface(cfg.ScreenSize())
}

// newOpener selects a camera backend based on configuration and wraps it
// with the GPIO torch and focus lines when they are configured.
func newOpener(cfg *config.Config, g gpio.Driver) (camera.Opener, error) {
	var open camera.Opener
	switch cfg.Camera.Type {
	case config.CameraSimulated:
		open = func() (camera.Device, error) {
			dev := camera.NewSimulatedDevice(cfg.Camera.SupportedSizes, cfg.Camera.DefaultSize, cfg.FrameInterval())
			if cfg.Camera.SourceImage != "" {
				if err := dev.LoadScene(cfg.Camera.SourceImage); err != nil {
					return nil, err
				}
			}
			return dev, nil
		}
	case config.CameraV4L2:
		open = func() (camera.Device, error) {
			dev, err := camera.NewV4L2Device(cfg.Camera.Device, cfg.Camera.FPS, cfg.Camera.SupportedSizes, cfg.Camera.DefaultSize)
			if err != nil {
				return nil, err
			}
			return dev, nil
		}
	case config.CameraScreen:
		open = func() (camera.Device, error) {
			dev, err := camera.NewScreenDevice()
			if err != nil {
				return nil, err
			}
			return dev, nil
		}
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}

	acc, err := camera.NewAccessories(g, cfg.Camera.TorchPin, cfg.Camera.FocusPin, cfg.FocusDelay())
	if err != nil {
		return nil, fmt.Errorf("init camera accessories failed: %w", err)
	}
	if acc.Empty() {
		return open, nil
	}
	debug.Value("Torch pin", cfg.Camera.TorchPin)
	debug.Value("Focus pin", cfg.Camera.FocusPin)
	return func() (camera.Device, error) {
		dev, err := open()
		if err != nil {
			return nil, err
		}
		return acc.Wrap(dev), nil
	}, nil
}
