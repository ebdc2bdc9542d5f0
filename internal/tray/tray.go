package tray

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/getlantern/systray"
	"github.com/petems/signal-tray/internal/app"
	"github.com/petems/signal-tray/internal/audio"
	"github.com/petems/signal-tray/internal/config"
	"github.com/petems/signal-tray/internal/logging"
	"github.com/petems/signal-tray/internal/serial"
	"github.com/petems/signal-tray/internal/stream"
	"github.com/rs/zerolog"
)

// refreshInterval is how often the tooltip is refreshed and the app's
// pending rows are drained.
const refreshInterval = time.Second

// recordLabels are the segment labels offered in the Record menu; "p"
// marks a segment captured for prediction.
var recordLabels = []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9", "p"}

type UI struct {
	app     *app.App
	cfg     *config.Config
	version string
	commit  string
	log     zerolog.Logger

	// Menu items
	mStartStop *systray.MenuItem
	mSources   *systray.MenuItem
	mPorts     *systray.MenuItem
	mDevices   *systray.MenuItem
	mRecord    *systray.MenuItem
	mStopRec   *systray.MenuItem
	mCopy      *systray.MenuItem
}

// Status update methods for the app to call
func (u *UI) SetIdle() {
	u.updateStatus("idle")
	if u.mStartStop != nil {
		u.mStartStop.SetTitle("Start Capture")
	}
}

func (u *UI) SetCapturing() {
	u.updateStatus("capturing")
	if u.mStartStop != nil {
		u.mStartStop.SetTitle("Stop Capture")
	}
}

func (u *UI) SetError() {
	u.updateStatus("error")
}

func New(application *app.App, cfg *config.Config, version, commit string, log zerolog.Logger) *UI {
	return &UI{
		app:     application,
		cfg:     cfg,
		version: version,
		commit:  commit,
		log:     log,
	}
}

// SetApp sets the app reference (for circular dependency resolution)
func (u *UI) SetApp(application *app.App) {
	u.app = application
}

// Run blocks until Quit is chosen or ctx is cancelled.
func (u *UI) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		systray.Quit()
	}()
	systray.Run(func() { u.onReady(ctx) }, u.onExit)
	return nil
}

func (u *UI) onReady(ctx context.Context) {
	u.updateStatus("idle")
	systray.SetTooltip("Live signal capture")

	// Build menu
	u.mStartStop = systray.AddMenuItem("Start Capture", "Start or stop the selected source")
	systray.AddSeparator()

	u.mSources = systray.AddMenuItem("Source", "Select signal source")
	u.buildSourceMenu()

	u.mPorts = systray.AddMenuItem("Serial Port", "Select serial device")
	u.buildPortMenu()

	u.mDevices = systray.AddMenuItem("Microphone", "Select audio device")
	u.buildDeviceMenu()

	systray.AddSeparator()
	u.mRecord = systray.AddMenuItem("Record Segment", "Record a labelled segment")
	u.mStopRec = systray.AddMenuItem("Stop Recording", "Finish the current segment")
	u.mStopRec.Disable()
	u.buildRecordMenu()
	u.mCopy = systray.AddMenuItem("Copy Latest Sample", "Copy the latest sample vector as CSV")

	systray.AddSeparator()
	mLogs := systray.AddMenuItem("Open Logs", "View application logs")
	mAbout := systray.AddMenuItem("About", "About SignalTray")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	// Event loop
	go u.handleEvents(mLogs, mAbout, mQuit)
	go u.refresh(ctx)
}

func (u *UI) handleEvents(mLogs, mAbout, mQuit *systray.MenuItem) {
	for {
		select {
		case <-u.mStartStop.ClickedCh:
			if err := u.app.Toggle(); err != nil {
				u.log.Error().Err(err).Msg("Capture toggle failed")
			}
		case <-u.mStopRec.ClickedCh:
			u.stopRecording()
		case <-u.mCopy.ClickedCh:
			u.copyLatest()
		case <-mLogs.ClickedCh:
			u.openLogs()
		case <-mAbout.ClickedCh:
			u.showAbout()
		case <-mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

// selectOne wires a radio-style submenu: clicking an item calls apply and,
// if it succeeds, checks that item and unchecks the rest. A refused apply
// leaves the check marks as they were.
func (u *UI) selectOne(parent *systray.MenuItem, labels []string, checked int, apply func(i int) error) {
	items := make([]*systray.MenuItem, len(labels))
	for i, label := range labels {
		items[i] = parent.AddSubMenuItem(label, "")
		if i == checked {
			items[i].Check()
		}
	}

	for i, item := range items {
		go func() {
			for range item.ClickedCh {
				if err := apply(i); err != nil {
					u.log.Warn().Err(err).Str("item", labels[i]).Msg("Selection refused")
					continue
				}
				for j, other := range items {
					if j != i {
						other.Uncheck()
					}
				}
				item.Check()
			}
		}()
	}
}

func (u *UI) buildSourceMenu() {
	checked := -1
	for i, kind := range config.SourceKinds {
		if kind == u.cfg.Source.Kind {
			checked = i
		}
	}
	u.selectOne(u.mSources, config.SourceKinds, checked, func(i int) error {
		kind := config.SourceKinds[i]
		if err := u.app.SetSourceKind(kind); err != nil {
			return err
		}
		u.log.Info().Str("source", kind).Msg("Changed source")
		return nil
	})
}

func (u *UI) buildPortMenu() {
	ports, err := serial.ListPorts()
	if err != nil {
		u.log.Error().Err(err).Msg("Failed to list serial ports")
		return
	}
	if len(ports) == 0 {
		u.mPorts.AddSubMenuItem("No serial ports", "").Disable()
		return
	}

	checked := u.cfg.Serial.Port
	if u.cfg.Source.Kind == config.SourceFirmata {
		checked = u.cfg.Firmata.Port
	}
	u.selectOne(u.mPorts, ports, checked, func(i int) error {
		if err := u.app.SetSerialPort(i); err != nil {
			return err
		}
		u.log.Info().Str("port", ports[i]).Msg("Changed serial port")
		return nil
	})
}

func (u *UI) buildDeviceMenu() {
	devices, err := audio.ListDevices()
	if err != nil {
		u.log.Error().Err(err).Msg("Failed to list audio devices")
		return
	}

	names := make([]string, len(devices))
	checked := -1
	for i, dev := range devices {
		names[i] = dev.Name
		if dev.ID == u.cfg.Audio.DeviceID || (u.cfg.Audio.DeviceID == "" && dev.Default) {
			checked = i
		}
	}
	u.selectOne(u.mDevices, names, checked, func(i int) error {
		if err := u.app.SetAudioDevice(devices[i].ID); err != nil {
			return err
		}
		u.log.Info().Str("device", devices[i].Name).Msg("Changed audio device")
		return nil
	})
}

func (u *UI) buildRecordMenu() {
	for _, label := range recordLabels {
		item := u.mRecord.AddSubMenuItem(recordTitle(label), "")
		go func() {
			for range item.ClickedCh {
				if err := u.app.StartRecording(label); err != nil {
					u.log.Warn().Err(err).Msg("Cannot start recording")
					continue
				}
				u.mRecord.Disable()
				u.mStopRec.Enable()
				u.mStopRec.SetTitle("Stop Recording " + recordTitle(label))
			}
		}()
	}
}

func (u *UI) stopRecording() {
	seg, err := u.app.StopRecording()
	u.mRecord.Enable()
	u.mStopRec.Disable()
	u.mStopRec.SetTitle("Stop Recording")
	if err != nil {
		u.log.Warn().Err(err).Msg("Recording discarded")
		return
	}
	r, c := seg.Samples.Dims()
	u.log.Info().Str("label", seg.Label).Int("rows", r).Int("cols", c).Msg("Segment kept")
}

func (u *UI) copyLatest() {
	v := u.app.Latest()
	if v == nil {
		u.log.Info().Msg("No sample to copy")
		return
	}
	if err := clipboard.WriteAll(formatCSV(v)); err != nil {
		u.log.Error().Err(err).Msg("Failed to copy sample")
		return
	}
	u.log.Debug().Int("dims", len(v)).Msg("Copied latest sample")
}

// refresh drains the app's pending rows and shows the source counters in
// the tooltip.
func (u *UI) refresh(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rows := 0
			if m := u.app.Drain(); m != nil {
				rows, _ = m.Dims()
			}
			systray.SetTooltip(tooltip(u.app.SourceName(), u.app.Stats(), rows))
		}
	}
}

func (u *UI) openLogs() {
	path := logging.Path()
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	if err := cmd.Start(); err != nil {
		u.log.Error().Err(err).Str("path", path).Msg("Failed to open logs")
		return
	}
	go cmd.Wait()
}

func (u *UI) showAbout() {
	u.log.Info().Msgf("SignalTray %s (%s), live signal capture", u.version, u.commit)
}

func (u *UI) onExit() {
	if err := u.app.Shutdown(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
		u.log.Error().Err(err).Msg("Shutdown error")
	}
}

// updateStatus sets the tray title with a signal emoji and status indicator
func (u *UI) updateStatus(status string) {
	emoji := emojiForStatus(status)
	systray.SetTitle(fmt.Sprintf("📈 %s", emoji))
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(status string) string {
	switch status {
	case "capturing":
		return "🔴" // Red - capturing
	case "idle":
		return "🟢" // Green - ready/idle
	case "error":
		return "⚪️" // White - error
	default:
		return "🟢" // Green - default to ready
	}
}

func recordTitle(label string) string {
	if label == "p" {
		return "Prediction"
	}
	return "Label " + label
}

func formatCSV(v []float64) string {
	fields := make([]string, len(v))
	for i, x := range v {
		fields[i] = strconv.FormatFloat(x, 'g', -1, 64)
	}
	return strings.Join(fields, ",")
}

func tooltip(source string, s stream.Stats, drained int) string {
	if source == "" {
		return "No source"
	}
	return fmt.Sprintf("%s: %d blocks, %d rows/s, %d dropped, %d errors",
		source, s.Dispatched, drained, s.Discarded, s.Errors)
}
