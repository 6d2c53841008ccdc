package tray

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atotto/clipboard"
	"github.com/getlantern/systray"
	"github.com/petems/voicetool/internal/app"
	"github.com/petems/voicetool/internal/audio"
	"github.com/petems/voicetool/internal/config"
	"github.com/petems/voicetool/internal/events"
	"github.com/rs/zerolog"
)

const (
	meterInterval = 100 * time.Millisecond
	historySlots  = 5
	historyWidth  = 40
)

type UI struct {
	app     *app.App
	version string
	commit  string
	log     zerolog.Logger

	level  atomic.Uint64 // math.Float64bits of the latest level
	mu     sync.Mutex
	status string

	// Menu items
	mStartStop *systray.MenuItem
	mMode      *systray.MenuItem
	mDevices   *systray.MenuItem
	mStreaming *systray.MenuItem
	mCopyLast  *systray.MenuItem
	mHistory   *systray.MenuItem

	deviceItems  map[int]*systray.MenuItem
	historyItems []*systray.MenuItem
	historyTexts []string // guarded by mu
}

func New(application *app.App, version, commit string, log zerolog.Logger) *UI {
	return &UI{
		app:     application,
		version: version,
		commit:  commit,
		log:     log,
		status:  "idle",
	}
}

// SetApp sets the app reference (for circular dependency resolution)
func (u *UI) SetApp(application *app.App) {
	u.app = application
}

// Status update methods for the app to call
func (u *UI) SetIdle() {
	u.updateStatus("idle")
	u.refreshHistory()
}

func (u *UI) SetRecording() {
	u.level.Store(0)
	u.updateStatus("recording")
}

func (u *UI) SetProcessing() {
	u.updateStatus("processing")
}

func (u *UI) SetError() {
	u.updateStatus("error")
}

// Emit receives capture levels and streaming events. It is called from the
// audio callback, so it only records state; drawing happens on a ticker.
func (u *UI) Emit(e events.Event) {
	switch e.Kind {
	case events.AudioLevel:
		u.level.Store(math.Float64bits(e.Level))
	case events.TranscriptionInterim, events.TranscriptionFinal:
		if e.Transcript.Text != "" {
			systray.SetTooltip(e.Transcript.Text)
		}
	case events.StreamError:
		u.log.Warn().Str("code", e.Code).Msg(e.Message)
	}
}

func (u *UI) Run(ctx context.Context) error {
	systray.Run(func() { u.onReady(ctx) }, u.onExit)
	return nil
}

// Quit closes the tray and returns from Run.
func (u *UI) Quit() {
	systray.Quit()
}

func (u *UI) onReady(ctx context.Context) {
	u.updateStatus("idle")
	systray.SetTooltip("Voice dictation")

	// Build menu
	u.mStartStop = systray.AddMenuItem(startStopTitle(false), "Start or stop recording")
	systray.AddSeparator()

	u.mMode = systray.AddMenuItem(modeTitle(u.app.Mode()), "Toggle between modes")
	u.mStreaming = systray.AddMenuItemCheckbox("Live Transcription", "Stream audio while recording", u.app.StreamingEnabled())
	systray.AddSeparator()

	u.mDevices = systray.AddMenuItem("Microphone", "Select audio device")
	u.buildDeviceMenu()

	systray.AddSeparator()
	u.mCopyLast = systray.AddMenuItem("Copy Last Transcript", "Copy the last transcript to the clipboard")
	u.mHistory = systray.AddMenuItem("Recent", "Copy an earlier transcript")
	u.buildHistoryMenu()
	mAbout := systray.AddMenuItem("About", "About VoiceTool")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	go u.drawMeter(ctx)
	// Event loop
	go u.handleEvents(mAbout, mQuit)
}

func (u *UI) handleEvents(mAbout, mQuit *systray.MenuItem) {
	for {
		select {
		case <-u.mStartStop.ClickedCh:
			u.toggleDictation()
		case <-u.mMode.ClickedCh:
			u.toggleMode()
		case <-u.mStreaming.ClickedCh:
			u.toggleStreaming()
		case <-u.mCopyLast.ClickedCh:
			u.copyLast()
		case <-mAbout.ClickedCh:
			u.showAbout()
		case <-mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

func (u *UI) drawMeter(ctx context.Context) {
	ticker := time.NewTicker(meterInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.mu.Lock()
			status := u.status
			u.mu.Unlock()
			if status == "recording" {
				systray.SetTitle(title(status, math.Float64frombits(u.level.Load())))
			}
		}
	}
}

func (u *UI) buildDeviceMenu() {
	devices, err := u.app.ListDevices()
	if err != nil {
		u.log.Error().Err(err).Msg("Failed to list audio devices")
		return
	}

	selected := u.app.SelectedDevice()
	u.deviceItems = make(map[int]*systray.MenuItem)

	def := u.mDevices.AddSubMenuItem("System Default", "")
	if selected == int(audio.DefaultDevice) {
		def.Check()
	}
	u.deviceItems[int(audio.DefaultDevice)] = def
	go u.watchDevice(int(audio.DefaultDevice), "System Default", def)

	for _, dev := range devices {
		name := dev.Name
		if dev.Default {
			name += " (default)"
		}
		item := u.mDevices.AddSubMenuItem(name, "")
		if selected == dev.Index {
			item.Check()
		}
		u.deviceItems[dev.Index] = item
		go u.watchDevice(dev.Index, dev.Name, item)
	}
}

func (u *UI) buildHistoryMenu() {
	for i := 0; i < historySlots; i++ {
		item := u.mHistory.AddSubMenuItem("", "Copy to clipboard")
		item.Hide()
		u.historyItems = append(u.historyItems, item)
		go u.watchHistory(i, item)
	}
	mClear := u.mHistory.AddSubMenuItem("Clear History", "Delete saved transcripts")
	go func() {
		for range mClear.ClickedCh {
			u.clearHistory()
		}
	}()
	u.refreshHistory()
}

func (u *UI) refreshHistory() {
	if u.app == nil || u.historyItems == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	entries, err := u.app.RecentTranscripts(ctx, historySlots)
	if err != nil {
		u.log.Warn().Err(err).Msg("Failed to load history")
		return
	}

	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Text
	}
	u.mu.Lock()
	u.historyTexts = texts
	u.mu.Unlock()

	for i, item := range u.historyItems {
		if i < len(texts) {
			item.SetTitle(historyTitle(texts[i]))
			item.Show()
		} else {
			item.Hide()
		}
	}
}

func (u *UI) watchHistory(slot int, item *systray.MenuItem) {
	for range item.ClickedCh {
		u.mu.Lock()
		var text string
		if slot < len(u.historyTexts) {
			text = u.historyTexts[slot]
		}
		u.mu.Unlock()
		if text == "" {
			continue
		}
		if err := clipboard.WriteAll(text); err != nil {
			u.log.Error().Err(err).Msg("Failed to copy transcript")
		}
	}
}

func (u *UI) clearHistory() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := u.app.ClearHistory(ctx); err != nil {
		u.log.Error().Err(err).Msg("Failed to clear history")
		return
	}
	u.log.Info().Msg("Cleared history")
	u.refreshHistory()
}

func (u *UI) watchDevice(index int, name string, menuItem *systray.MenuItem) {
	for range menuItem.ClickedCh {
		if err := u.app.SelectDevice(index); err != nil {
			u.log.Error().Err(err).Str("device", name).Msg("Failed to change audio device")
			continue
		}
		// Uncheck all other items
		for i, itm := range u.deviceItems {
			if i != index {
				itm.Uncheck()
			}
		}
		menuItem.Check()
		u.log.Info().Str("device", name).Int("index", index).Msg("Changed audio device")
	}
}

func (u *UI) toggleDictation() {
	if u.app.IsDictating() {
		u.app.StopDictation()
		u.mStartStop.SetTitle(startStopTitle(false))
		return
	}
	if err := u.app.StartDictation(); err != nil {
		u.log.Error().Err(err).Msg("Failed to start dictation")
		return
	}
	u.mStartStop.SetTitle(startStopTitle(true))
}

func (u *UI) toggleMode() {
	oldMode := u.app.Mode()
	newMode := config.ModeToggle
	if oldMode == config.ModeToggle {
		newMode = config.ModePushToTalk
	}
	if err := u.app.SetMode(newMode); err != nil {
		u.log.Error().Err(err).Msg("Failed to save mode")
	}
	u.mMode.SetTitle(modeTitle(newMode))
	u.log.Info().Str("from", oldMode).Str("to", newMode).Msg("Changed mode")
}

func (u *UI) toggleStreaming() {
	enabled := !u.app.StreamingEnabled()
	if err := u.app.SetStreaming(enabled); err != nil {
		u.log.Error().Err(err).Msg("Failed to change live transcription")
		return
	}
	if enabled {
		u.mStreaming.Check()
	} else {
		u.mStreaming.Uncheck()
	}
	u.log.Info().Bool("enabled", enabled).Msg("Changed live transcription")
}

func (u *UI) copyLast() {
	text := u.app.LastTranscript()
	if text == "" {
		return
	}
	if err := clipboard.WriteAll(text); err != nil {
		u.log.Error().Err(err).Msg("Failed to copy last transcript")
	}
}

func (u *UI) showAbout() {
	u.log.Info().Str("version", u.version).Str("commit", u.commit).Msg("VoiceTool")
}

func (u *UI) onExit() {}

// updateStatus sets the tray title with microphone emoji and status indicator
func (u *UI) updateStatus(status string) {
	u.mu.Lock()
	u.status = status
	u.mu.Unlock()
	systray.SetTitle(title(status, 0))
	if u.mStartStop != nil {
		u.mStartStop.SetTitle(startStopTitle(status == "recording"))
	}
}

func title(status string, level float64) string {
	if status == "recording" {
		return fmt.Sprintf("🎤 %s %s", emojiForStatus(status), levelMeter(level))
	}
	return fmt.Sprintf("🎤 %s", emojiForStatus(status))
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(status string) string {
	switch status {
	case "recording":
		return "🔴" // Red - recording
	case "processing":
		return "🟡" // Yellow - processing transcription
	case "idle":
		return "🟢" // Green - ready/idle
	case "error":
		return "⚪️" // White - error
	default:
		return "🟢" // Green - default to ready
	}
}

var meterBars = []rune("▁▂▃▄▅▆▇█")

// levelMeter renders a 0..1 level as a single bar glyph.
func levelMeter(level float64) string {
	if level < 0 || math.IsNaN(level) {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	i := int(math.Round(level * float64(len(meterBars)-1)))
	return string(meterBars[i])
}

// historyTitle shortens a transcript to one menu line.
func historyTitle(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= historyWidth {
		return text
	}
	return string(runes[:historyWidth-1]) + "…"
}

func modeTitle(mode string) string {
	if mode == config.ModeToggle {
		return "Mode: Toggle"
	}
	return "Mode: Push-to-Talk"
}

func startStopTitle(recording bool) string {
	if recording {
		return "Stop Dictation"
	}
	return "Start Dictation"
}
