// Package tui renders a live tail of the event stream for operators watching
// the shared confirmations mailbox.
package tui

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/condorfx/mailroom/bus"
)

// Tail is a terminal view over one bus subscription. Events scroll in a log
// pane; heartbeats and the connection handshake feed the status bar.
type Tail struct {
	*tview.Application
	logView   *tview.TextView
	statusBar *tview.TextView

	events *bus.Bus
	filter bus.Filter
	status func() string
}

// NewTail builds the view. status supplies the supervisor snapshot line shown
// alongside stream liveness; it may be nil.
func NewTail(events *bus.Bus, filter bus.Filter, status func() string) *Tail {
	t := &Tail{
		Application: tview.NewApplication(),
		events:      events,
		filter:      filter,
		status:      status,
	}

	t.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetMaxLines(2000)
	t.logView.SetBackgroundColor(tcell.ColorDefault)
	t.logView.SetBorder(true).SetTitle(" events ")

	t.statusBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft).
		SetText(" connecting... | Q/Ctrl+C: quit")
	t.statusBar.SetBackgroundColor(tcell.ColorDefault)

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(t.logView, 0, 1, true).
		AddItem(t.statusBar, 1, 0, false)

	t.Application.SetRoot(layout, true)
	t.Application.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyCtrlC || event.Rune() == 'q' || event.Rune() == 'Q' {
			t.Stop()
			return nil
		}
		return event
	})
	return t
}

// Run subscribes and blocks until the user quits or the stream ends.
func (t *Tail) Run() error {
	sub := t.events.Subscribe(t.filter)
	defer t.events.Unsubscribe(sub)
	go t.consume(sub)
	return t.Application.Run()
}

func (t *Tail) consume(sub *bus.Subscription) {
	for tok := range sub.Tokens() {
		tok := tok
		t.QueueUpdateDraw(func() {
			switch tok.Type {
			case bus.TokenConnection:
				data := tok.Data.(bus.ConnectionData)
				t.setStatus(fmt.Sprintf("%s | connection %s", data.Status, data.ConnectionID), false)
			case bus.TokenHeartbeat:
				data := tok.Data.(bus.HeartbeatData)
				t.setStatus(fmt.Sprintf("live | heartbeat %s | dropped %d",
					data.Timestamp.Format("15:04:05"), sub.Dropped()), false)
			case bus.TokenEvent:
				event := tok.Data.(bus.Event)
				fmt.Fprintln(t.logView, tview.TranslateANSI(FormatEventLine(event)))
				t.logView.ScrollToEnd()
			case bus.TokenError:
				data := tok.Data.(bus.ErrorData)
				t.setStatus("stream error: "+data.Message, true)
			}
		})
	}
	t.QueueUpdateDraw(func() {
		t.setStatus("stream closed", true)
	})
}

func (t *Tail) setStatus(stream string, alert bool) {
	line := " " + stream
	if t.status != nil {
		line += " | " + t.status()
	}
	line += " | Q/Ctrl+C: quit"
	if alert {
		t.statusBar.SetText(tview.TranslateANSI(StatusBarAlertStyle.Render(line)))
		return
	}
	t.statusBar.SetText(tview.TranslateANSI(StatusBarStyle.Render(line)))
}

// FormatEventLine renders one event as a styled single line.
func FormatEventLine(event bus.Event) string {
	badge := MediumPriorityStyle
	switch event.Priority {
	case bus.PriorityHigh:
		badge = HighPriorityStyle
	case bus.PriorityLow:
		badge = LowPriorityStyle
	}
	line := fmt.Sprintf("%s %s %s %s",
		TimestampStyle.Render(event.Timestamp.Local().Format(time.TimeOnly)),
		badge.Render(string(event.Priority)),
		TypeStyle.Render(string(event.Type)),
		TitleStyle.Render(event.Data.Title),
	)
	if event.Data.Message != "" {
		line += " " + MessageStyle.Render(truncate(event.Data.Message, 80))
	}
	return line
}

// truncate shortens a string to at most maxLen runes, adding "..." when cut.
// Counting runes keeps multi-byte subjects from being split mid-character.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
