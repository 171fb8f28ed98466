// Package tui is the terminal control surface for the metronome.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/satindergrewal/metronome/internal/metronome"
)

// Transport is the part of the metronome the terminal UI drives.
type Transport interface {
	Toggle() error
	Close()
	SetTempoInput(s string) bool
	NudgeTempo(delta int) int
	NudgeVolume(delta float64) float64
	ToggleMute() bool
	SetTimeSignature(ts metronome.TimeSignature) error
	SetExternalPlaying(playing bool)
	Status() metronome.Status
	Indicator() *metronome.Indicator
}

const sliderWidth = 30

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4af"))
	labelStyle  = lipgloss.NewStyle().Width(9).Foreground(lipgloss.Color("245"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#f66"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#f90"))
	litStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4af")).Bold(true)
	inputStyle  = lipgloss.NewStyle().Underline(true)
)

type Model struct {
	tr       Transport
	input    string // tempo being typed, empty when not editing
	err      error  // last start failure
	quitting bool
}

// UpdateMsg reports that the beat indicator changed.
type UpdateMsg struct{}

func NewModel(tr Transport) Model {
	return Model{tr: tr}
}

// ListenForUpdates waits for the next indicator change.
func ListenForUpdates(in *metronome.Indicator) tea.Cmd {
	return func() tea.Msg {
		<-in.Updates()
		return UpdateMsg{}
	}
}

func (m Model) Init() tea.Cmd {
	return ListenForUpdates(m.tr.Indicator())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		key := msg.String()
		if m.input != "" {
			switch key {
			case "enter":
				m.tr.SetTempoInput(m.input)
				m.input = ""
				return m, nil
			case "esc":
				m.input = ""
				return m, nil
			case "backspace":
				m.input = m.input[:len(m.input)-1]
				return m, nil
			}
		}
		if len(key) == 1 && key[0] >= '0' && key[0] <= '9' {
			if len(m.input) < 3 {
				m.input += key
			}
			return m, nil
		}

		switch key {
		case "q", "ctrl+c":
			m.quitting = true
			m.tr.Close()
			return m, tea.Quit
		case " ", "p":
			m.err = m.tr.Toggle()
		case "up", "k":
			m.tr.NudgeTempo(1)
		case "down", "j":
			m.tr.NudgeTempo(-1)
		case "pgup", "right", "l":
			m.tr.NudgeTempo(10)
		case "pgdown", "left", "h":
			m.tr.NudgeTempo(-10)
		case "+", "=":
			m.tr.NudgeVolume(5)
		case "-", "_":
			m.tr.NudgeVolume(-5)
		case "m":
			m.tr.ToggleMute()
		case "t":
			m.tr.SetTimeSignature(m.tr.Status().TimeSignature.Next())
		case "e":
			m.tr.SetExternalPlaying(!m.tr.Status().ExternalPlaying)
		}

	case UpdateMsg:
		return m, ListenForUpdates(m.tr.Indicator())
	}
	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	s := m.tr.Status()
	var b strings.Builder

	b.WriteString(titleStyle.Render("metronome"))
	b.WriteString("\n\n  ")
	b.WriteString(beatRow(s.Markers))
	b.WriteString("\n\n")

	tempo := fmt.Sprintf("%d BPM", s.Tempo)
	if m.input != "" {
		tempo = inputStyle.Render(m.input+"_") + dimStyle.Render(" enter to apply")
	}
	fmt.Fprintf(&b, "%s%s\n", labelStyle.Render("Tempo"), tempo)
	fmt.Fprintf(&b, "%s%s\n", labelStyle.Render(""),
		slider(float64(s.Tempo-metronome.MinTempo)/float64(metronome.MaxTempo-metronome.MinTempo)))
	fmt.Fprintf(&b, "%s%s\n", labelStyle.Render("Meter"), s.TimeSignature)

	vol := fmt.Sprintf("%.0f%%", s.Volume)
	if s.Muted {
		vol += dimStyle.Render(" (muted)")
	}
	fmt.Fprintf(&b, "%s%s\n", labelStyle.Render("Volume"), vol)
	fmt.Fprintf(&b, "%s%s\n\n", labelStyle.Render(""), slider(s.Volume/100))

	fmt.Fprintf(&b, "  %s\n", statusLine(s, m.err))
	b.WriteString(dimStyle.Render("\n  space start/stop  ↑/↓ tempo  pgup/pgdn ±10  0-9 type tempo\n  +/- volume  m mute  t meter  e external  q quit"))
	b.WriteString("\n")
	return b.String()
}

func beatRow(markers []metronome.Marker) string {
	dots := make([]string, len(markers))
	for i, mk := range markers {
		switch {
		case mk.Lit:
			dots[i] = litStyle.Render("●")
		case mk.Accent:
			dots[i] = accentStyle.Render("○")
		default:
			dots[i] = dimStyle.Render("○")
		}
	}
	return strings.Join(dots, " ")
}

func slider(frac float64) string {
	frac = min(max(frac, 0), 1)
	filled := int(frac*sliderWidth + 0.5)
	return strings.Repeat("━", filled) + dimStyle.Render(strings.Repeat("─", sliderWidth-filled))
}

func statusLine(s metronome.Status, err error) string {
	switch {
	case s.Disabled:
		msg := "audio unavailable"
		if s.Error != "" {
			msg += ": " + s.Error
		} else if err != nil {
			msg += ": " + err.Error()
		}
		return errorStyle.Render(msg)
	case s.ExternalPlaying:
		return accentStyle.Render("Syncing with external source")
	case s.Running:
		return fmt.Sprintf("Playing, beat %d of %d", s.CurrentBeat, s.BeatsPerMeasure)
	}
	return dimStyle.Render("Stopped")
}
