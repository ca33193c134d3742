package ui

import (
	"fmt"
	"strings"

	"github.com/BioHazard786/huddle/internal/session"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

const maxNameWidth = 24

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

func styledTable(headers []string, rows [][]string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})
}

// ParticipantRows builds one row per participant: name, role, media and
// link state.
func ParticipantRows(snap session.Snapshot) [][]string {
	presenting := make(map[string]string, len(snap.Presenters))
	for _, p := range snap.Presenters {
		presenting[p.ID] = p.Kind.String()
	}
	links := make(map[string]session.PeerSummary, len(snap.Peers))
	for _, p := range snap.Peers {
		links[p.ID] = p
	}
	listening := make(map[string]bool, len(snap.Listeners))
	for _, id := range snap.Listeners {
		listening[id] = true
	}

	rows := make([][]string, 0, len(snap.Participants))
	for _, p := range snap.Participants {
		name := truncate(p.Username, maxNameWidth)
		if name == "" {
			name = truncate(p.UserID, maxNameWidth)
		}

		var roles []string
		if p.UserID == snap.Room.HostID {
			roles = append(roles, "host")
		}
		if p.UserID == snap.Room.SelfID {
			roles = append(roles, "you")
		}

		var activity []string
		if kind, ok := presenting[p.UserID]; ok {
			activity = append(activity, kind)
		}
		if p.UserID == snap.SpeakingTo {
			activity = append(activity, "hearing you")
		}
		if listening[p.UserID] {
			activity = append(activity, "talking")
		}

		link := "-"
		if l, ok := links[p.UserID]; ok {
			link = fmt.Sprintf("%s/%s", l.Health, l.Phase)
			if l.Tracks > 0 {
				link += fmt.Sprintf(" (%d tracks)", l.Tracks)
			}
		}

		rows = append(rows, []string{name, strings.Join(roles, ","), strings.Join(activity, ","), link})
	}
	return rows
}

// ParticipantTable renders the participant list.
func ParticipantTable(snap session.Snapshot) string {
	if len(snap.Participants) == 0 {
		return MutedStyle.Render("Nobody here yet")
	}
	return styledTable([]string{"Name", "Role", "Media", "Link"}, ParticipantRows(snap)).Render()
}

// PresenterLine summarizes the presenter slots, e.g. "Presenters 1/2: ana (screen)".
func PresenterLine(snap session.Snapshot) string {
	label := fmt.Sprintf("%s Presenters %d/%d", IconScreen, len(snap.Presenters), snap.MaxPresenters)
	if len(snap.Presenters) == 0 {
		return label
	}
	parts := make([]string, 0, len(snap.Presenters))
	for _, p := range snap.Presenters {
		name := p.Name
		if name == "" {
			name = p.ID
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", truncate(name, maxNameWidth), p.Kind))
	}
	return label + ": " + strings.Join(parts, ", ")
}
