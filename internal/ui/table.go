package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/BioHazard786/warpmesh/internal/session"
)

// ShortID abbreviates a hub-assigned peer id for display.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// PeerTableView renders the registry's sessions with their state.
func PeerTableView(peers []session.PeerInfo) string {
	if len(peers) == 0 {
		return MutedStyle.Render("No peers yet")
	}

	var rows [][]string
	for i, p := range peers {
		role := "responder"
		if p.Initiator {
			role = "initiator"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			ShortID(p.ID),
			p.State.String(),
			role,
			fmt.Sprintf("%d", p.Queued),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("#", "Peer", "State", "Role", "Queued").
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

	return tbl.Render()
}

type RoomInfo struct {
	RoomCode string
	RoomLink string
	Created  bool
}

func (r RoomInfo) View() string {
	title := "Joined Room"
	if r.Created {
		title = "Room Created!"
	}

	content := fmt.Sprintf("%s %s\n\n%s Room Code:  %s\n%s Room Link:  %s",
		IconSuccess, title,
		IconCopy, BoldStyle.Foreground(Primary).Render(r.RoomCode),
		IconWeb, MutedStyle.Render(r.RoomLink),
	)

	return SuccessBoxStyle.Render(content)
}
