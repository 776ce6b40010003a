package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	pretty "github.com/jedib0t/go-pretty/v6/table"

	"github.com/wsxxll/webchat/internal/protocol"
)

// PeerRow is one participant in the /who listing.
type PeerRow struct {
	User   protocol.UserInfo
	Direct bool
}

// PeerTableView renders the room roster with each peer's link type.
func PeerTableView(rows []PeerRow) string {
	if len(rows) == 0 {
		return MutedStyle.Render("No peers")
	}

	data := make([][]string, 0, len(rows))
	for i, r := range rows {
		link := IconRelay + " relay"
		if r.Direct {
			link = IconLink + " direct"
		}
		client := r.User.Client
		if client == "" {
			client = "-"
		}
		data = append(data, []string{
			fmt.Sprintf("%d", i+1),
			truncateString(r.User.Name, 30),
			client,
			link,
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("#", "Name", "Client", "Link").
		Rows(data...).
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

// RoomStats mirrors the broker's stats endpoint.
type RoomStats struct {
	RoomID       string    `json:"roomId"`
	UserCount    int       `json:"userCount"`
	Users        []string  `json:"users"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// RoomStatsView renders a stats snapshot relative to now.
func RoomStatsView(st RoomStats, now time.Time) string {
	t := pretty.NewWriter()
	t.SetStyle(pretty.StyleRounded)
	t.SetTitle(IconRoom + " " + st.RoomID)
	t.AppendHeader(pretty.Row{"Metric", "Value"})
	t.AppendRows([]pretty.Row{
		{"Users", st.UserCount},
		{"Members", strings.Join(st.Users, "\n")},
		{"Created", fmt.Sprintf("%s (%s ago)", st.CreatedAt.Local().Format(time.DateTime), since(now, st.CreatedAt))},
		{"Last activity", since(now, st.LastActivity) + " ago"},
	})
	return t.Render()
}

func RenderRoomStats(st RoomStats) {
	fmt.Println(RoomStatsView(st, time.Now()))
}

func since(now, t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}
	return d.Truncate(time.Second).String()
}
