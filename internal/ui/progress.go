package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"

	"github.com/wsxxll/webchat/internal/protocol"
	"github.com/wsxxll/webchat/internal/transfer"
	"github.com/wsxxll/webchat/internal/utils"
)

// keepFinished is how many finished transfers stay listed.
const keepFinished = 3

// TransferItem is one file transfer as shown in the side pane.
type TransferItem struct {
	FileID    string
	Peer      protocol.UserInfo
	Name      string
	Direction transfer.Direction
	Size      int64
	Bytes     int64
	Percent   float64
	Rate      float64
	Kind      transfer.EventKind
	Err       error

	bar progress.Model
}

// ShortID is the prefix users type in /accept and friends.
func (t *TransferItem) ShortID() string {
	if len(t.FileID) > 8 {
		return t.FileID[:8]
	}
	return t.FileID
}

func (t *TransferItem) Finished() bool {
	switch t.Kind {
	case transfer.EventCompleted, transfer.EventRejected, transfer.EventCancelled, transfer.EventFailed:
		return true
	}
	return false
}

// TransferList tracks transfers by file id in arrival order.
type TransferList struct {
	items map[string]*TransferItem
	order []string
	width int
}

func NewTransferList() *TransferList {
	return &TransferList{items: make(map[string]*TransferItem), width: 25}
}

// Apply folds ev into the list and returns the affected item.
func (l *TransferList) Apply(peer protocol.UserInfo, ev transfer.Event) *TransferItem {
	item, ok := l.items[ev.FileID]
	if !ok {
		item = &TransferItem{
			FileID:    ev.FileID,
			Peer:      peer,
			Name:      ev.Name,
			Direction: ev.Direction,
			Size:      ev.Size,
			bar: progress.New(
				progress.WithGradient(ProgressStart, ProgressEnd),
				progress.WithWidth(l.width),
				progress.WithoutPercentage(),
			),
		}
		l.items[ev.FileID] = item
		l.order = append(l.order, ev.FileID)
	}
	item.Kind = ev.Kind
	item.Bytes = ev.Bytes
	item.Rate = ev.Rate
	item.Percent = ev.Percent()
	if ev.Err != nil {
		item.Err = ev.Err
	}
	l.prune()
	return item
}

// prune drops the oldest finished transfers beyond keepFinished.
func (l *TransferList) prune() {
	finished := 0
	for _, id := range l.order {
		if l.items[id].Finished() {
			finished++
		}
	}
	for i := 0; finished > keepFinished && i < len(l.order); {
		id := l.order[i]
		if l.items[id].Finished() {
			delete(l.items, id)
			l.order = append(l.order[:i], l.order[i+1:]...)
			finished--
			continue
		}
		i++
	}
}

// Find returns the live transfer whose id starts with prefix, if exactly one does.
func (l *TransferList) Find(prefix string) (*TransferItem, bool) {
	var found *TransferItem
	for _, id := range l.order {
		item := l.items[id]
		if item.Finished() || !strings.HasPrefix(id, prefix) {
			continue
		}
		if found != nil {
			return nil, false
		}
		found = item
	}
	return found, found != nil
}

func (l *TransferList) Len() int { return len(l.order) }

func (l *TransferList) SetWidth(w int) {
	l.width = max(10, min(25, w))
	for _, item := range l.items {
		item.bar.Width = l.width
	}
}

func (l *TransferList) View() string {
	if len(l.order) == 0 {
		return ""
	}
	var b strings.Builder
	for _, id := range l.order {
		item := l.items[id]

		icon := IconSend
		if item.Direction == transfer.Incoming {
			icon = IconReceive
		}
		switch {
		case item.Err != nil || item.Kind == transfer.EventFailed:
			icon = IconError
		case item.Kind == transfer.EventCompleted:
			icon = IconSuccess
		}

		b.WriteString(fmt.Sprintf("%s %s %s ", icon, MutedStyle.Render(item.ShortID()), truncateString(item.Name, 20)))
		b.WriteString(item.bar.ViewAs(item.Percent / 100))
		b.WriteString(fmt.Sprintf(" %5.1f%%", item.Percent))

		switch item.Kind {
		case transfer.EventOffered:
			if item.Direction == transfer.Incoming {
				b.WriteString(WarningStyle.Render(fmt.Sprintf(" from %s (%s) /accept %s", item.Peer.Name, utils.FormatSize(item.Size), item.ShortID())))
			} else {
				b.WriteString(MutedStyle.Render(" waiting for " + item.Peer.Name))
			}
		case transfer.EventProgress, transfer.EventAccepted:
			b.WriteString(MutedStyle.Render(" " + utils.FormatSpeed(item.Rate)))
		default:
			b.WriteString(MutedStyle.Render(" " + item.Kind.String()))
		}
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
