package store

import (
	"github.com/mcdev12/livebid/go/internal/livebid/events"
	"github.com/mcdev12/livebid/go/internal/models"
)

// Balance tracks the signed-in user's funds. It changes only through
// confirmed BalanceChanged events or an explicit refresh.
type Balance struct {
	view  models.UserBalanceView
	known bool
}

// NewBalance creates a tracker for userID.
func NewBalance(userID string) *Balance {
	return &Balance{view: models.UserBalanceView{UserID: userID}}
}

// Replace installs a freshly fetched balance for the tracked user.
func (b *Balance) Replace(view models.UserBalanceView) bool {
	if view.UserID != b.view.UserID {
		return false
	}
	b.view = view
	b.known = true
	return true
}

// Apply applies a BalanceChanged event addressed to the tracked user.
func (b *Balance) Apply(ev events.BalanceChanged) bool {
	if ev.UserID != b.view.UserID {
		return false
	}
	b.view.Available = ev.Available
	b.view.Reserved = ev.Reserved
	b.known = true
	return true
}

// View returns the balance and whether it has been loaded.
func (b *Balance) View() (models.UserBalanceView, bool) {
	return b.view, b.known
}
