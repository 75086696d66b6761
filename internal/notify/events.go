package notify

import (
	"fmt"

	"github.com/wpowiertowski/posse/internal/post"
	"github.com/wpowiertowski/posse/internal/social"
)

// Domain events. All of them are advisory: errors from Notify are dropped
// on purpose.

// PostReceived fires when the webhook accepts a post into the queue.
func (s *Service) PostReceived(p *post.Inbound) {
	_ = s.Notify(Notification{
		Title:   "Post Received",
		Message: fmt.Sprintf("%q accepted for syndication", p.Title),
		URL:     p.CanonicalURL,
	})
}

// Dispatched fires per account once the remote post exists.
func (s *Service) Dispatched(p *post.Inbound, acct social.Account, remoteURL string) {
	_ = s.Notify(Notification{
		Title:    "Post Syndicated",
		Message:  fmt.Sprintf("%q posted to %s/%s", p.Title, acct.Platform, acct.Name),
		URL:      remoteURL,
		URLTitle: "View on " + acct.Platform,
	})
}

// DispatchFailed fires per account with an already sanitized reason.
func (s *Service) DispatchFailed(p *post.Inbound, acct social.Account, reason string) {
	_ = s.Notify(Notification{
		Title:    "Syndication Failed",
		Message:  fmt.Sprintf("%q failed on %s/%s: %s", p.Title, acct.Platform, acct.Name, reason),
		Priority: 1,
	})
}
