package syndicate

import (
	"context"
	"fmt"

	"github.com/wpowiertowski/posse/internal/social"
	"github.com/wpowiertowski/posse/internal/storage"
	logx "github.com/wpowiertowski/posse/pkg/logx"
)

// CatchUp plans and enqueues a reduced dispatch for a post that already went
// out to some accounts: canonical data is loaded from the origin, and only
// matching accounts with no mapping row are targeted. Returns the number of
// accounts enqueued; zero means every account is already covered.
func (s *Service) CatchUp(ctx context.Context, postID string) (int, error) {
	p, err := s.loader.PostByID(ctx, postID)
	if err != nil {
		return 0, fmt.Errorf("load post %s: %w", postID, err)
	}

	matching := s.reg.Matching(p.TagSlugs())
	if len(matching) == 0 {
		return 0, nil
	}

	refs := make([]storage.AccountRef, len(matching))
	for i, a := range matching {
		refs[i] = storage.AccountRef{Platform: a.Platform, Account: a.Name}
	}
	missing, err := s.store.MissingAccounts(ctx, p.ID, refs)
	if err != nil {
		return 0, fmt.Errorf("missing accounts for %s: %w", p.ID, err)
	}
	if len(missing) == 0 {
		s.log.Info("catch-up: nothing to do", logx.String("post", p.ID))
		return 0, nil
	}

	want := make(map[storage.AccountRef]struct{}, len(missing))
	for _, r := range missing {
		want[r] = struct{}{}
	}
	targets := make([]social.Account, 0, len(missing))
	for _, a := range matching {
		if _, ok := want[storage.AccountRef{Platform: a.Platform, Account: a.Name}]; ok {
			targets = append(targets, a)
		}
	}

	if err := s.Enqueue(ctx, Job{Post: p, Accounts: targets, CatchUp: true}); err != nil {
		return 0, err
	}
	s.log.Info("catch-up enqueued",
		logx.String("post", p.ID), logx.Int("accounts", len(targets)))
	return len(targets), nil
}
