package notify

import (
	"cmp"
	"context"
	"slices"

	"github.com/simonjohansson/tracker/internal/history"
	"github.com/simonjohansson/tracker/internal/model"
)

// Directory is the read side the resolver needs. Store queries and
// transactions both satisfy it.
type Directory interface {
	EnsurePolicy(ctx context.Context, userID, projectID int64) (model.NotifyPolicy, error)
	ListPolicies(ctx context.Context, projectID int64) (map[int64]model.NotifyPolicy, error)
	MemberIDs(ctx context.Context, projectID int64) ([]int64, error)
	Users(ctx context.Context, ids []int64) (map[int64]model.User, error)
	CommentAuthors(ctx context.Context, kind model.Kind, id int64, beforeSeq int64) ([]int64, error)
}

// Input describes one appended entry. Entity is the state after the
// mutation and Previous the snapshot the entry was diffed against.
type Input struct {
	Entry     model.HistoryEntry
	Entity    model.Entity
	Previous  model.Snapshot
	Mentioned []int64
}

type Resolver struct {
	dir Directory
}

func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Involved returns the users directly related to the entity: owner,
// current and previous assignees, watchers, earlier commenters and
// mentioned members.
func (r *Resolver) Involved(ctx context.Context, in Input) (map[int64]struct{}, error) {
	involved := map[int64]struct{}{}
	add := func(ids ...int64) {
		for _, id := range ids {
			involved[id] = struct{}{}
		}
	}
	if in.Entity.OwnerID != nil {
		add(*in.Entity.OwnerID)
	}
	add(in.Entity.AssignedTo...)
	add(history.AssigneesOf(in.Previous)...)
	add(in.Entity.Watchers...)
	add(in.Mentioned...)

	commenters, err := r.dir.CommentAuthors(ctx, in.Entry.Kind, in.Entry.EntityID, in.Entry.Seq)
	if err != nil {
		return nil, err
	}
	add(commenters...)
	return involved, nil
}

// Recipients resolves who is told about the entry. With live set the
// live level of each policy is used instead of the mail level. The
// result is sorted by user id.
func (r *Resolver) Recipients(ctx context.Context, in Input, live bool) ([]model.User, error) {
	if in.Entry.IsHidden {
		return nil, nil
	}
	projectID := in.Entry.ProjectID

	involved, err := r.Involved(ctx, in)
	if err != nil {
		return nil, err
	}
	members, err := r.dir.MemberIDs(ctx, projectID)
	if err != nil {
		return nil, err
	}
	policies, err := r.dir.ListPolicies(ctx, projectID)
	if err != nil {
		return nil, err
	}

	candidates := make([]int64, 0, len(members))
	for _, member := range members {
		policy, ok := policies[member]
		if !ok {
			_, isInvolved := involved[member]
			if !isInvolved {
				// Defaults never opt into everything.
				continue
			}
			if policy, err = r.dir.EnsurePolicy(ctx, member, projectID); err != nil {
				return nil, err
			}
		}
		if in.Entry.AuthorID != nil && *in.Entry.AuthorID == member && !policy.NotifyOwnChanges {
			continue
		}
		level := policy.Level
		if live {
			level = policy.LiveLevel
		}
		switch level {
		case model.NotifyAll:
			candidates = append(candidates, member)
		case model.NotifyInvolved:
			if _, ok := involved[member]; ok {
				candidates = append(candidates, member)
			}
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	users, err := r.dir.Users(ctx, candidates)
	if err != nil {
		return nil, err
	}
	out := make([]model.User, 0, len(candidates))
	for _, id := range candidates {
		user, ok := users[id]
		if !ok || !user.IsActive || user.IsSystem {
			continue
		}
		out = append(out, user)
	}
	slices.SortFunc(out, func(a, b model.User) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}
