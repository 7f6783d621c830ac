package service

import (
	"context"
	"fmt"

	"github.com/simonjohansson/tracker/internal/model"
	"github.com/simonjohansson/tracker/internal/store"
)

// GetPolicy returns the user's policy in the project, creating the
// default one on first access.
func (s *Service) GetPolicy(ctx context.Context, userID int64, projectSlug string) (model.NotifyPolicy, error) {
	project, err := s.GetProject(ctx, projectSlug)
	if err != nil {
		return model.NotifyPolicy{}, err
	}
	var policy model.NotifyPolicy
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := s.requireMember(ctx, tx, project.ID, userID); err != nil {
			return err
		}
		var err error
		policy, err = tx.EnsurePolicy(ctx, userID, project.ID)
		return classify(err, "get policy")
	})
	return policy, err
}

func (s *Service) GetLevel(ctx context.Context, userID int64, projectSlug string) (model.NotifyLevel, error) {
	policy, err := s.GetPolicy(ctx, userID, projectSlug)
	if err != nil {
		return "", err
	}
	return policy.Level, nil
}

// SetLevel sets the mail level. The live level follows it.
func (s *Service) SetLevel(ctx context.Context, userID int64, projectSlug string, level model.NotifyLevel) (model.NotifyPolicy, error) {
	return s.SetPolicy(ctx, userID, projectSlug, PolicyInput{Level: &level, LiveLevel: &level})
}

func (s *Service) SetPolicy(ctx context.Context, userID int64, projectSlug string, in PolicyInput) (model.NotifyPolicy, error) {
	for _, level := range []*model.NotifyLevel{in.Level, in.LiveLevel} {
		if level != nil && !level.Valid() {
			return model.NotifyPolicy{}, newError(CodeValidation, fmt.Sprintf("invalid notify level %q", *level), nil)
		}
	}
	project, err := s.GetProject(ctx, projectSlug)
	if err != nil {
		return model.NotifyPolicy{}, err
	}
	var policy model.NotifyPolicy
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := s.requireMember(ctx, tx, project.ID, userID); err != nil {
			return err
		}
		current, err := tx.EnsurePolicy(ctx, userID, project.ID)
		if err != nil {
			return classify(err, "get policy")
		}
		if in.Level != nil {
			current.Level = *in.Level
		}
		if in.LiveLevel != nil {
			current.LiveLevel = *in.LiveLevel
		}
		if in.NotifyOwnChanges != nil {
			current.NotifyOwnChanges = *in.NotifyOwnChanges
		}
		policy, err = tx.UpsertPolicy(ctx, current)
		return classify(err, "set policy")
	})
	if err != nil {
		return model.NotifyPolicy{}, err
	}
	s.logger.Info("notify policy updated",
		"project", project.Slug,
		"user_id", userID,
		"level", policy.Level,
		"live_level", policy.LiveLevel,
	)
	return policy, nil
}

func (s *Service) requireMember(ctx context.Context, tx *store.Tx, projectID, userID int64) error {
	ok, err := tx.IsMember(ctx, projectID, userID)
	if err != nil {
		return classify(err, "check membership")
	}
	if !ok {
		return newError(CodeNotFound, fmt.Sprintf("user %d is not a member of the project", userID), nil)
	}
	return nil
}
