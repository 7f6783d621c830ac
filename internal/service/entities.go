package service

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/simonjohansson/tracker/internal/history"
	"github.com/simonjohansson/tracker/internal/model"
	"github.com/simonjohansson/tracker/internal/notify"
	"github.com/simonjohansson/tracker/internal/store"
	"github.com/simonjohansson/tracker/internal/webhook"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func (s *Service) CreateEntity(ctx context.Context, projectSlug string, in CreateEntityInput) (model.Entity, model.HistoryEntry, error) {
	d, err := s.registry.Lookup(in.Kind)
	if err != nil {
		return model.Entity{}, model.HistoryEntry{}, classify(err, "create entity")
	}
	var (
		entity model.Entity
		entry  model.HistoryEntry
	)
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		project, err := tx.GetProjectBySlug(ctx, strings.TrimSpace(projectSlug))
		if err != nil {
			return classify(err, "get project")
		}
		entity = model.Entity{
			Kind:      in.Kind,
			ProjectID: project.ID,
			OwnerID:   in.AuthorID,
			Fields:    map[string]any{},
		}
		if err := s.applyPatch(ctx, tx, d, &entity, in.Patch); err != nil {
			return err
		}
		if err := tx.InsertEntity(ctx, &entity); err != nil {
			return classify(err, "create entity")
		}
		entry, err = s.record(ctx, tx, entity, in.AuthorID, in.Comment, false)
		return err
	})
	if err != nil {
		return model.Entity{}, model.HistoryEntry{}, err
	}
	s.logger.Info("entity created", "kind", entity.Kind, "entity_id", entity.ID, "ref", entity.Ref, "entry_id", entry.ID)
	return entity, entry, nil
}

func (s *Service) GetEntity(ctx context.Context, kind model.Kind, id int64) (model.Entity, error) {
	if _, err := s.registry.Lookup(kind); err != nil {
		return model.Entity{}, classify(err, "get entity")
	}
	entity, err := s.store.GetEntity(ctx, kind, id)
	if err != nil {
		return model.Entity{}, classify(err, "get entity")
	}
	return entity, nil
}

// UpdateEntity checks the client version, applies the patch and
// records the change in one transaction. A comment without field
// changes still bumps the version.
func (s *Service) UpdateEntity(ctx context.Context, kind model.Kind, id int64, in UpdateEntityInput) (model.Entity, model.HistoryEntry, error) {
	d, err := s.registry.Lookup(kind)
	if err != nil {
		return model.Entity{}, model.HistoryEntry{}, classify(err, "update entity")
	}
	var (
		entity model.Entity
		entry  model.HistoryEntry
	)
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := s.bumpVersion(ctx, tx, kind, id, in.Version); err != nil {
			return err
		}
		entity, err = tx.GetEntity(ctx, kind, id)
		if err != nil {
			return classify(err, "get entity")
		}
		if err := s.applyPatch(ctx, tx, d, &entity, in.Patch); err != nil {
			return err
		}
		if err := tx.SaveEntity(ctx, &entity); err != nil {
			return classify(err, "save entity")
		}
		entry, err = s.record(ctx, tx, entity, in.AuthorID, in.Comment, false)
		return err
	})
	if err != nil {
		return model.Entity{}, model.HistoryEntry{}, err
	}
	s.logger.Info("entity updated",
		"kind", kind,
		"entity_id", id,
		"version", entity.Version,
		"entry_id", entry.ID,
		"hidden", entry.IsHidden,
	)
	return entity, entry, nil
}

func (s *Service) DeleteEntity(ctx context.Context, kind model.Kind, id int64, version int, authorID *int64, comment string) (model.HistoryEntry, error) {
	if _, err := s.registry.Lookup(kind); err != nil {
		return model.HistoryEntry{}, classify(err, "delete entity")
	}
	var entry model.HistoryEntry
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := s.bumpVersion(ctx, tx, kind, id, version); err != nil {
			return err
		}
		entity, err := tx.GetEntity(ctx, kind, id)
		if err != nil {
			return classify(err, "get entity")
		}
		entity.Deleted = true
		if err := tx.SaveEntity(ctx, &entity); err != nil {
			return classify(err, "save entity")
		}
		entry, err = s.record(ctx, tx, entity, authorID, comment, true)
		return err
	})
	if err != nil {
		return model.HistoryEntry{}, err
	}
	s.logger.Info("entity deleted", "kind", kind, "entity_id", id, "entry_id", entry.ID)
	return entry, nil
}

// CheckAndBumpVersion increments the stored version when it equals
// clientVersion.
func (s *Service) CheckAndBumpVersion(ctx context.Context, kind model.Kind, id int64, clientVersion int) (int, error) {
	var version int
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		version, err = s.bumpVersion(ctx, tx, kind, id, clientVersion)
		return err
	})
	return version, err
}

func (s *Service) bumpVersion(ctx context.Context, tx *store.Tx, kind model.Kind, id int64, clientVersion int) (int, error) {
	if clientVersion < 0 {
		return 0, newError(CodeValidation, "version must not be negative", nil)
	}
	if _, err := s.registry.Lookup(kind); err != nil {
		return 0, classify(err, "check version")
	}
	version, err := tx.BumpVersion(ctx, kind, id, clientVersion)
	if err != nil {
		return 0, classify(err, "check version")
	}
	return version, nil
}

// TakeSnapshot records the current state of an entity without mutating
// it, for callers that changed the entity through other means.
func (s *Service) TakeSnapshot(ctx context.Context, ref model.EntityRef, authorID *int64, comment string, deleted bool) (*model.HistoryEntry, error) {
	if _, err := s.registry.Lookup(ref.Kind); err != nil {
		return nil, classify(err, "take snapshot")
	}
	var entry model.HistoryEntry
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		entity, err := tx.GetEntity(ctx, ref.Kind, ref.ID)
		if err != nil {
			return classify(err, "get entity")
		}
		entry, err = s.record(ctx, tx, entity, authorID, comment, deleted)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetHistory lists the visible entries of an entity in order, squashed
// when asked.
func (s *Service) GetHistory(ctx context.Context, kind model.Kind, id int64, squashed bool) ([]model.HistoryEntry, error) {
	if _, err := s.GetEntity(ctx, kind, id); err != nil {
		return nil, err
	}
	entries, err := s.store.ListEntries(ctx, kind, id, false)
	if err != nil {
		return nil, classify(err, "list history")
	}
	if !squashed {
		return entries, nil
	}
	out, err := history.SquashEntries(entries, s.strict)
	if err != nil {
		s.logger.Error("history not squashed", "kind", kind, "entity_id", id, "error", err)
	}
	return out, nil
}

func (s *Service) AddWatcher(ctx context.Context, kind model.Kind, id, userID int64, authorID *int64) (model.HistoryEntry, error) {
	return s.changeWatchers(ctx, kind, id, authorID, func(watchers []int64) []int64 {
		if slices.Contains(watchers, userID) {
			return watchers
		}
		return append(watchers, userID)
	}, userID)
}

func (s *Service) RemoveWatcher(ctx context.Context, kind model.Kind, id, userID int64, authorID *int64) (model.HistoryEntry, error) {
	return s.changeWatchers(ctx, kind, id, authorID, func(watchers []int64) []int64 {
		return slices.DeleteFunc(watchers, func(w int64) bool { return w == userID })
	}, 0)
}

// changeWatchers bumps the stored version like any other mutation; the
// entry is hidden when the set did not change.
func (s *Service) changeWatchers(ctx context.Context, kind model.Kind, id int64, authorID *int64, change func([]int64) []int64, mustBeMember int64) (model.HistoryEntry, error) {
	d, err := s.registry.Lookup(kind)
	if err != nil {
		return model.HistoryEntry{}, classify(err, "change watchers")
	}
	if !d.Watchers {
		return model.HistoryEntry{}, newError(CodeValidation, fmt.Sprintf("%s has no watchers", kind), nil)
	}
	var entry model.HistoryEntry
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		entity, err := tx.GetEntity(ctx, kind, id)
		if err != nil {
			return classify(err, "get entity")
		}
		if entity.Deleted {
			return newError(CodeNotFound, fmt.Sprintf("%s %d is deleted", kind, id), nil)
		}
		if mustBeMember != 0 {
			if err := s.requireMembers(ctx, tx, entity.ProjectID, []int64{mustBeMember}); err != nil {
				return err
			}
		}
		version, err := tx.BumpVersion(ctx, kind, id, entity.Version)
		if err != nil {
			return classify(err, "bump version")
		}
		entity.Version = version
		entity.Watchers = change(slices.Clone(entity.Watchers))
		if err := tx.SaveEntity(ctx, &entity); err != nil {
			return classify(err, "save entity")
		}
		entry, err = s.record(ctx, tx, entity, authorID, "", false)
		return err
	})
	return entry, err
}

// record takes the snapshot inside tx and, for visible entries, plans
// every notification and webhook delivery in the same transaction.
func (s *Service) record(ctx context.Context, tx *store.Tx, entity model.Entity, authorID *int64, comment string, deleted bool) (model.HistoryEntry, error) {
	ctx, span := tracer.Start(ctx, "history.take_snapshot", trace.WithAttributes(
		attribute.String("entity.kind", string(entity.Kind)),
		attribute.Int64("entity.id", entity.ID),
		attribute.Bool("entity.deleted", deleted),
	))
	defer span.End()

	mentioned, err := s.mentionedMembers(ctx, tx, entity.ProjectID, comment)
	if err != nil {
		return model.HistoryEntry{}, err
	}
	catalog, err := tx.LoadCatalog(ctx, entity.ProjectID)
	if err != nil {
		return model.HistoryEntry{}, classify(err, "load catalog")
	}
	rec, err := s.recorder.TakeSnapshot(ctx, tx, catalog, entity, authorID, comment, deleted)
	if err != nil {
		return model.HistoryEntry{}, classify(err, "take snapshot")
	}
	entry := rec.Entry
	span.SetAttributes(
		attribute.String("history.entry_id", entry.ID),
		attribute.Bool("history.hidden", entry.IsHidden),
	)

	tx.AfterCommit(func() {
		if s.observer != nil {
			s.observer.ObserveEntry(string(entry.Type), entry.IsHidden)
		}
	})
	if entry.IsHidden {
		return entry, nil
	}

	live, queued, err := s.planDispatch(ctx, tx, rec, entity, mentioned)
	if err != nil {
		return model.HistoryEntry{}, err
	}
	tx.AfterCommit(func() {
		if queued > 0 && s.waker != nil {
			s.waker.Wake()
		}
		s.publish(model.Event{
			Type:      model.EventTypeForEntry(entry),
			ProjectID: entry.ProjectID,
			Kind:      entry.Kind,
			EntityID:  entry.EntityID,
			EntryID:   entry.ID,
			Users:     live,
			Diff:      history.PublicDiff(entry.ValuesDiff),
			Timestamp: entry.CreatedAt,
		})
	})
	return entry, nil
}

// planDispatch enqueues one email per recipient and one webhook call
// per project webhook, and resolves the live recipients.
func (s *Service) planDispatch(ctx context.Context, tx *store.Tx, rec history.Record, entity model.Entity, mentioned []int64) ([]int64, int, error) {
	entry := rec.Entry
	project, err := tx.GetProject(ctx, entry.ProjectID)
	if err != nil {
		return nil, 0, classify(err, "get project")
	}
	d, err := s.registry.Lookup(entry.Kind)
	if err != nil {
		return nil, 0, classify(err, "plan dispatch")
	}
	var author *model.User
	if entry.AuthorID != nil {
		user, err := tx.GetUser(ctx, *entry.AuthorID)
		if err == nil {
			author = &user
		}
	}

	resolver := notify.NewResolver(tx)
	input := notify.Input{Entry: entry, Entity: entity, Previous: rec.Previous, Mentioned: mentioned}
	queued := 0

	recipients, err := resolver.Recipients(ctx, input, false)
	if err != nil {
		return nil, 0, classify(err, "resolve recipients")
	}
	mail := notify.Mail{Project: project, Descriptor: d, Entity: entity, Entry: entry, Author: author}
	for _, user := range recipients {
		msg, err := s.composer.Compose(mail, user)
		if err != nil {
			return nil, 0, classify(err, "compose mail")
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			return nil, 0, classify(err, "encode mail")
		}
		inserted, err := tx.EnqueueDelivery(ctx, &model.Delivery{
			EntryID:  entry.ID,
			Channel:  model.ChannelEmail,
			TargetID: user.ID,
			Lane:     store.Lane(model.ChannelEmail, user.ID, entry.Kind, entry.EntityID),
			Payload:  payload,
		})
		if err != nil {
			return nil, 0, classify(err, "enqueue mail")
		}
		if inserted {
			queued++
		}
	}

	hooks, err := tx.ListWebhooks(ctx, project.ID)
	if err != nil {
		return nil, 0, classify(err, "list webhooks")
	}
	if len(hooks) > 0 {
		body, err := webhook.Encode(webhook.BuildPayload(entry, author))
		if err != nil {
			return nil, 0, classify(err, "encode webhook payload")
		}
		for _, hook := range hooks {
			inserted, err := tx.EnqueueDelivery(ctx, &model.Delivery{
				EntryID:  entry.ID,
				Channel:  model.ChannelWebhook,
				TargetID: hook.ID,
				Lane:     store.Lane(model.ChannelWebhook, hook.ID, entry.Kind, entry.EntityID),
				Payload:  body,
			})
			if err != nil {
				return nil, 0, classify(err, "enqueue webhook")
			}
			if inserted {
				queued++
			}
		}
	}

	liveUsers, err := resolver.Recipients(ctx, input, true)
	if err != nil {
		return nil, 0, classify(err, "resolve live recipients")
	}
	live := make([]int64, 0, len(liveUsers))
	for _, user := range liveUsers {
		live = append(live, user.ID)
	}
	return live, queued, nil
}

// mentionedMembers resolves @mentions in comment. Every mention must
// name a project member.
func (s *Service) mentionedMembers(ctx context.Context, tx *store.Tx, projectID int64, comment string) ([]int64, error) {
	names := notify.ParseMentions(comment)
	out := make([]int64, 0, len(names))
	for _, name := range names {
		user, err := tx.MemberByUsername(ctx, projectID, name)
		if err != nil {
			if IsNotFound(classify(err, "")) {
				return nil, newError(CodeValidation, fmt.Sprintf("mentioned user %q is not a project member", name), err)
			}
			return nil, classify(err, "resolve mention")
		}
		out = append(out, user.ID)
	}
	return out, nil
}

func (s *Service) requireMembers(ctx context.Context, tx *store.Tx, projectID int64, ids []int64) error {
	for _, id := range ids {
		ok, err := tx.IsMember(ctx, projectID, id)
		if err != nil {
			return classify(err, "check membership")
		}
		if !ok {
			return newError(CodeValidation, fmt.Sprintf("user %d is not a project member", id), nil)
		}
	}
	return nil
}

func (s *Service) applyPatch(ctx context.Context, tx *store.Tx, d history.Descriptor, entity *model.Entity, p EntityPatch) error {
	for field, value := range p.Fields {
		if !slices.Contains(d.Scalars, field) && !d.IsMarkup(field) {
			return newError(CodeValidation, fmt.Sprintf("%s has no field %q", d.Kind, field), nil)
		}
		if d.IsMarkup(field) && value != nil {
			if _, ok := value.(string); !ok {
				return newError(CodeValidation, fmt.Sprintf("%s must be text", field), nil)
			}
		}
		if value == nil {
			delete(entity.Fields, field)
			continue
		}
		entity.Fields[field] = value
	}
	if p.OwnerID != nil {
		if err := s.requireMembers(ctx, tx, entity.ProjectID, []int64{*p.OwnerID}); err != nil {
			return err
		}
		owner := *p.OwnerID
		entity.OwnerID = &owner
	}
	if p.AssignedTo != nil {
		switch {
		case d.Assignees == "":
			return newError(CodeValidation, fmt.Sprintf("%s cannot be assigned", d.Kind), nil)
		case d.Assignees == history.AssignSingle && len(*p.AssignedTo) > 1:
			return newError(CodeValidation, fmt.Sprintf("%s takes a single assignee", d.Kind), nil)
		}
		if err := s.requireMembers(ctx, tx, entity.ProjectID, *p.AssignedTo); err != nil {
			return err
		}
		entity.AssignedTo = slices.Clone(*p.AssignedTo)
	}
	if p.Watchers != nil {
		if !d.Watchers {
			return newError(CodeValidation, fmt.Sprintf("%s has no watchers", d.Kind), nil)
		}
		if err := s.requireMembers(ctx, tx, entity.ProjectID, *p.Watchers); err != nil {
			return err
		}
		entity.Watchers = slices.Clone(*p.Watchers)
	}
	if p.Tags != nil {
		if !d.Tags {
			return newError(CodeValidation, fmt.Sprintf("%s has no tags", d.Kind), nil)
		}
		entity.Tags = slices.Clone(*p.Tags)
	}
	if p.Attachments != nil {
		if !d.Attachments {
			return newError(CodeValidation, fmt.Sprintf("%s has no attachments", d.Kind), nil)
		}
		entity.Attachments = slices.Clone(*p.Attachments)
	}
	if len(p.CustomAttributes) > 0 {
		if !d.CustomAttributes {
			return newError(CodeValidation, fmt.Sprintf("%s has no custom attributes", d.Kind), nil)
		}
		if entity.CustomAttributes == nil {
			entity.CustomAttributes = map[string]model.CustomAttributeValue{}
		}
		for key, value := range p.CustomAttributes {
			if value.Value == nil {
				delete(entity.CustomAttributes, key)
				continue
			}
			entity.CustomAttributes[key] = value
		}
	}
	if len(p.Points) > 0 {
		if !d.Points {
			return newError(CodeValidation, fmt.Sprintf("%s has no points", d.Kind), nil)
		}
		if entity.Points == nil {
			entity.Points = map[string]int64{}
		}
		for role, points := range p.Points {
			entity.Points[role] = points
		}
	}
	return nil
}
