package notify

import (
	"context"
	"slices"
	"testing"

	"github.com/simonjohansson/tracker/internal/history"
	"github.com/simonjohansson/tracker/internal/model"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
)

type fakeDirectory struct {
	members    []int64
	policies   map[int64]model.NotifyPolicy
	users      map[int64]model.User
	commenters []int64
	ensured    []int64
}

func (f *fakeDirectory) EnsurePolicy(_ context.Context, userID, projectID int64) (model.NotifyPolicy, error) {
	if p, ok := f.policies[userID]; ok {
		return p, nil
	}
	f.ensured = append(f.ensured, userID)
	p := model.DefaultNotifyPolicy(userID, projectID)
	f.policies[userID] = p
	return p, nil
}

func (f *fakeDirectory) ListPolicies(context.Context, int64) (map[int64]model.NotifyPolicy, error) {
	out := make(map[int64]model.NotifyPolicy, len(f.policies))
	for id, p := range f.policies {
		out[id] = p
	}
	return out, nil
}

func (f *fakeDirectory) MemberIDs(context.Context, int64) ([]int64, error) {
	return f.members, nil
}

func (f *fakeDirectory) Users(_ context.Context, ids []int64) (map[int64]model.User, error) {
	out := map[int64]model.User{}
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (f *fakeDirectory) CommentAuthors(context.Context, model.Kind, int64, int64) ([]int64, error) {
	return f.commenters, nil
}

func newDirectory() *fakeDirectory {
	users := map[int64]model.User{}
	for id, name := range map[int64]string{1: "ana", 2: "bo", 3: "cy", 4: "di", 5: "ed", 6: "bot"} {
		users[id] = model.User{ID: id, Username: name, Email: name + "@example.com", IsActive: true}
	}
	bot := users[6]
	bot.IsSystem = true
	users[6] = bot
	return &fakeDirectory{
		members:  []int64{1, 2, 3, 4, 5, 6},
		policies: map[int64]model.NotifyPolicy{},
		users:    users,
	}
}

func ptr(v int64) *int64 { return &v }

func ids(users []model.User) []int64 {
	out := make([]int64, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID)
	}
	return out
}

func changeInput(author int64) Input {
	return Input{
		Entry: model.HistoryEntry{
			ID: "e1", Kind: model.KindTask, EntityID: 1, ProjectID: 10, Seq: 5,
			AuthorID: ptr(author), Type: model.HistoryChange,
			ValuesDiff: model.ValuesDiff{"status": []any{"New", "Done"}},
		},
		Entity: model.Entity{Kind: model.KindTask, ID: 1, ProjectID: 10, OwnerID: ptr(1), Watchers: []int64{2}},
	}
}

func TestParseMentions(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"ana", "bo.b"}, ParseMentions("@ana please ask @bo.b. Thanks @ana"))
	require.Empty(t, ParseMentions("mail me at ana@example.com"))
	require.Empty(t, ParseMentions(""))
}

func TestRecipientsInvolvedUsersOnly(t *testing.T) {
	t.Parallel()
	dir := newDirectory()
	r := NewResolver(dir)

	users, err := r.Recipients(context.Background(), changeInput(3), false)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, ids(users))
	slices.Sort(dir.ensured)
	require.Equal(t, []int64{1, 2}, dir.ensured)
}

func TestRecipientsSuppressAuthorUnlessOptedIn(t *testing.T) {
	t.Parallel()
	dir := newDirectory()
	r := NewResolver(dir)

	users, err := r.Recipients(context.Background(), changeInput(1), false)
	require.NoError(t, err)
	require.Equal(t, []int64{2}, ids(users))

	own := model.DefaultNotifyPolicy(1, 10)
	own.NotifyOwnChanges = true
	dir.policies[1] = own
	users, err = r.Recipients(context.Background(), changeInput(1), false)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, ids(users))
}

func TestRecipientsHonorLevels(t *testing.T) {
	t.Parallel()
	dir := newDirectory()
	dir.policies[2] = model.NotifyPolicy{UserID: 2, ProjectID: 10, Level: model.NotifyNone, LiveLevel: model.NotifyAll}
	dir.policies[4] = model.NotifyPolicy{UserID: 4, ProjectID: 10, Level: model.NotifyAll, LiveLevel: model.NotifyNone}
	dir.policies[6] = model.NotifyPolicy{UserID: 6, ProjectID: 10, Level: model.NotifyAll, LiveLevel: model.NotifyAll}
	r := NewResolver(dir)

	byMail, err := r.Recipients(context.Background(), changeInput(3), false)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 4}, ids(byMail))

	live, err := r.Recipients(context.Background(), changeInput(3), true)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, ids(live))
}

func TestRecipientsIncludePreviousAssigneesCommentersAndMentions(t *testing.T) {
	t.Parallel()
	dir := newDirectory()
	dir.commenters = []int64{4}
	r := NewResolver(dir)

	in := changeInput(3)
	in.Previous = model.Snapshot{"assigned_to": float64(5), "assigned_users": []any{float64(5)}}
	in.Mentioned = []int64{3}
	users, err := r.Recipients(context.Background(), in, false)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 4, 5}, ids(users))
}

func TestRecipientsDropInactiveAndHidden(t *testing.T) {
	t.Parallel()
	dir := newDirectory()
	inactive := dir.users[2]
	inactive.IsActive = false
	dir.users[2] = inactive
	r := NewResolver(dir)

	users, err := r.Recipients(context.Background(), changeInput(3), false)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, ids(users))

	in := changeInput(3)
	in.Entry.IsHidden = true
	users, err = r.Recipients(context.Background(), in, false)
	require.NoError(t, err)
	require.Empty(t, users)
}

func testMail(entryType model.HistoryType, diff model.ValuesDiff, comment string) Mail {
	d, _ := history.DefaultRegistry().Lookup(model.KindUserStory)
	return Mail{
		Project:    model.Project{ID: 10, Slug: "alpha", Name: "Alpha"},
		Descriptor: d,
		Entity:     model.Entity{Kind: model.KindUserStory, ID: 4, Ref: 12, Fields: map[string]any{"subject": "Login page"}},
		Entry:      model.HistoryEntry{ID: "entry-1", Type: entryType, ValuesDiff: diff, Comment: comment},
		Author:     &model.User{ID: 1, Username: "ana", FullName: "Ana A"},
	}
}

func TestComposeSubjectAndHeaders(t *testing.T) {
	t.Parallel()
	c := NewComposer("tracker.example.com")

	msg, err := c.Compose(testMail(model.HistoryChange, model.ValuesDiff{"status": []any{"New", "Done"}}, ""),
		model.User{Email: "bo@example.com", FullName: "Bo"})
	require.NoError(t, err)
	require.Equal(t, "[alpha] User Story #12 Login page", msg.Subject)
	require.Equal(t, "alpha/12/entry-1@tracker.example.com", msg.MessageID)
	require.Equal(t, "<alpha/12@tracker.example.com>", msg.InReplyTo)
	require.Equal(t, msg.InReplyTo, msg.References)
	require.Equal(t, "Alpha <alpha.tracker.example.com>", msg.ListID)
	require.Equal(t, "entry-1", msg.EntryID)
	require.Contains(t, msg.Body, `Ana A updated User Story #12 "Login page" in Alpha.`)
	require.Contains(t, msg.Body, "  * status: New -> Done")

	require.Equal(t, "[alpha] Created User Story #12 Login page", c.Subject(testMail(model.HistoryCreate, nil, "")))
	require.Equal(t, "[alpha] Deleted User Story #12 Login page", c.Subject(testMail(model.HistoryDelete, nil, "")))
}

func TestComposeBodyHidesExcludedFields(t *testing.T) {
	t.Parallel()
	c := NewComposer("")

	body, err := c.Body(testMail(model.HistoryChange, model.ValuesDiff{
		"description":      []any{"old", "new"},
		"description_diff": []any{nil, "<ins>new</ins>"},
		"assigned_users":   []any{nil, "ana, bo"},
		"attachments":      map[string]any{"new": []any{map[string]any{"id": 1}}, "changed": []any{}, "deleted": []any{}},
	}, "Looks right"))
	require.NoError(t, err)
	require.Contains(t, body, "Comment:\nLooks right")
	require.Contains(t, body, "  * assigned_users: (empty) -> ana, bo")
	require.Contains(t, body, "  * attachments: 1 new, 0 changed, 0 deleted")
	require.Contains(t, body, "  * description_diff: updated")
	require.NotContains(t, body, "* description:")
}

func TestComposeCommentOnly(t *testing.T) {
	t.Parallel()
	c := NewComposer("")
	m := testMail(model.HistoryChange, model.ValuesDiff{}, "ship it")
	m.Author = nil

	body, err := c.Body(m)
	require.NoError(t, err)
	require.Contains(t, body, `System commented on User Story #12 "Login page" in Alpha.`)
	require.NotContains(t, body, "Changes:")
}

func TestBuildMessageSetsThreadHeaders(t *testing.T) {
	t.Parallel()
	c := NewComposer("tracker.example.com")
	msg, err := c.Compose(testMail(model.HistoryChange, model.ValuesDiff{"status": []any{"New", "Done"}}, ""),
		model.User{Email: "bo@example.com", FullName: "Bo"})
	require.NoError(t, err)

	out, err := buildMessage("tracker@example.com", msg)
	require.NoError(t, err)
	require.Equal(t, []string{"<alpha/12/entry-1@tracker.example.com>"}, out.GetGenHeader(mail.HeaderMessageID))
	require.Equal(t, []string{"<alpha/12@tracker.example.com>"}, out.GetGenHeader(mail.HeaderInReplyTo))
	require.Equal(t, []string{"entry-1"}, out.GetGenHeader(mail.Header("X-Tracker-Entry")))

	_, err = buildMessage("not an address", msg)
	require.Error(t, err)
}

func TestLogMailerNeverFails(t *testing.T) {
	t.Parallel()
	require.NoError(t, NewLogMailer(nil).Send(context.Background(), Message{To: "a@example.com"}))
}

func TestMailDeliveryErrorUnwraps(t *testing.T) {
	t.Parallel()
	inner := context.DeadlineExceeded
	err := error(&MailDeliveryError{Err: inner, Retryable: true})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, isTemporary(inner))
}
