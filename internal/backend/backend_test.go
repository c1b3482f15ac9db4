package backend

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/herald-dispatch/herald/internal/database/testutil"
	"github.com/herald-dispatch/herald/internal/models"
	apperrors "github.com/herald-dispatch/herald/pkg/errors"
)

func newTestBackend(t *testing.T, opts ...Option) (*Backend, *gorm.DB) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	b, err := New(db, opts...)
	require.NoError(t, err)
	return b, db
}

func createUser(t *testing.T, db *gorm.DB, username string) models.User {
	t.Helper()

	user := models.User{
		Username:    username,
		Email:       username + "@example.com",
		PhoneNumber: "+15550001111",
		PushToken:   "arn:aws:sns:us-east-1:123456789012:endpoint/GCM/app/" + username,
		IsActive:    true,
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func pendingInput(userID string) PersistInput {
	return PersistInput{
		UserID:           userID,
		NotificationType: models.TypeEmail,
		Title:            "Weekly digest",
		BodyTemplate:     "emails/digest_body.html",
		SubjectTemplate:  "emails/digest_subject.html",
		ContextName:      "digest",
		ContextKwargs:    map[string]any{"week": 12},
	}
}

// setCreated backdates the created column without touching hooks, so ordering
// tests are deterministic.
func setCreated(t *testing.T, db *gorm.DB, id string, created time.Time) {
	t.Helper()
	require.NoError(t, db.Model(&models.Notification{}).
		Where("id = ?", id).
		UpdateColumn("created", created).Error)
}

func TestPersistCreatesPendingWithUniqueIDs(t *testing.T) {
	b, db := newTestBackend(t)
	user := createUser(t, db, "alice")

	ctx := context.Background()
	seen := make(map[string]struct{})
	for i := 0; i < 5; i++ {
		notification, err := b.Persist(ctx, pendingInput(user.ID))
		require.NoError(t, err)
		require.Equal(t, models.StatusPendingSend, notification.Status)
		require.NotEmpty(t, notification.ID)

		_, duplicate := seen[notification.ID]
		require.False(t, duplicate)
		seen[notification.ID] = struct{}{}
	}
}

func TestPersistRejectsInvalidInput(t *testing.T) {
	b, _ := newTestBackend(t)

	ctx := context.Background()
	_, err := b.Persist(ctx, PersistInput{NotificationType: models.TypeEmail})
	require.Error(t, err)

	_, err = b.Persist(ctx, PersistInput{
		UserID:           "user-1",
		NotificationType: "CARRIER_PIGEON",
		Title:            "t",
		BodyTemplate:     "b",
	})
	require.Error(t, err)
}

func TestUpdateOnlyWhilePending(t *testing.T) {
	b, db := newTestBackend(t)
	user := createUser(t, db, "bob")

	ctx := context.Background()
	notification, err := b.Persist(ctx, pendingInput(user.ID))
	require.NoError(t, err)

	title := "Updated digest"
	updated, err := b.Update(ctx, notification.ID, UpdateInput{Title: &title})
	require.NoError(t, err)
	require.Equal(t, title, updated.Title)
	require.Equal(t, models.StatusPendingSend, updated.Status)

	_, err = b.MarkSent(ctx, notification.ID)
	require.NoError(t, err)

	other := "Too late"
	_, err = b.Update(ctx, notification.ID, UpdateInput{Title: &other})
	require.ErrorIs(t, err, apperrors.ErrUpdateConflict)

	current, err := b.Get(ctx, notification.ID, false)
	require.NoError(t, err)
	require.Equal(t, title, current.Title)
	require.Equal(t, models.StatusSent, current.Status)
}

func TestMarkSentTwiceFailsSecondCall(t *testing.T) {
	b, db := newTestBackend(t)
	user := createUser(t, db, "carol")

	ctx := context.Background()
	notification, err := b.Persist(ctx, pendingInput(user.ID))
	require.NoError(t, err)

	sent, err := b.MarkSent(ctx, notification.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusSent, sent.Status)

	_, err = b.MarkSent(ctx, notification.ID)
	require.ErrorIs(t, err, apperrors.ErrUpdateConflict)

	current, err := b.Get(ctx, notification.ID, false)
	require.NoError(t, err)
	require.Equal(t, models.StatusSent, current.Status)
}

func TestMarkFailedAfterSentLeavesStatusSent(t *testing.T) {
	b, db := newTestBackend(t)
	user := createUser(t, db, "dave")

	ctx := context.Background()
	notification, err := b.Persist(ctx, pendingInput(user.ID))
	require.NoError(t, err)

	_, err = b.MarkSent(ctx, notification.ID)
	require.NoError(t, err)

	_, err = b.MarkFailed(ctx, notification.ID)
	require.ErrorIs(t, err, apperrors.ErrUpdateConflict)

	current, err := b.Get(ctx, notification.ID, false)
	require.NoError(t, err)
	require.Equal(t, models.StatusSent, current.Status)
}

func TestMarkReadRequiresSent(t *testing.T) {
	b, db := newTestBackend(t)
	user := createUser(t, db, "erin")

	ctx := context.Background()
	notification, err := b.Persist(ctx, pendingInput(user.ID))
	require.NoError(t, err)

	_, err = b.MarkRead(ctx, notification.ID)
	require.ErrorIs(t, err, apperrors.ErrUpdateConflict)

	_, err = b.MarkSent(ctx, notification.ID)
	require.NoError(t, err)

	read, err := b.MarkRead(ctx, notification.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusRead, read.Status)
}

func TestCancelPendingHidesNotification(t *testing.T) {
	b, db := newTestBackend(t)
	user := createUser(t, db, "frank")

	ctx := context.Background()
	notification, err := b.Persist(ctx, pendingInput(user.ID))
	require.NoError(t, err)

	require.NoError(t, b.Cancel(ctx, notification.ID))

	_, err = b.Get(ctx, notification.ID, false)
	require.ErrorIs(t, err, apperrors.ErrNotificationNotFound)
}

func TestCancelSentFailsAndLeavesStatus(t *testing.T) {
	b, db := newTestBackend(t)
	user := createUser(t, db, "grace")

	ctx := context.Background()
	notification, err := b.Persist(ctx, pendingInput(user.ID))
	require.NoError(t, err)

	_, err = b.MarkSent(ctx, notification.ID)
	require.NoError(t, err)

	require.ErrorIs(t, b.Cancel(ctx, notification.ID), apperrors.ErrCancelConflict)

	current, err := b.Get(ctx, notification.ID, false)
	require.NoError(t, err)
	require.Equal(t, models.StatusSent, current.Status)
}

func TestGetUnknownNotification(t *testing.T) {
	b, _ := newTestBackend(t)

	_, err := b.Get(context.Background(), "2b1e9f0a-0000-0000-0000-000000000000", false)
	require.ErrorIs(t, err, apperrors.ErrNotificationNotFound)
}

func TestGetForUpdateReturnsRow(t *testing.T) {
	b, db := newTestBackend(t)
	user := createUser(t, db, "heidi")

	ctx := context.Background()
	notification, err := b.Persist(ctx, pendingInput(user.ID))
	require.NoError(t, err)

	locked, err := b.Get(ctx, notification.ID, true)
	require.NoError(t, err)
	require.Equal(t, notification.ID, locked.ID)
}

func TestListPendingPaginationIsFIFO(t *testing.T) {
	b, db := newTestBackend(t)
	user := createUser(t, db, "ivan")

	ctx := context.Background()
	first, err := b.Persist(ctx, pendingInput(user.ID))
	require.NoError(t, err)
	second, err := b.Persist(ctx, pendingInput(user.ID))
	require.NoError(t, err)

	base := time.Now().UTC().Add(-time.Hour)
	setCreated(t, db, first.ID, base)
	setCreated(t, db, second.ID, base.Add(time.Minute))

	pageOne, err := b.ListPending(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, pageOne, 1)
	require.Equal(t, first.ID, pageOne[0].ID)

	pageTwo, err := b.ListPending(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, pageTwo, 1)
	require.Equal(t, second.ID, pageTwo[0].ID)

	pageThree, err := b.ListPending(ctx, 3, 1)
	require.NoError(t, err)
	require.Empty(t, pageThree)
}

func TestPendingExcludesScheduledAndNonPending(t *testing.T) {
	now := time.Now().UTC()
	b, db := newTestBackend(t, WithNow(func() time.Time { return now }))
	user := createUser(t, db, "judy")

	ctx := context.Background()

	immediate, err := b.Persist(ctx, pendingInput(user.ID))
	require.NoError(t, err)

	future := now.Add(time.Hour)
	scheduledInput := pendingInput(user.ID)
	scheduledInput.SendAfter = &future
	scheduled, err := b.Persist(ctx, scheduledInput)
	require.NoError(t, err)

	elapsed := now.Add(-time.Hour)
	dueInput := pendingInput(user.ID)
	dueInput.SendAfter = &elapsed
	due, err := b.Persist(ctx, dueInput)
	require.NoError(t, err)

	sent, err := b.Persist(ctx, pendingInput(user.ID))
	require.NoError(t, err)
	_, err = b.MarkSent(ctx, sent.ID)
	require.NoError(t, err)

	pending, err := b.ListAllPending(ctx)
	require.NoError(t, err)
	pendingIDs := notificationIDs(pending)
	require.Contains(t, pendingIDs, immediate.ID)
	require.Contains(t, pendingIDs, due.ID)
	require.NotContains(t, pendingIDs, scheduled.ID)
	require.NotContains(t, pendingIDs, sent.ID)
}

func TestFutureIncludesElapsedSchedules(t *testing.T) {
	now := time.Now().UTC()
	b, db := newTestBackend(t, WithNow(func() time.Time { return now }))
	user := createUser(t, db, "kate")
	other := createUser(t, db, "leo")

	ctx := context.Background()

	immediate, err := b.Persist(ctx, pendingInput(user.ID))
	require.NoError(t, err)

	future := now.Add(time.Hour)
	scheduledInput := pendingInput(user.ID)
	scheduledInput.SendAfter = &future
	scheduled, err := b.Persist(ctx, scheduledInput)
	require.NoError(t, err)

	// A scheduled row whose send_after already elapsed still counts as future:
	// the query keys on "was scheduled", not "not yet due".
	elapsed := now.Add(-time.Hour)
	dueInput := pendingInput(other.ID)
	dueInput.SendAfter = &elapsed
	due, err := b.Persist(ctx, dueInput)
	require.NoError(t, err)

	futureRows, err := b.ListAllFuture(ctx)
	require.NoError(t, err)
	futureIDs := notificationIDs(futureRows)
	require.Contains(t, futureIDs, scheduled.ID)
	require.Contains(t, futureIDs, due.ID)
	require.NotContains(t, futureIDs, immediate.ID)

	userRows, err := b.ListAllFutureForUser(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, []string{scheduled.ID}, notificationIDs(userRows))

	paged, err := b.ListFutureForUser(ctx, other.ID, 1, 10)
	require.NoError(t, err)
	require.Equal(t, []string{due.ID}, notificationIDs(paged))
}

func TestListUnreadInApp(t *testing.T) {
	b, db := newTestBackend(t)
	user := createUser(t, db, "mallory")
	other := createUser(t, db, "nick")

	ctx := context.Background()

	inApp := pendingInput(user.ID)
	inApp.NotificationType = models.TypeInApp
	inApp.SubjectTemplate = ""

	unread, err := b.Persist(ctx, inApp)
	require.NoError(t, err)
	_, err = b.MarkSent(ctx, unread.ID)
	require.NoError(t, err)

	read, err := b.Persist(ctx, inApp)
	require.NoError(t, err)
	_, err = b.MarkSent(ctx, read.ID)
	require.NoError(t, err)
	_, err = b.MarkRead(ctx, read.ID)
	require.NoError(t, err)

	_, err = b.Persist(ctx, inApp) // still pending, must stay invisible
	require.NoError(t, err)

	email, err := b.Persist(ctx, pendingInput(user.ID))
	require.NoError(t, err)
	_, err = b.MarkSent(ctx, email.ID)
	require.NoError(t, err)

	otherUsers := pendingInput(other.ID)
	otherUsers.NotificationType = models.TypeInApp
	foreign, err := b.Persist(ctx, otherUsers)
	require.NoError(t, err)
	_, err = b.MarkSent(ctx, foreign.ID)
	require.NoError(t, err)

	rows, err := b.ListAllUnreadInApp(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, []string{unread.ID}, notificationIDs(rows))

	paged, err := b.ListUnreadInApp(ctx, user.ID, 2, 1)
	require.NoError(t, err)
	require.Empty(t, paged)
}

func TestResolveDestinationPerChannel(t *testing.T) {
	b, db := newTestBackend(t)
	user := createUser(t, db, "olga")

	ctx := context.Background()

	cases := []struct {
		notificationType models.NotificationType
		want             string
	}{
		{models.TypeEmail, user.Email},
		{models.TypeSMS, user.PhoneNumber},
		{models.TypePush, user.PushToken},
		{models.TypeInApp, user.ID},
	}

	for _, tc := range cases {
		input := pendingInput(user.ID)
		input.NotificationType = tc.notificationType
		notification, err := b.Persist(ctx, input)
		require.NoError(t, err)

		destination, err := b.ResolveDestination(ctx, notification.ID)
		require.NoError(t, err)
		require.Equal(t, tc.want, destination)
	}
}

func TestResolveDestinationInactiveUser(t *testing.T) {
	b, db := newTestBackend(t)
	user := createUser(t, db, "pam")

	ctx := context.Background()
	notification, err := b.Persist(ctx, pendingInput(user.ID))
	require.NoError(t, err)

	require.NoError(t, db.Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("is_active", false).Error)

	_, err = b.ResolveDestination(ctx, notification.ID)
	require.ErrorIs(t, err, apperrors.ErrUserNotFound)
}

func TestRecordSendAttemptWritesAuditFields(t *testing.T) {
	b, db := newTestBackend(t)
	user := createUser(t, db, "quinn")

	ctx := context.Background()
	notification, err := b.Persist(ctx, pendingInput(user.ID))
	require.NoError(t, err)

	err = b.RecordSendAttempt(ctx, notification.ID, map[string]any{"week": 12}, "adapters.EmailAdapter")
	require.NoError(t, err)

	current, err := b.Get(ctx, notification.ID, false)
	require.NoError(t, err)
	require.Equal(t, models.StatusPendingSend, current.Status)
	require.NotNil(t, current.AdapterUsed)
	require.Equal(t, "adapters.EmailAdapter", *current.AdapterUsed)
	require.JSONEq(t, `{"week": 12}`, string(current.ContextUsed))
}

func TestConcurrentMarkSentExactlyOneWins(t *testing.T) {
	b, db := newTestBackend(t)
	user := createUser(t, db, "rita")

	ctx := context.Background()
	notification, err := b.Persist(ctx, pendingInput(user.ID))
	require.NoError(t, err)

	const workers = 2
	results := make([]error, workers)

	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(workers)
	for i := 0; i < workers; i++ {
		go func(slot int) {
			defer done.Done()
			start.Wait()
			_, results[slot] = b.MarkSent(ctx, notification.ID)
		}(i)
	}
	start.Done()
	done.Wait()

	var successes, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errorsIsUpdateConflict(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, successes)
	require.Equal(t, 1, conflicts)

	current, err := b.Get(ctx, notification.ID, false)
	require.NoError(t, err)
	require.Equal(t, models.StatusSent, current.Status)
}

func errorsIsUpdateConflict(err error) bool {
	return errors.Is(err, apperrors.ErrUpdateConflict)
}

func notificationIDs(rows []models.Notification) []string {
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids
}
