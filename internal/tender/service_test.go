package tender_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tbmatch/tenderbot/internal/callback"
	"github.com/tbmatch/tenderbot/internal/config"
	"github.com/tbmatch/tenderbot/internal/domain"
	"github.com/tbmatch/tenderbot/internal/models"
	"github.com/tbmatch/tenderbot/internal/notify"
	"github.com/tbmatch/tenderbot/internal/storage"
	"github.com/tbmatch/tenderbot/internal/tender"
)

const adminTgID = int64(1)

// fakeStorage mirrors the guarded semantics of the real storage layer:
// status-checked transitions, per-tender uniqueness, one review per
// application.
type fakeStorage struct {
	mu      sync.Mutex
	nextID  uint
	users   map[int64]*models.User
	tenders map[uint]*models.Tender
	apps    map[uint]*models.TenderApplication
	reviews map[uint]*models.Review
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		users:   make(map[int64]*models.User),
		tenders: make(map[uint]*models.Tender),
		apps:    make(map[uint]*models.TenderApplication),
		reviews: make(map[uint]*models.Review),
	}
}

func (f *fakeStorage) id() uint {
	f.nextID++
	return f.nextID
}

func (f *fakeStorage) addUser(u *models.User) *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u.ID = f.id()
	f.users[u.TgID] = u
	return u
}

func (f *fakeStorage) GetUserByTgID(_ context.Context, tgID int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[tgID]; ok {
		return u, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStorage) GetUserByID(_ context.Context, id uint) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStorage) CreateTender(_ context.Context, t *models.Tender) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t.ID = f.id()
	f.tenders[t.ID] = t
	return nil
}

func (f *fakeStorage) GetTender(_ context.Context, id uint) (*models.Tender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	if t.CreatedByUserID != nil {
		for _, u := range f.users {
			if u.ID == *t.CreatedByUserID {
				cp.Creator = u
			}
		}
	}
	return &cp, nil
}

func (f *fakeStorage) TransitionTender(_ context.Context, id uint, from []models.TenderStatus, to models.TenderStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenders[id]
	if !ok {
		return domain.ErrNotFound
	}
	for _, s := range from {
		if t.Status == s {
			t.Status = to
			return nil
		}
	}
	return fmt.Errorf("tender %d is %s: %w", id, t.Status, domain.ErrInvalidTransition)
}

func (f *fakeStorage) CreateApplication(_ context.Context, tenderID, userID uint, now time.Time) (*models.TenderApplication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenders[tenderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if t.Status != models.TenderStatusOpen {
		return nil, domain.ErrTenderNotOpen
	}
	if t.DeadlinePassed(now) {
		return nil, domain.ErrDeadlinePassed
	}
	for _, a := range f.apps {
		if a.TenderID == tenderID && a.UserID == userID {
			return nil, domain.ErrAlreadyApplied
		}
	}
	app := &models.TenderApplication{
		ID:       f.id(),
		TenderID: tenderID,
		UserID:   userID,
		Status:   models.ApplicationStatusApplied,
	}
	f.apps[app.ID] = app
	return app, nil
}

func (f *fakeStorage) SelectApplication(_ context.Context, appID uint) (*storage.SelectionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	app, ok := f.apps[appID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	t := f.tenders[app.TenderID]
	if t.Status != models.TenderStatusOpen {
		return nil, domain.ErrTenderNotOpen
	}
	t.Status = models.TenderStatusInProgress
	app.Status = models.ApplicationStatusSelected
	app.User = f.userByID(app.UserID)

	result := &storage.SelectionResult{Selected: app}
	for _, other := range f.apps {
		if other.TenderID == app.TenderID && other.ID != app.ID {
			other.Status = models.ApplicationStatusRejected
			other.User = f.userByID(other.UserID)
			result.Rejected = append(result.Rejected, other)
		}
	}
	return result, nil
}

func (f *fakeStorage) userByID(id uint) *models.User {
	for _, u := range f.users {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func (f *fakeStorage) GetApplication(_ context.Context, id uint) (*models.TenderApplication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	app, ok := f.apps[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *app
	cp.User = f.userByID(app.UserID)
	if t, ok := f.tenders[app.TenderID]; ok {
		tc := *t
		if t.CreatedByUserID != nil {
			tc.Creator = f.userByID(*t.CreatedByUserID)
		}
		cp.Tender = &tc
	}
	return &cp, nil
}

func (f *fakeStorage) GetSelectedApplication(_ context.Context, tenderID uint) (*models.TenderApplication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, app := range f.apps {
		if app.TenderID == tenderID && app.Status == models.ApplicationStatusSelected {
			cp := *app
			cp.User = f.userByID(app.UserID)
			return &cp, nil
		}
	}
	return nil, domain.ErrNoSelectedBid
}

func (f *fakeStorage) CreateReview(_ context.Context, review *models.Review) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.reviews[review.ApplicationID]; ok {
		return domain.ErrAlreadyReviewed
	}
	review.ID = f.id()
	f.reviews[review.ApplicationID] = review
	return nil
}

func (f *fakeStorage) HasReview(_ context.Context, applicationID uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.reviews[applicationID]
	return ok, nil
}

func (f *fakeStorage) ExecutorRating(_ context.Context, userID uint) (float64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum, count int64
	for _, r := range f.reviews {
		if r.ToUserID == userID {
			sum += int64(r.Rating)
			count++
		}
	}
	if count == 0 {
		return 0, 0, nil
	}
	return float64(sum) / float64(count), count, nil
}

func (f *fakeStorage) ListEligibleRecipients(_ context.Context, city, category string) ([]*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.User
	for _, u := range f.users {
		if u.Status == models.UserStatusActive && u.City == city && u.IsExecutor() && u.HasSkill(category) {
			out = append(out, u)
		}
	}
	return out, nil
}

type sentMessage struct {
	tgID int64
	msg  notify.Message
}

type recordingNotifier struct {
	mu      sync.Mutex
	sent    []sentMessage
	failFor map[int64]error
}

func (n *recordingNotifier) Send(_ context.Context, tgID int64, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err, ok := n.failFor[tgID]; ok {
		return err
	}
	n.sent = append(n.sent, sentMessage{tgID: tgID, msg: msg})
	return nil
}

func (n *recordingNotifier) sentTo(tgID int64) []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Message
	for _, s := range n.sent {
		if s.tgID == tgID {
			out = append(out, s.msg)
		}
	}
	return out
}

func newService(t *testing.T) (*tender.Service, *fakeStorage, *recordingNotifier) {
	t.Helper()
	cfg := &config.Config{
		AdminTgID:       adminTgID,
		DispatchTimeout: 5 * time.Second,
	}
	store := newFakeStorage()
	notifier := &recordingNotifier{failFor: make(map[int64]error)}
	return tender.New(cfg, store, notifier), store, notifier
}

func activeExecutor(tgID int64, city string, skills ...string) *models.User {
	return &models.User{
		TgID:   tgID,
		Role:   models.UserRoleExecutor,
		Status: models.UserStatusActive,
		City:   city,
		Skills: skills,
	}
}

func activeCustomer(tgID int64, city string) *models.User {
	return &models.User{
		TgID:   tgID,
		Role:   models.UserRoleCustomer,
		Status: models.UserStatusActive,
		City:   city,
	}
}

func draftInput() tender.CreateInput {
	return tender.CreateInput{
		Title:       "Монтаж СКУД",
		Category:    "СКУД",
		City:        "Москва",
		Description: "Установить контроллеры на два этажа",
	}
}

func TestCreateRequiresActiveCustomer(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, 500, draftInput())
	require.ErrorIs(t, err, domain.ErrPermissionDenied)

	store.addUser(activeExecutor(600, "Москва", "СКУД"))
	_, err = svc.Create(ctx, 600, draftInput())
	require.ErrorIs(t, err, domain.ErrPermissionDenied)

	owner := store.addUser(activeCustomer(700, "Москва"))
	created, err := svc.Create(ctx, 700, draftInput())
	require.NoError(t, err)
	require.Equal(t, models.TenderStatusDraft, created.Status)
	require.NotNil(t, created.CreatedByUserID)
	require.Equal(t, owner.ID, *created.CreatedByUserID)

	adminTender, err := svc.Create(ctx, adminTgID, draftInput())
	require.NoError(t, err)
	require.Equal(t, models.TenderStatusDraft, adminTender.Status)
}

func TestCreateValidatesInput(t *testing.T) {
	svc, _, _ := newService(t)

	in := draftInput()
	in.Title = "  "
	_, err := svc.Create(context.Background(), adminTgID, in)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPublishFanOut(t *testing.T) {
	svc, store, notifier := newService(t)
	ctx := context.Background()

	store.addUser(activeCustomer(700, "Москва"))
	store.addUser(activeExecutor(10, "Москва", "СКУД"))
	store.addUser(activeExecutor(11, "Москва", "СКУД", "АПС"))
	// Wrong city, wrong skill, pending moderation: none may receive it.
	store.addUser(activeExecutor(12, "Казань", "СКУД"))
	store.addUser(activeExecutor(13, "Москва", "АПС"))
	pending := activeExecutor(14, "Москва", "СКУД")
	pending.Status = models.UserStatusPendingModeration
	store.addUser(pending)

	notifier.failFor[11] = errors.New("blocked by user")

	created, err := svc.Create(ctx, 700, draftInput())
	require.NoError(t, err)

	res, err := svc.Publish(ctx, 700, created.ID)
	require.NoError(t, err)
	require.Equal(t, models.TenderStatusOpen, res.Tender.Status)
	require.Equal(t, 2, res.Eligible)
	require.Equal(t, 1, res.Sent)

	msgs := notifier.sentTo(10)
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0].Text, "Монтаж СКУД")
	require.Len(t, msgs[0].Buttons, 1)
	require.Equal(t, callback.ActionApply.EncodeID(created.ID), msgs[0].Buttons[0][0].Data)

	require.Empty(t, notifier.sentTo(12))
	require.Empty(t, notifier.sentTo(13))
	require.Empty(t, notifier.sentTo(14))
}

func TestPublishPermissionAndIdempotency(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	store.addUser(activeCustomer(700, "Москва"))
	created, err := svc.Create(ctx, 700, draftInput())
	require.NoError(t, err)

	_, err = svc.Publish(ctx, 999, created.ID)
	require.ErrorIs(t, err, domain.ErrPermissionDenied)

	got, err := store.GetTender(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, models.TenderStatusDraft, got.Status)

	_, err = svc.Publish(ctx, 700, created.ID)
	require.NoError(t, err)

	_, err = svc.Publish(ctx, 700, created.ID)
	require.ErrorIs(t, err, domain.ErrAlreadyPublished)
}

func TestApplyGuards(t *testing.T) {
	svc, store, notifier := newService(t)
	ctx := context.Background()

	store.addUser(activeCustomer(700, "Москва"))
	executor := store.addUser(activeExecutor(10, "Москва", "СКУД"))

	created, err := svc.Create(ctx, 700, draftInput())
	require.NoError(t, err)

	// Draft is not open for applications.
	_, err = svc.Apply(ctx, 10, created.ID)
	require.ErrorIs(t, err, domain.ErrTenderNotOpen)

	_, err = svc.Publish(ctx, 700, created.ID)
	require.NoError(t, err)

	store.addUser(activeCustomer(20, "Москва"))
	_, err = svc.Apply(ctx, 20, created.ID)
	require.ErrorIs(t, err, domain.ErrNotEligible)

	banned := activeExecutor(30, "Москва", "СКУД")
	banned.Status = models.UserStatusBanned
	store.addUser(banned)
	_, err = svc.Apply(ctx, 30, created.ID)
	require.ErrorIs(t, err, domain.ErrNotEligible)

	app, err := svc.Apply(ctx, 10, created.ID)
	require.NoError(t, err)
	require.Equal(t, models.ApplicationStatusApplied, app.Status)
	require.Equal(t, executor.ID, app.UserID)

	_, err = svc.Apply(ctx, 10, created.ID)
	require.ErrorIs(t, err, domain.ErrAlreadyApplied)

	// The admin got the bid notice with a select button.
	adminMsgs := notifier.sentTo(adminTgID)
	require.NotEmpty(t, adminMsgs)
	last := adminMsgs[len(adminMsgs)-1]
	require.Contains(t, last.Text, "Отклик")
	require.Equal(t, callback.ActionSelect.EncodeID(app.ID), last.Buttons[0][0].Data)
}

func TestApplyDeadlinePassed(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	store.addUser(activeCustomer(700, "Москва"))
	store.addUser(activeExecutor(10, "Москва", "СКУД"))

	in := draftInput()
	past := time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)
	in.Deadline = &past

	created, err := svc.Create(ctx, 700, in)
	require.NoError(t, err)
	_, err = svc.Publish(ctx, 700, created.ID)
	require.NoError(t, err)

	_, err = svc.Apply(ctx, 10, created.ID)
	require.ErrorIs(t, err, domain.ErrDeadlinePassed)
}

func TestSelectApplicantRejectsSiblings(t *testing.T) {
	svc, store, notifier := newService(t)
	ctx := context.Background()

	store.addUser(activeCustomer(700, "Москва"))
	store.addUser(activeExecutor(10, "Москва", "СКУД"))
	store.addUser(activeExecutor(11, "Москва", "СКУД"))

	created, err := svc.Create(ctx, 700, draftInput())
	require.NoError(t, err)
	_, err = svc.Publish(ctx, 700, created.ID)
	require.NoError(t, err)

	first, err := svc.Apply(ctx, 10, created.ID)
	require.NoError(t, err)
	second, err := svc.Apply(ctx, 11, created.ID)
	require.NoError(t, err)

	res, err := svc.SelectApplicant(ctx, 700, first.ID)
	require.NoError(t, err)
	require.Equal(t, models.ApplicationStatusSelected, res.Selected.Status)
	require.Len(t, res.Rejected, 1)
	require.Equal(t, second.ID, res.Rejected[0].ID)

	got, err := store.GetTender(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, models.TenderStatusInProgress, got.Status)

	winnerMsgs := notifier.sentTo(10)
	require.Contains(t, winnerMsgs[len(winnerMsgs)-1].Text, "Вас выбрали")
	loserMsgs := notifier.sentTo(11)
	require.Contains(t, loserMsgs[len(loserMsgs)-1].Text, "другой исполнитель")

	// A concurrent second selection hits the status guard.
	_, err = svc.SelectApplicant(ctx, 700, second.ID)
	require.ErrorIs(t, err, domain.ErrTenderNotOpen)
}

func TestCloseAndReviewFlow(t *testing.T) {
	svc, store, notifier := newService(t)
	ctx := context.Background()

	store.addUser(activeCustomer(700, "Москва"))
	store.addUser(activeExecutor(10, "Москва", "СКУД"))

	created, err := svc.Create(ctx, 700, draftInput())
	require.NoError(t, err)
	_, err = svc.Publish(ctx, 700, created.ID)
	require.NoError(t, err)
	app, err := svc.Apply(ctx, 10, created.ID)
	require.NoError(t, err)
	_, err = svc.SelectApplicant(ctx, 700, app.ID)
	require.NoError(t, err)

	// Rating an unfinished tender is refused.
	_, err = svc.StartReview(ctx, 700, created.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	res, err := svc.Close(ctx, 700, created.ID)
	require.NoError(t, err)
	require.Equal(t, models.TenderStatusClosed, res.Tender.Status)
	require.True(t, res.ReviewPrompted)

	ownerMsgs := notifier.sentTo(700)
	prompt := ownerMsgs[len(ownerMsgs)-1]
	require.Equal(t, callback.ActionRate.EncodeID(created.ID), prompt.Buttons[0][0].Data)

	// Only the owner reviews.
	_, err = svc.SubmitReview(ctx, 10, created.ID, 5, "")
	require.ErrorIs(t, err, domain.ErrPermissionDenied)

	_, err = svc.SubmitReview(ctx, 700, created.ID, 6, "")
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	review, err := svc.SubmitReview(ctx, 700, created.ID, 5, "отличная работа")
	require.NoError(t, err)
	require.Equal(t, 5, review.Rating)

	execMsgs := notifier.sentTo(10)
	require.Contains(t, execMsgs[len(execMsgs)-1].Text, "оценку 5/5")

	_, err = svc.SubmitReview(ctx, 700, created.ID, 4, "")
	require.ErrorIs(t, err, domain.ErrAlreadyReviewed)

	avg, count, err := store.ExecutorRating(ctx, app.UserID)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.InDelta(t, 5.0, avg, 0.01)
}

func TestCloseWithoutSelection(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	store.addUser(activeCustomer(700, "Москва"))
	created, err := svc.Create(ctx, 700, draftInput())
	require.NoError(t, err)
	_, err = svc.Publish(ctx, 700, created.ID)
	require.NoError(t, err)

	res, err := svc.Close(ctx, 700, created.ID)
	require.NoError(t, err)
	require.False(t, res.ReviewPrompted)

	// Closed is terminal.
	_, err = svc.Close(ctx, 700, created.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCancel(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	store.addUser(activeCustomer(700, "Москва"))
	created, err := svc.Create(ctx, 700, draftInput())
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, 700, created.ID)
	require.NoError(t, err)
	require.Equal(t, models.TenderStatusCancelled, cancelled.Status)

	_, err = svc.Cancel(ctx, 700, created.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = svc.Cancel(ctx, adminTgID, 9999)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
