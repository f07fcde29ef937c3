package bot

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tbmatch/tenderbot/internal/cache"
	"github.com/tbmatch/tenderbot/internal/callback"
	"github.com/tbmatch/tenderbot/internal/config"
	"github.com/tbmatch/tenderbot/internal/domain"
	"github.com/tbmatch/tenderbot/internal/models"
	"github.com/tbmatch/tenderbot/internal/notify"
	"github.com/tbmatch/tenderbot/internal/storage"
	"github.com/tbmatch/tenderbot/internal/support"
	"github.com/tbmatch/tenderbot/internal/wizard"
	"gopkg.in/telebot.v4"
)

// fakeStorage backs the bot handlers and the support service in tests.
type fakeStorage struct {
	mu      sync.Mutex
	nextID  uint
	users   map[int64]*models.User
	tenders []*models.Tender
	tickets map[uint]*models.SupportTicket
	msgs    map[uint][]*models.SupportMessage
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		users:   make(map[int64]*models.User),
		tickets: make(map[uint]*models.SupportTicket),
		msgs:    make(map[uint][]*models.SupportMessage),
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

func (f *fakeStorage) CreateUser(_ context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[user.TgID]; ok {
		return domain.ErrAlreadyRegistered
	}
	user.ID = f.id()
	f.users[user.TgID] = user
	return nil
}

func (f *fakeStorage) ListUsers(_ context.Context, status *models.UserStatus) ([]*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.User
	for _, u := range f.users {
		if status == nil || u.Status == *status {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeStorage) ListTenders(context.Context, *models.TenderStatus, int, int) ([]*models.Tender, error) {
	return f.tenders, nil
}

func (f *fakeStorage) ListTendersByCreator(_ context.Context, creatorID uint) ([]*models.Tender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Tender
	for _, t := range f.tenders {
		if t.CreatedByUserID != nil && *t.CreatedByUserID == creatorID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStorage) CollectStats(context.Context, time.Time) (*storage.Stats, error) {
	return &storage.Stats{}, nil
}

func (f *fakeStorage) GetOpenTicket(_ context.Context, userID uint) (*models.SupportTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tickets {
		if t.UserID == userID && !t.Closed() {
			return t, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStorage) CreateTicket(_ context.Context, ticket *models.SupportTicket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ticket.ID = f.id()
	f.tickets[ticket.ID] = ticket
	return nil
}

func (f *fakeStorage) GetTicket(_ context.Context, id uint) (*models.SupportTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tickets[id]; ok {
		return t, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStorage) AppendMessage(_ context.Context, ticketID uint, author models.MessageAuthor, text string) (*models.SupportMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[ticketID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if t.Closed() {
		return nil, domain.ErrTicketClosed
	}
	if t.Status == models.TicketStatusNew && author == models.MessageAuthorUser {
		t.Status = models.TicketStatusInProgress
	}
	msg := &models.SupportMessage{ID: f.id(), TicketID: ticketID, Author: author, Text: text}
	f.msgs[ticketID] = append(f.msgs[ticketID], msg)
	return msg, nil
}

func (f *fakeStorage) CloseTicket(_ context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status = models.TicketStatusClosed
	return nil
}

func (f *fakeStorage) ListTickets(context.Context, *models.TicketStatus) ([]*models.SupportTicket, error) {
	return nil, nil
}

func (f *fakeStorage) ListMessages(_ context.Context, ticketID uint) ([]*models.SupportMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgs[ticketID], nil
}

type nopNotifier struct{}

func (nopNotifier) Send(context.Context, int64, notify.Message) error { return nil }

// fakeAPI records out-of-band sends keyed by recipient id.
type fakeAPI struct {
	telebot.API
	mu   sync.Mutex
	sent map[string][]string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{sent: make(map[string][]string)}
}

func (a *fakeAPI) Send(to telebot.Recipient, what interface{}, _ ...interface{}) (*telebot.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := what.(string); ok {
		a.sent[to.Recipient()] = append(a.sent[to.Recipient()], s)
	}
	return &telebot.Message{}, nil
}

func (a *fakeAPI) sentTo(tgID int64) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sent[strconv.FormatInt(tgID, 10)]
}

// fakeContext implements the slice of telebot.Context the handlers touch;
// anything else panics through the embedded nil interface.
type fakeContext struct {
	telebot.Context

	sender   *telebot.User
	text     string
	callback *telebot.Callback
	api      *fakeAPI

	sent   []string
	edits  []string
	alerts []string
}

func (f *fakeContext) Update() telebot.Update      { return telebot.Update{} }
func (f *fakeContext) Chat() *telebot.Chat         { return nil }
func (f *fakeContext) Sender() *telebot.User       { return f.sender }
func (f *fakeContext) Callback() *telebot.Callback { return f.callback }
func (f *fakeContext) Message() *telebot.Message   { return nil }
func (f *fakeContext) Text() string                { return f.text }
func (f *fakeContext) Bot() telebot.API            { return f.api }

func (f *fakeContext) Send(what interface{}, _ ...interface{}) error {
	if s, ok := what.(string); ok {
		f.sent = append(f.sent, s)
	}
	return nil
}

func (f *fakeContext) Edit(what interface{}, _ ...interface{}) error {
	if s, ok := what.(string); ok {
		f.edits = append(f.edits, s)
	}
	return nil
}

func (f *fakeContext) Respond(resp ...*telebot.CallbackResponse) error {
	for _, r := range resp {
		if r.Text != "" {
			f.alerts = append(f.alerts, r.Text)
		}
	}
	return nil
}

const testAdminTgID = int64(1)

func newTestBot() (*Bot, *fakeStorage) {
	cfg := &config.Config{
		AdminTgID:           testAdminTgID,
		CacheTTLUserProfile: time.Minute,
		SkillTags:           []string{"СКУД", "АПС"},
	}
	store := newFakeStorage()
	return &Bot{
		config:   cfg,
		storage:  store,
		support:  support.New(store, nopNotifier{}),
		sessions: wizard.NewStore(),
		cache:    cache.New(),
	}, store
}

func textCtx(api *fakeAPI, tgID int64, text string) *fakeContext {
	return &fakeContext{sender: &telebot.User{ID: tgID}, text: text, api: api}
}

func callbackCtx(api *fakeAPI, tgID int64, a callback.Action, data string) *fakeContext {
	return &fakeContext{
		sender:   &telebot.User{ID: tgID},
		callback: &telebot.Callback{Unique: a.String(), Data: data},
		api:      api,
	}
}

func uctx(f *fakeContext) *UpdateContext {
	return NewUpdateContext(context.Background(), f)
}

func last(msgs []string) string {
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

func TestRegistrationFlow(t *testing.T) {
	b, store := newTestBot()
	api := newFakeAPI()
	tg := int64(42)

	require.NoError(t, b.handleRegister(uctx(textCtx(api, tg, "/register"))))
	require.Equal(t, wizard.StepRegFullName, b.sessions.Step(tg))

	steps := []struct {
		input string
		next  wizard.Step
	}{
		{"Иванов Иван Иванович", wizard.StepRegBirthDate},
		{"15.03.1990", wizard.StepRegCity},
		{"Москва", wizard.StepRegPhone},
		{"89991234567", wizard.StepRegSkills},
	}
	for _, step := range steps {
		require.NoError(t, b.handleText(uctx(textCtx(api, tg, step.input))))
		require.Equal(t, step.next, b.sessions.Step(tg))
	}

	// Finishing skills with nothing selected is rejected.
	empty := callbackCtx(api, tg, callback.ActionSkill, "done")
	require.NoError(t, b.onSkillToggle(uctx(empty)))
	require.Contains(t, last(empty.alerts), "хотя бы один навык")
	require.Equal(t, wizard.StepRegSkills, b.sessions.Step(tg))

	require.NoError(t, b.onSkillToggle(uctx(callbackCtx(api, tg, callback.ActionSkill, "СКУД"))))
	require.NoError(t, b.onSkillToggle(uctx(callbackCtx(api, tg, callback.ActionSkill, "done"))))
	require.Equal(t, wizard.StepRegDocuments, b.sessions.Step(tg))

	// Skipping documents leads to the confirmation card.
	done := callbackCtx(api, tg, callback.ActionDocuments, "done")
	require.NoError(t, b.onDocumentsDone(uctx(done)))
	require.Equal(t, wizard.StepRegConfirm, b.sessions.Step(tg))
	require.Contains(t, last(done.sent), "Проверьте анкету")
	require.Contains(t, last(done.sent), "Иванов Иван Иванович")
	require.Contains(t, last(done.sent), "+7 999 123-45-67")

	confirm := callbackCtx(api, tg, callback.ActionRegConfirm, "submit")
	require.NoError(t, b.onRegConfirm(uctx(confirm)))
	require.Contains(t, last(confirm.edits), "на модерацию")
	require.Equal(t, wizard.StepNone, b.sessions.Step(tg))

	user := store.users[tg]
	require.NotNil(t, user)
	require.Equal(t, models.UserStatusPendingModeration, user.Status)
	require.Equal(t, models.UserRoleExecutor, user.Role)
	require.Equal(t, []string{"СКУД"}, user.Skills)
	require.Equal(t, "+7 999 123-45-67", user.Phone)

	// The admin received the moderation card.
	require.NotEmpty(t, api.sentTo(testAdminTgID))
	require.Contains(t, last(api.sentTo(testAdminTgID)), "Заявка на регистрацию")

	// Re-invoking registration short-circuits.
	again := textCtx(api, tg, "/register")
	require.NoError(t, b.handleRegister(uctx(again)))
	require.Contains(t, last(again.sent), "на рассмотрении")
	require.Equal(t, wizard.StepNone, b.sessions.Step(tg))
}

func TestRegistrationCancelAtConfirm(t *testing.T) {
	b, _ := newTestBot()
	api := newFakeAPI()
	tg := int64(42)

	b.sessions.Begin(tg, wizard.StepRegConfirm)
	cancel := callbackCtx(api, tg, callback.ActionRegConfirm, "cancel")
	require.NoError(t, b.onRegConfirm(uctx(cancel)))
	require.Contains(t, last(cancel.edits), "отменена")
	require.Equal(t, wizard.StepNone, b.sessions.Step(tg))
}

func TestDuplicateSubmitRejected(t *testing.T) {
	b, store := newTestBot()
	api := newFakeAPI()
	tg := int64(42)
	store.addUser(&models.User{TgID: tg, Status: models.UserStatusActive})

	// A stale session that reaches confirm anyway hits the unique guard.
	b.sessions.Begin(tg, wizard.StepRegConfirm)
	err := b.onRegConfirm(uctx(callbackCtx(api, tg, callback.ActionRegConfirm, "submit")))
	require.ErrorIs(t, err, domain.ErrAlreadyRegistered)
}

func TestMyTenders(t *testing.T) {
	b, store := newTestBot()
	api := newFakeAPI()
	tg := int64(42)

	// Unregistered callers are pointed at registration.
	anon := textCtx(api, 99, "/my_tenders")
	require.NoError(t, b.handleMyTenders(uctx(anon)))
	require.Contains(t, last(anon.sent), "/register")

	owner := store.addUser(&models.User{
		TgID: tg, Role: models.UserRoleCustomer, Status: models.UserStatusActive,
	})
	ownerID := owner.ID
	for _, status := range []models.TenderStatus{
		models.TenderStatusDraft,
		models.TenderStatusOpen,
		models.TenderStatusInProgress,
		models.TenderStatusClosed,
	} {
		store.tenders = append(store.tenders, &models.Tender{
			ID:              store.id(),
			Title:           "Монтаж СКУД",
			Category:        "СКУД",
			City:            "Москва",
			Status:          status,
			CreatedByUserID: &ownerID,
			CreatedByTgID:   tg,
		})
	}

	f := textCtx(api, tg, "/my_tenders")
	require.NoError(t, b.handleMyTenders(uctx(f)))
	require.Len(t, f.sent, 4)
}

func TestOwnerTenderMarkup(t *testing.T) {
	draft := &models.Tender{ID: 7, Status: models.TenderStatusDraft}
	markup := ownerTenderMarkup(draft)
	require.NotNil(t, markup)
	require.Len(t, markup.InlineKeyboard[0], 2)
	require.Equal(t, callback.ActionPublish.EncodeID(7), markup.InlineKeyboard[0][0].Data)
	require.Equal(t, callback.ActionCancelTender.EncodeID(7), markup.InlineKeyboard[0][1].Data)

	open := &models.Tender{ID: 7, Status: models.TenderStatusOpen}
	markup = ownerTenderMarkup(open)
	require.NotNil(t, markup)
	require.Equal(t, callback.ActionCancelTender.EncodeID(7), markup.InlineKeyboard[0][0].Data)

	inProgress := &models.Tender{ID: 7, Status: models.TenderStatusInProgress}
	markup = ownerTenderMarkup(inProgress)
	require.NotNil(t, markup)
	require.Equal(t, callback.ActionCloseTender.EncodeID(7), markup.InlineKeyboard[0][0].Data)

	require.Nil(t, ownerTenderMarkup(&models.Tender{Status: models.TenderStatusClosed}))
	require.Nil(t, ownerTenderMarkup(&models.Tender{Status: models.TenderStatusCancelled}))
}

func TestSupportSessionRecoversAfterWebClose(t *testing.T) {
	b, store := newTestBot()
	api := newFakeAPI()
	tg := int64(42)
	store.addUser(&models.User{TgID: tg, Status: models.UserStatusActive, FullName: "Иванов Иван"})

	require.NoError(t, b.handleSupport(uctx(textCtx(api, tg, "/support"))))
	require.Equal(t, wizard.StepSupportChat, b.sessions.Step(tg))

	snap, ok := b.sessions.Snapshot(tg)
	require.True(t, ok)
	ticketID := snap.SupportTicketID
	require.NotZero(t, ticketID)

	// The admin closes the ticket from the web panel.
	require.NoError(t, b.support.Close(context.Background(), ticketID))

	// The next message drops the stuck session instead of erroring forever.
	f := textCtx(api, tg, "всё ещё не работает")
	require.NoError(t, b.handleText(uctx(f)))
	require.Contains(t, last(f.sent), "закрыто поддержкой")
	require.Equal(t, wizard.StepNone, b.sessions.Step(tg))

	// /support opens a fresh ticket.
	require.NoError(t, b.handleSupport(uctx(textCtx(api, tg, "/support"))))
	snap, ok = b.sessions.Snapshot(tg)
	require.True(t, ok)
	require.NotEqual(t, ticketID, snap.SupportTicketID)
}
