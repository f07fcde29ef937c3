// Package bot wires the Telegram surface: commands, the conversational
// wizards and inline-keyboard callbacks. Handlers stay thin, every state
// change goes through the service layer.
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tbmatch/tenderbot/internal/cache"
	"github.com/tbmatch/tenderbot/internal/callback"
	"github.com/tbmatch/tenderbot/internal/config"
	"github.com/tbmatch/tenderbot/internal/domain"
	"github.com/tbmatch/tenderbot/internal/models"
	"github.com/tbmatch/tenderbot/internal/moderation"
	"github.com/tbmatch/tenderbot/internal/ratelimit"
	"github.com/tbmatch/tenderbot/internal/storage"
	"github.com/tbmatch/tenderbot/internal/support"
	"github.com/tbmatch/tenderbot/internal/tender"
	"github.com/tbmatch/tenderbot/internal/wizard"
	"gopkg.in/telebot.v4"
)

// Storage is the slice of the storage layer the handlers touch directly;
// lifecycle writes go through the services.
type Storage interface {
	GetUserByTgID(ctx context.Context, tgID int64) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	ListUsers(ctx context.Context, status *models.UserStatus) ([]*models.User, error)
	ListTenders(ctx context.Context, status *models.TenderStatus, offset, limit int) ([]*models.Tender, error)
	ListTendersByCreator(ctx context.Context, creatorID uint) ([]*models.Tender, error)
	CollectStats(ctx context.Context, now time.Time) (*storage.Stats, error)
}

type Bot struct {
	config     *config.Config
	storage    Storage
	tenders    *tender.Service
	moderation *moderation.Service
	support    *support.Service

	sessions *wizard.Store
	limiter  *ratelimit.Limiter
	cache    *cache.Cache
}

func New(
	cfg *config.Config,
	store Storage,
	tenders *tender.Service,
	mod *moderation.Service,
	sup *support.Service,
	userCache *cache.Cache,
) *Bot {
	return &Bot{
		config:     cfg,
		storage:    store,
		tenders:    tenders,
		moderation: mod,
		support:    sup,
		sessions:   wizard.NewStore(),
		limiter:    ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitPeriod),
		cache:      userCache,
	}
}

// Register attaches every handler to the bot. Callback handlers are keyed by
// the "\f"-prefixed action tag telebot routes unique buttons with.
func (b *Bot) Register(tb *telebot.Bot) {
	tb.Use(b.rateLimitMiddleware)

	tb.Handle("/start", b.wrap(b.handleStart))
	tb.Handle("/help", b.wrap(b.handleHelp))
	tb.Handle("/register", b.wrap(b.handleRegister))
	tb.Handle("/add_tender", b.wrap(b.handleAddTender))
	tb.Handle("/my_tenders", b.wrap(b.handleMyTenders))
	tb.Handle("/support", b.wrap(b.handleSupport))
	tb.Handle("/workers", b.wrap(b.handleWorkers))
	tb.Handle("/tenders", b.wrap(b.handleTenders))
	tb.Handle("/stats", b.wrap(b.handleStats))

	tb.Handle(telebot.OnText, b.wrap(b.handleText))
	tb.Handle(telebot.OnDocument, b.wrap(b.handleDocument))
	tb.Handle(telebot.OnPhoto, b.wrap(b.handlePhoto))

	for action, handler := range map[callback.Action]func(*UpdateContext) error{
		callback.ActionSkill:        b.onSkillToggle,
		callback.ActionDocuments:    b.onDocumentsDone,
		callback.ActionRegConfirm:   b.onRegConfirm,
		callback.ActionApprove:      b.onApprove,
		callback.ActionReject:       b.onReject,
		callback.ActionCategory:     b.onTenderCategory,
		callback.ActionConfirm:      b.onTenderConfirm,
		callback.ActionPublish:      b.onPublish,
		callback.ActionApply:        b.onApply,
		callback.ActionSelect:       b.onSelect,
		callback.ActionCloseTender:  b.onCloseTender,
		callback.ActionCancelTender: b.onCancelTender,
		callback.ActionRate:         b.onRate,
		callback.ActionRating:       b.onRating,
		callback.ActionSupportEnd:   b.onSupportEnd,
		callback.ActionTendersPage:  b.onTendersPage,
	} {
		tb.Handle("\f"+action.String(), b.wrap(handler))
	}
}

func (b *Bot) wrap(h func(*UpdateContext) error) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), b.config.BotHandleTimeout)
		defer cancel()

		uc := NewUpdateContext(ctx, c)
		if err := h(uc); err != nil {
			b.reportError(uc, err)
		}
		return nil
	}
}

// reportError turns a handler error into the user-facing reply. Domain
// errors carry a corrective message; anything else is logged and answered
// generically.
func (b *Bot) reportError(uc *UpdateContext, err error) {
	if domain.Code(err) == "INTERNAL" {
		uc.L().Errorf("handling update: %v", err)
	} else {
		uc.L().Infof("rejected: %v", err)
	}

	msg := userMessage(err)
	if uc.TC().Callback() != nil {
		if rerr := uc.TC().Respond(&telebot.CallbackResponse{Text: msg, ShowAlert: true}); rerr != nil {
			uc.L().Errorf("responding to callback: %v", rerr)
		}
		return
	}
	if serr := uc.TC().Send(msg); serr != nil {
		uc.L().Errorf("sending error reply: %v", serr)
	}
}

func userMessage(err error) string {
	var input *domain.InputError
	if errors.As(err, &input) {
		return input.Msg
	}

	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		return "Недостаточно прав для этого действия."
	case errors.Is(err, domain.ErrNotFound):
		return "Запись не найдена."
	case errors.Is(err, domain.ErrAlreadyRegistered):
		return "Вы уже зарегистрированы."
	case errors.Is(err, domain.ErrAlreadyApplied):
		return "Вы уже откликались на этот тендер."
	case errors.Is(err, domain.ErrAlreadyReviewed):
		return "Отзыв по этому тендеру уже оставлен."
	case errors.Is(err, domain.ErrAlreadyPublished):
		return "Тендер уже опубликован."
	case errors.Is(err, domain.ErrNotEligible):
		return "Откликаться могут только проверенные исполнители."
	case errors.Is(err, domain.ErrDeadlinePassed):
		return "Срок приёма откликов по этому тендеру истёк."
	case errors.Is(err, domain.ErrTenderNotOpen):
		return "Тендер уже не принимает отклики."
	case errors.Is(err, domain.ErrInvalidTransition):
		return "Это действие недоступно в текущем статусе тендера."
	case errors.Is(err, domain.ErrNoSelectedBid):
		return "По тендеру не выбран исполнитель."
	case errors.Is(err, domain.ErrTicketClosed):
		return "Обращение уже закрыто."
	case errors.Is(err, domain.ErrInvalidInput):
		return "Неверный ввод, попробуйте ещё раз."
	default:
		return "Произошла ошибка, попробуйте позже."
	}
}

func (b *Bot) isAdmin(tgID int64) bool {
	return tgID == b.config.AdminTgID
}

// userByTg resolves the sender's profile through the TTL cache. Writes to
// the profile invalidate the entry (see moderation and the web panel).
func (b *Bot) userByTg(ctx context.Context, tgID int64) (*models.User, error) {
	key := cache.UserKey(tgID)
	if v, ok := b.cache.Get(key); ok {
		return v.(*models.User), nil
	}

	user, err := b.storage.GetUserByTgID(ctx, tgID)
	if err != nil {
		return nil, err
	}
	b.cache.Set(key, user, b.config.CacheTTLUserProfile)
	return user, nil
}

func (b *Bot) rateLimitMiddleware(next telebot.HandlerFunc) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		sender := c.Sender()
		if sender == nil || b.isAdmin(sender.ID) {
			return next(c)
		}
		if !b.limiter.Allow(sender.ID) {
			msg := fmt.Sprintf(
				"Слишком много запросов. Попробуйте снова через %d сек.",
				int(b.limiter.Period().Seconds()),
			)
			if c.Callback() != nil {
				return c.Respond(&telebot.CallbackResponse{Text: msg})
			}
			return c.Send(msg)
		}
		return next(c)
	}
}

// payload extracts the callback payload. Telebot strips the "\f<action>|"
// prefix before dispatch, Payload tolerates both forms.
func payload(uc *UpdateContext, a callback.Action) string {
	cb := uc.TC().Callback()
	if cb == nil {
		return ""
	}
	return a.Payload(cb.Data)
}

func payloadID(uc *UpdateContext, a callback.Action) (uint, error) {
	return callback.ParseID(payload(uc, a))
}
