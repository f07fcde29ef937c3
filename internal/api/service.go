// Package api is the HTTP surface: the Mini App JSON API authenticated with
// Telegram init data and the admin panel authenticated with a session
// cookie. Both run in the web process, next to but independent of the bot.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/tbmatch/tenderbot/internal/cache"
	"github.com/tbmatch/tenderbot/internal/config"
	"github.com/tbmatch/tenderbot/internal/domain"
	"github.com/tbmatch/tenderbot/internal/models"
	"github.com/tbmatch/tenderbot/internal/moderation"
	"github.com/tbmatch/tenderbot/internal/storage"
	"github.com/tbmatch/tenderbot/internal/support"
	"github.com/tbmatch/tenderbot/internal/tender"
	"golang.org/x/crypto/bcrypt"
)

const sessionName = "tenderbot_admin"

// Storage is the read/write surface the HTTP layer touches directly; writes
// with lifecycle rules go through the services instead.
type Storage interface {
	GetUserByTgID(ctx context.Context, tgID int64) (*models.User, error)
	GetUserByID(ctx context.Context, id uint) (*models.User, error)
	UpdateUserProfile(ctx context.Context, id uint, updates map[string]any) error
	ListUsers(ctx context.Context, status *models.UserStatus) ([]*models.User, error)
	ExecutorRating(ctx context.Context, userID uint) (float64, int64, error)

	GetTender(ctx context.Context, id uint) (*models.Tender, error)
	ListTenders(ctx context.Context, status *models.TenderStatus, offset, limit int) ([]*models.Tender, error)
	ListOpenTenders(ctx context.Context, city, category string, limit int) ([]*models.Tender, error)

	GetApplication(ctx context.Context, id uint) (*models.TenderApplication, error)
	ListUserApplications(ctx context.Context, userID uint) ([]*models.TenderApplication, error)
	ListApplications(ctx context.Context, tenderID *uint) ([]*models.TenderApplication, error)
	ListReviews(ctx context.Context) ([]*models.Review, error)

	CollectStats(ctx context.Context, now time.Time) (*storage.Stats, error)
}

type Service struct {
	config     *config.Config
	storage    Storage
	tenders    *tender.Service
	moderation *moderation.Service
	support    *support.Service
	cache      *cache.Cache

	sessions  *sessions.CookieStore
	adminHash []byte

	now func() time.Time
}

func NewService(
	cfg *config.Config,
	store Storage,
	tenders *tender.Service,
	mod *moderation.Service,
	sup *support.Service,
	userCache *cache.Cache,
) *Service {
	cookieStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	cookieStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	return &Service{
		config:     cfg,
		storage:    store,
		tenders:    tenders,
		moderation: mod,
		support:    sup,
		cache:      userCache,
		sessions:   cookieStore,
		adminHash:  adminPasswordHash(cfg.AdminPassword),
		now:        time.Now,
	}
}

// adminPasswordHash accepts either a pre-computed bcrypt hash or a plain
// password, which is hashed once at startup.
func adminPasswordHash(password string) []byte {
	if strings.HasPrefix(password, "$2a$") || strings.HasPrefix(password, "$2b$") {
		return []byte(password)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		logrus.Fatalf("hashing admin password: %v", err)
	}
	return hash
}

// RegisterRoutes attaches both surfaces to the echo instance.
func (s *Service) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", s.handleHealthz)

	app := e.Group("/api", s.withInitData)
	app.GET("/me", s.handleMe)
	app.GET("/profile", s.handleGetProfile)
	app.PATCH("/profile", s.handlePatchProfile)
	app.GET("/skills", s.handleSkills)
	app.GET("/tenders", s.handleListTenders)
	app.GET("/tenders/:id", s.handleGetTender)
	app.POST("/tenders/:id/apply", s.handleApply)
	app.GET("/applications", s.handleListApplications)
	app.GET("/applications/:id", s.handleGetApplication)

	e.POST("/login", s.handleLogin)
	e.GET("/logout", s.handleLogout)

	admin := e.Group("/admin", s.withAdminSession)
	admin.GET("/stats", s.handleStats)
	admin.GET("/users", s.handleAdminListUsers)
	admin.POST("/users/:id/approve", s.adminModeration(s.moderation.Approve))
	admin.POST("/users/:id/reject", s.adminModeration(s.moderation.Reject))
	admin.POST("/users/:id/ban", s.adminModeration(s.moderation.Ban))
	admin.POST("/users/:id/unban", s.adminModeration(s.moderation.Unban))
	admin.GET("/tenders", s.handleAdminListTenders)
	admin.POST("/tenders/:id/publish", s.handleAdminPublish)
	admin.POST("/tenders/:id/close", s.handleAdminClose)
	admin.POST("/tenders/:id/cancel", s.handleAdminCancel)
	admin.GET("/applications", s.handleAdminListApplications)
	admin.POST("/applications/:id/select", s.handleAdminSelectApplication)
	admin.GET("/reviews", s.handleAdminListReviews)
	admin.GET("/tickets", s.handleAdminListTickets)
	admin.GET("/tickets/:id", s.handleAdminGetTicket)
	admin.POST("/tickets/:id/reply", s.handleAdminReplyTicket)
	admin.POST("/tickets/:id/close", s.handleAdminCloseTicket)
}

func (s *Service) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

// jsonError renders a domain error as its stable code plus an HTTP status.
func jsonError(c echo.Context, err error) error {
	code := domain.Code(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		logrus.Errorf("handling %s %s: %v", c.Request().Method, c.Path(), err)
		return c.JSON(status, echo.Map{"error": "internal error"})
	}
	return c.JSON(status, echo.Map{"error": code})
}

func statusFor(code string) int {
	switch code {
	case "NOT_FOUND":
		return http.StatusNotFound
	case "PERMISSION_DENIED":
		return http.StatusForbidden
	case "INVALID_INPUT":
		return http.StatusBadRequest
	case "ALREADY_REGISTERED", "ALREADY_APPLIED", "ALREADY_REVIEWED",
		"ALREADY_PUBLISHED", "TENDER_NOT_OPEN", "DEADLINE_PASSED",
		"INVALID_TRANSITION", "NO_SELECTED_BID", "TICKET_CLOSED":
		return http.StatusConflict
	case "NOT_ELIGIBLE":
		return http.StatusForbidden
	case "RATE_LIMITED":
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func parseIDParam(c echo.Context) (uint, error) {
	var id uint
	if err := echo.PathParamsBinder(c).Uint("id", &id).BindError(); err != nil {
		return 0, domain.Invalid("bad id")
	}
	return id, nil
}
