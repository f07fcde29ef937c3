package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tbmatch/tenderbot/internal/authutil"
	"github.com/tbmatch/tenderbot/internal/cache"
	"github.com/tbmatch/tenderbot/internal/domain"
	"github.com/tbmatch/tenderbot/internal/models"
	"github.com/tbmatch/tenderbot/internal/wizard"
)

const (
	initDataHeader = "X-Telegram-Init-Data"
	userContextKey = "tenderbot.user"

	tendersPageLimit = 50
)

// withInitData authenticates Mini App requests: the signature proves the
// request came from Telegram on behalf of that tg id, the database lookup
// ties it to a registered profile. 401 bad signature, 404 unknown user,
// 403 banned.
func (s *Service) withInitData(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		data, err := authutil.ValidateInitData(
			c.Request().Header.Get(initDataHeader),
			s.config.TelegramToken,
			s.config.InitDataMaxAge,
			s.now(),
		)
		if err != nil || data.User == nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "UNAUTHORIZED"})
		}

		user, err := s.userByTg(c, data.User.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return c.JSON(http.StatusNotFound, echo.Map{"error": "NOT_REGISTERED"})
			}
			return jsonError(c, err)
		}
		if user.Status == models.UserStatusBanned {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "BANNED"})
		}

		c.Set(userContextKey, user)
		return next(c)
	}
}

func (s *Service) userByTg(c echo.Context, tgID int64) (*models.User, error) {
	key := cache.UserKey(tgID)
	if v, ok := s.cache.Get(key); ok {
		return v.(*models.User), nil
	}
	user, err := s.storage.GetUserByTgID(c.Request().Context(), tgID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, user, s.config.CacheTTLUserProfile)
	return user, nil
}

func currentUser(c echo.Context) *models.User {
	return c.Get(userContextKey).(*models.User)
}

type profileResponse struct {
	ID        uint              `json:"id"`
	TgID      int64             `json:"tg_id"`
	Role      models.UserRole   `json:"role"`
	Status    models.UserStatus `json:"status"`
	FullName  string            `json:"full_name"`
	City      string            `json:"city"`
	Phone     string            `json:"phone"`
	BirthDate *string           `json:"birth_date,omitempty"`
	Skills    []string          `json:"skills"`
	Documents int               `json:"documents"`

	Rating      float64 `json:"rating"`
	RatingCount int64   `json:"rating_count"`
}

func (s *Service) profileResponse(c echo.Context, user *models.User) (*profileResponse, error) {
	avg, count, err := s.storage.ExecutorRating(c.Request().Context(), user.ID)
	if err != nil {
		return nil, err
	}

	resp := &profileResponse{
		ID:          user.ID,
		TgID:        user.TgID,
		Role:        user.Role,
		Status:      user.Status,
		FullName:    user.FullName,
		City:        user.City,
		Phone:       user.Phone,
		Skills:      user.Skills,
		Documents:   len(user.Documents),
		Rating:      avg,
		RatingCount: count,
	}
	if user.BirthDate != nil {
		d := user.BirthDate.Format("2006-01-02")
		resp.BirthDate = &d
	}
	if resp.Skills == nil {
		resp.Skills = []string{}
	}
	return resp, nil
}

func (s *Service) handleMe(c echo.Context) error {
	resp, err := s.profileResponse(c, currentUser(c))
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Service) handleGetProfile(c echo.Context) error {
	return s.handleMe(c)
}

type patchProfileRequest struct {
	FullName *string   `json:"full_name"`
	City     *string   `json:"city"`
	Phone    *string   `json:"phone"`
	Skills   *[]string `json:"skills"`
}

// handlePatchProfile applies partial profile edits. Each present field goes
// through the same validators the registration wizard uses.
func (s *Service) handlePatchProfile(c echo.Context) error {
	user := currentUser(c)

	var req patchProfileRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, domain.Invalid("bad request body"))
	}

	updates := map[string]any{}
	if req.FullName != nil {
		name, err := wizard.ValidateFullName(*req.FullName)
		if err != nil {
			return jsonError(c, err)
		}
		updates["full_name"] = name
	}
	if req.City != nil {
		city, err := wizard.ValidateCity(*req.City)
		if err != nil {
			return jsonError(c, err)
		}
		updates["city"] = city
	}
	if req.Phone != nil {
		phone, err := wizard.NormalizePhone(*req.Phone)
		if err != nil {
			return jsonError(c, err)
		}
		updates["phone"] = phone
	}
	if req.Skills != nil {
		if len(*req.Skills) == 0 {
			return jsonError(c, domain.Invalid("at least one skill is required"))
		}
		updates["skills"] = *req.Skills
	}
	if len(updates) == 0 {
		return jsonError(c, domain.Invalid("nothing to update"))
	}

	if err := s.storage.UpdateUserProfile(c.Request().Context(), user.ID, updates); err != nil {
		return jsonError(c, err)
	}
	s.cache.Delete(cache.UserKey(user.TgID))

	fresh, err := s.storage.GetUserByID(c.Request().Context(), user.ID)
	if err != nil {
		return jsonError(c, err)
	}
	resp, err := s.profileResponse(c, fresh)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Service) handleSkills(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"skills": s.config.SkillTags})
}

type tenderResponse struct {
	ID          uint                `json:"id"`
	Title       string              `json:"title"`
	Category    string              `json:"category"`
	City        string              `json:"city"`
	Budget      string              `json:"budget"`
	Description string              `json:"description"`
	Status      models.TenderStatus `json:"status"`
	Deadline    *time.Time          `json:"deadline,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`

	HasApplied bool `json:"has_applied"`
}

func tenderToResponse(t *models.Tender, applied map[uint]bool) tenderResponse {
	return tenderResponse{
		ID:          t.ID,
		Title:       t.Title,
		Category:    t.Category,
		City:        t.City,
		Budget:      t.Budget,
		Description: t.Description,
		Status:      t.Status,
		Deadline:    t.DeadlineUTC(),
		CreatedAt:   t.CreatedAt,
		HasApplied:  applied[t.ID],
	}
}

// appliedSet maps tender id → true for every bid the user has made.
func (s *Service) appliedSet(c echo.Context, userID uint) (map[uint]bool, error) {
	apps, err := s.storage.ListUserApplications(c.Request().Context(), userID)
	if err != nil {
		return nil, err
	}
	set := make(map[uint]bool, len(apps))
	for _, app := range apps {
		set[app.TenderID] = true
	}
	return set, nil
}

// handleListTenders returns open tenders for the Mini App feed. City
// defaults to the user's own; category is optional.
func (s *Service) handleListTenders(c echo.Context) error {
	user := currentUser(c)

	city := c.QueryParam("city")
	if city == "" {
		city = user.City
	}
	category := c.QueryParam("category")

	tenders, err := s.storage.ListOpenTenders(c.Request().Context(), city, category, tendersPageLimit)
	if err != nil {
		return jsonError(c, err)
	}
	applied, err := s.appliedSet(c, user.ID)
	if err != nil {
		return jsonError(c, err)
	}

	resp := make([]tenderResponse, 0, len(tenders))
	for _, t := range tenders {
		resp = append(resp, tenderToResponse(t, applied))
	}
	return c.JSON(http.StatusOK, echo.Map{"tenders": resp})
}

func (s *Service) handleGetTender(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return jsonError(c, err)
	}

	t, err := s.storage.GetTender(c.Request().Context(), id)
	if err != nil {
		return jsonError(c, err)
	}
	applied, err := s.appliedSet(c, currentUser(c).ID)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, tenderToResponse(t, applied))
}

func (s *Service) handleApply(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return jsonError(c, err)
	}

	user := currentUser(c)
	app, err := s.tenders.Apply(c.Request().Context(), user.TgID, id)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusCreated, applicationToResponse(app))
}

type applicationResponse struct {
	ID        uint                     `json:"id"`
	TenderID  uint                     `json:"tender_id"`
	Status    models.ApplicationStatus `json:"status"`
	CreatedAt time.Time                `json:"created_at"`
	Tender    *tenderResponse          `json:"tender,omitempty"`
}

func applicationToResponse(app *models.TenderApplication) applicationResponse {
	resp := applicationResponse{
		ID:        app.ID,
		TenderID:  app.TenderID,
		Status:    app.Status,
		CreatedAt: app.CreatedAt,
	}
	if app.Tender != nil {
		t := tenderToResponse(app.Tender, nil)
		t.HasApplied = true
		resp.Tender = &t
	}
	return resp
}

func (s *Service) handleListApplications(c echo.Context) error {
	apps, err := s.storage.ListUserApplications(c.Request().Context(), currentUser(c).ID)
	if err != nil {
		return jsonError(c, err)
	}
	resp := make([]applicationResponse, 0, len(apps))
	for _, app := range apps {
		resp = append(resp, applicationToResponse(app))
	}
	return c.JSON(http.StatusOK, echo.Map{"applications": resp})
}

func (s *Service) handleGetApplication(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return jsonError(c, err)
	}

	app, err := s.storage.GetApplication(c.Request().Context(), id)
	if err != nil {
		return jsonError(c, err)
	}
	if app.UserID != currentUser(c).ID {
		return jsonError(c, domain.ErrPermissionDenied)
	}
	return c.JSON(http.StatusOK, applicationToResponse(app))
}
