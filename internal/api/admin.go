package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/tbmatch/tenderbot/internal/domain"
	"github.com/tbmatch/tenderbot/internal/models"
	"golang.org/x/crypto/bcrypt"
)

type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

func (s *Service) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, domain.Invalid("bad request body"))
	}

	if req.Username != s.config.AdminUsername ||
		bcrypt.CompareHashAndPassword(s.adminHash, []byte(req.Password)) != nil {
		logrus.WithField("username", req.Username).Warn("failed admin login")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "UNAUTHORIZED"})
	}

	sess, _ := s.sessions.Get(c.Request(), sessionName)
	sess.Values["admin"] = true
	if err := sess.Save(c.Request(), c.Response()); err != nil {
		return jsonError(c, err)
	}

	logrus.Info("admin logged in")
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

func (s *Service) handleLogout(c echo.Context) error {
	sess, _ := s.sessions.Get(c.Request(), sessionName)
	sess.Options.MaxAge = -1
	if err := sess.Save(c.Request(), c.Response()); err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

func (s *Service) withAdminSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess, _ := s.sessions.Get(c.Request(), sessionName)
		if admin, ok := sess.Values["admin"].(bool); !ok || !admin {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "UNAUTHORIZED"})
		}
		return next(c)
	}
}

func (s *Service) handleStats(c echo.Context) error {
	stats, err := s.storage.CollectStats(c.Request().Context(), s.now())
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Service) handleAdminListUsers(c echo.Context) error {
	var status *models.UserStatus
	if raw := c.QueryParam("status"); raw != "" {
		st := models.UserStatus(raw)
		status = &st
	}

	users, err := s.storage.ListUsers(c.Request().Context(), status)
	if err != nil {
		return jsonError(c, err)
	}
	resp := make([]*profileResponse, 0, len(users))
	for _, user := range users {
		p, err := s.profileResponse(c, user)
		if err != nil {
			return jsonError(c, err)
		}
		resp = append(resp, p)
	}
	return c.JSON(http.StatusOK, echo.Map{"users": resp})
}

// adminModeration adapts a moderation service method into a handler. The
// session-authenticated admin acts as the configured admin identity.
func (s *Service) adminModeration(
	action func(ctx context.Context, actorTgID int64, userID uint) (*models.User, error),
) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := parseIDParam(c)
		if err != nil {
			return jsonError(c, err)
		}
		user, err := action(c.Request().Context(), s.config.AdminTgID, id)
		if err != nil {
			return jsonError(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{"id": user.ID, "status": user.Status})
	}
}

func (s *Service) handleAdminListTenders(c echo.Context) error {
	var status *models.TenderStatus
	if raw := c.QueryParam("status"); raw != "" {
		st := models.TenderStatus(raw)
		status = &st
	}
	var offset int
	if err := echo.QueryParamsBinder(c).Int("offset", &offset).BindError(); err != nil {
		offset = 0
	}

	tenders, err := s.storage.ListTenders(c.Request().Context(), status, offset, tendersPageLimit)
	if err != nil {
		return jsonError(c, err)
	}
	resp := make([]tenderResponse, 0, len(tenders))
	for _, t := range tenders {
		resp = append(resp, tenderToResponse(t, nil))
	}
	return c.JSON(http.StatusOK, echo.Map{"tenders": resp})
}

func (s *Service) handleAdminPublish(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return jsonError(c, err)
	}
	res, err := s.tenders.Publish(c.Request().Context(), s.config.AdminTgID, id)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"id":       res.Tender.ID,
		"status":   res.Tender.Status,
		"eligible": res.Eligible,
		"sent":     res.Sent,
	})
}

func (s *Service) handleAdminClose(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return jsonError(c, err)
	}
	res, err := s.tenders.Close(c.Request().Context(), s.config.AdminTgID, id)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"id":              res.Tender.ID,
		"status":          res.Tender.Status,
		"review_prompted": res.ReviewPrompted,
	})
}

func (s *Service) handleAdminCancel(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return jsonError(c, err)
	}
	t, err := s.tenders.Cancel(c.Request().Context(), s.config.AdminTgID, id)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"id": t.ID, "status": t.Status})
}

type adminApplicationResponse struct {
	ID           uint                     `json:"id"`
	TenderID     uint                     `json:"tender_id"`
	TenderTitle  string                   `json:"tender_title,omitempty"`
	UserID       uint                     `json:"user_id"`
	ExecutorName string                   `json:"executor_name,omitempty"`
	Status       models.ApplicationStatus `json:"status"`
	CreatedAt    time.Time                `json:"created_at"`
}

func adminApplicationToResponse(app *models.TenderApplication) adminApplicationResponse {
	resp := adminApplicationResponse{
		ID:        app.ID,
		TenderID:  app.TenderID,
		UserID:    app.UserID,
		Status:    app.Status,
		CreatedAt: app.CreatedAt,
	}
	if app.Tender != nil {
		resp.TenderTitle = app.Tender.Title
	}
	if app.User != nil {
		resp.ExecutorName = app.User.FullName
	}
	return resp
}

func (s *Service) handleAdminListApplications(c echo.Context) error {
	var tenderID *uint
	if raw := c.QueryParam("tender_id"); raw != "" {
		var id uint64
		if err := echo.QueryParamsBinder(c).Uint64("tender_id", &id).BindError(); err != nil {
			return jsonError(c, domain.Invalid("bad tender_id"))
		}
		v := uint(id)
		tenderID = &v
	}

	apps, err := s.storage.ListApplications(c.Request().Context(), tenderID)
	if err != nil {
		return jsonError(c, err)
	}
	resp := make([]adminApplicationResponse, 0, len(apps))
	for _, app := range apps {
		resp = append(resp, adminApplicationToResponse(app))
	}
	return c.JSON(http.StatusOK, echo.Map{"applications": resp})
}

// handleAdminSelectApplication picks the winner from the web panel; the
// sibling rejections and executor notifications run exactly as they do for
// the bot callback.
func (s *Service) handleAdminSelectApplication(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return jsonError(c, err)
	}
	res, err := s.tenders.SelectApplicant(c.Request().Context(), s.config.AdminTgID, id)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"id":       res.Selected.ID,
		"status":   res.Selected.Status,
		"rejected": len(res.Rejected),
	})
}

type reviewResponse struct {
	ID           uint      `json:"id"`
	TenderID     uint      `json:"tender_id"`
	Rating       int       `json:"rating"`
	Comment      string    `json:"comment,omitempty"`
	FromUserName string    `json:"from_user_name,omitempty"`
	ToUserName   string    `json:"to_user_name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *Service) handleAdminListReviews(c echo.Context) error {
	reviews, err := s.storage.ListReviews(c.Request().Context())
	if err != nil {
		return jsonError(c, err)
	}
	resp := make([]reviewResponse, 0, len(reviews))
	for _, r := range reviews {
		item := reviewResponse{
			ID:        r.ID,
			TenderID:  r.TenderID,
			Rating:    r.Rating,
			Comment:   r.Comment,
			CreatedAt: r.CreatedAt,
		}
		if r.FromUser != nil {
			item.FromUserName = r.FromUser.FullName
		}
		if r.ToUser != nil {
			item.ToUserName = r.ToUser.FullName
		}
		resp = append(resp, item)
	}
	return c.JSON(http.StatusOK, echo.Map{"reviews": resp})
}

type ticketResponse struct {
	ID        uint                `json:"id"`
	UserID    uint                `json:"user_id"`
	UserName  string              `json:"user_name,omitempty"`
	Status    models.TicketStatus `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

func ticketToResponse(t *models.SupportTicket) ticketResponse {
	resp := ticketResponse{
		ID:        t.ID,
		UserID:    t.UserID,
		Status:    t.Status,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
	if t.User != nil {
		resp.UserName = t.User.FullName
	}
	return resp
}

func (s *Service) handleAdminListTickets(c echo.Context) error {
	var status *models.TicketStatus
	if raw := c.QueryParam("status"); raw != "" {
		st := models.TicketStatus(raw)
		status = &st
	}

	tickets, err := s.support.Tickets(c.Request().Context(), status)
	if err != nil {
		return jsonError(c, err)
	}
	resp := make([]ticketResponse, 0, len(tickets))
	for _, t := range tickets {
		resp = append(resp, ticketToResponse(t))
	}
	return c.JSON(http.StatusOK, echo.Map{"tickets": resp})
}

type ticketMessageResponse struct {
	ID        uint                 `json:"id"`
	Author    models.MessageAuthor `json:"author"`
	Text      string               `json:"text"`
	CreatedAt time.Time            `json:"created_at"`
}

func (s *Service) handleAdminGetTicket(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return jsonError(c, err)
	}

	ticket, err := s.support.Ticket(c.Request().Context(), id)
	if err != nil {
		return jsonError(c, err)
	}
	messages, err := s.support.Messages(c.Request().Context(), id)
	if err != nil {
		return jsonError(c, err)
	}

	resp := make([]ticketMessageResponse, 0, len(messages))
	for _, m := range messages {
		resp = append(resp, ticketMessageResponse{
			ID:        m.ID,
			Author:    m.Author,
			Text:      m.Text,
			CreatedAt: m.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"ticket":   ticketToResponse(ticket),
		"messages": resp,
	})
}

type replyRequest struct {
	Text string `json:"text" form:"text"`
}

func (s *Service) handleAdminReplyTicket(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return jsonError(c, err)
	}

	var req replyRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, domain.Invalid("bad request body"))
	}

	msg, err := s.support.PostAdminReply(c.Request().Context(), id, req.Text)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusCreated, ticketMessageResponse{
		ID:        msg.ID,
		Author:    msg.Author,
		Text:      msg.Text,
		CreatedAt: msg.CreatedAt,
	})
}

func (s *Service) handleAdminCloseTicket(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return jsonError(c, err)
	}
	if err := s.support.Close(c.Request().Context(), id); err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"id": id, "status": models.TicketStatusClosed})
}
