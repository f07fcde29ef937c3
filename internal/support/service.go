package support

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tbmatch/tenderbot/internal/domain"
	"github.com/tbmatch/tenderbot/internal/models"
	"github.com/tbmatch/tenderbot/internal/notify"
)

type Storage interface {
	GetOpenTicket(ctx context.Context, userID uint) (*models.SupportTicket, error)
	CreateTicket(ctx context.Context, ticket *models.SupportTicket) error
	GetTicket(ctx context.Context, id uint) (*models.SupportTicket, error)
	AppendMessage(ctx context.Context, ticketID uint, author models.MessageAuthor, text string) (*models.SupportMessage, error)
	CloseTicket(ctx context.Context, id uint) error
	ListTickets(ctx context.Context, status *models.TicketStatus) ([]*models.SupportTicket, error)
	ListMessages(ctx context.Context, ticketID uint) ([]*models.SupportMessage, error)
}

// Service drives the ticket lifecycle: new → in_progress (first message from
// either side) → closed (explicit, terminal).
type Service struct {
	storage  Storage
	notifier notify.Notifier
}

func New(storage Storage, notifier notify.Notifier) *Service {
	return &Service{storage: storage, notifier: notifier}
}

// OpenOrReuse returns the user's non-closed ticket, creating a fresh one in
// `new` when only closed tickets (or none) exist.
func (s *Service) OpenOrReuse(ctx context.Context, userID uint) (*models.SupportTicket, error) {
	ticket, err := s.storage.GetOpenTicket(ctx, userID)
	if err == nil {
		return ticket, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	ticket = &models.SupportTicket{
		UserID: userID,
		Status: models.TicketStatusNew,
	}
	if err := s.storage.CreateTicket(ctx, ticket); err != nil {
		return nil, err
	}
	return ticket, nil
}

func (s *Service) PostUserMessage(ctx context.Context, ticketID uint, text string) (*models.SupportMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty message: %w", domain.ErrInvalidInput)
	}
	return s.storage.AppendMessage(ctx, ticketID, models.MessageAuthorUser, text)
}

// PostAdminReply appends the admin's message and delivers it to the user
// out-of-band. The append is the source of truth, a failed delivery is
// logged, not rolled back.
func (s *Service) PostAdminReply(ctx context.Context, ticketID uint, text string) (*models.SupportMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty reply: %w", domain.ErrInvalidInput)
	}

	ticket, err := s.storage.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	msg, err := s.storage.AppendMessage(ctx, ticketID, models.MessageAuthorAdmin, text)
	if err != nil {
		return nil, err
	}

	if ticket.User != nil {
		err := s.notifier.Send(ctx, ticket.User.TgID, notify.Message{
			Text: "💬 Ответ поддержки:\n\n" + text,
		})
		if err != nil {
			logrus.Errorf("delivering support reply for ticket %d: %v", ticketID, err)
		}
	}

	return msg, nil
}

func (s *Service) Close(ctx context.Context, ticketID uint) error {
	return s.storage.CloseTicket(ctx, ticketID)
}

func (s *Service) Ticket(ctx context.Context, ticketID uint) (*models.SupportTicket, error) {
	return s.storage.GetTicket(ctx, ticketID)
}

func (s *Service) Tickets(ctx context.Context, status *models.TicketStatus) ([]*models.SupportTicket, error) {
	return s.storage.ListTickets(ctx, status)
}

func (s *Service) Messages(ctx context.Context, ticketID uint) ([]*models.SupportMessage, error) {
	return s.storage.ListMessages(ctx, ticketID)
}
