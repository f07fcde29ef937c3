package storage

import (
	"context"
	"fmt"

	"github.com/tbmatch/tenderbot/internal/domain"
	"github.com/tbmatch/tenderbot/internal/models"
	"gorm.io/gorm"
)

// GetOpenTicket returns the user's most recent non-closed ticket. Closed
// tickets are never reused.
func (s *Storage) GetOpenTicket(ctx context.Context, userID uint) (*models.SupportTicket, error) {
	var ticket models.SupportTicket
	if err := s.db.
		WithContext(ctx).
		Where("user_id = ? AND status <> ?", userID, models.TicketStatusClosed).
		Order("id DESC").
		First(&ticket).
		Error; err != nil {
		return nil, fmt.Errorf("getting open ticket: %w", asDomain(err))
	}
	return &ticket, nil
}

func (s *Storage) CreateTicket(ctx context.Context, ticket *models.SupportTicket) error {
	if err := s.db.WithContext(ctx).Create(ticket).Error; err != nil {
		return fmt.Errorf("creating ticket: %w", err)
	}
	return nil
}

func (s *Storage) GetTicket(ctx context.Context, id uint) (*models.SupportTicket, error) {
	var ticket models.SupportTicket
	if err := s.db.
		WithContext(ctx).
		Preload("User").
		Where("id = ?", id).
		First(&ticket).
		Error; err != nil {
		return nil, fmt.Errorf("getting ticket: %w", asDomain(err))
	}
	return &ticket, nil
}

// AppendMessage appends to a ticket, moving a fresh ticket to in_progress on
// its first message. Appending to a closed ticket fails with ErrTicketClosed.
func (s *Storage) AppendMessage(ctx context.Context, ticketID uint, author models.MessageAuthor, text string) (*models.SupportMessage, error) {
	msg := &models.SupportMessage{
		TicketID: ticketID,
		Author:   author,
		Text:     text,
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ticket models.SupportTicket
		if err := tx.Where("id = ?", ticketID).First(&ticket).Error; err != nil {
			return asDomain(err)
		}
		if ticket.Closed() {
			return domain.ErrTicketClosed
		}

		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("creating message: %w", err)
		}

		if ticket.Status == models.TicketStatusNew {
			if err := tx.
				Model(&models.SupportTicket{}).
				Where("id = ?", ticketID).
				Update("status", models.TicketStatusInProgress).
				Error; err != nil {
				return fmt.Errorf("updating ticket status: %w", err)
			}
		}
		return nil
	}); err != nil {
		if isDomainErr(err) {
			return nil, err
		}
		return nil, fmt.Errorf("in tx: %w", err)
	}

	return msg, nil
}

func (s *Storage) CloseTicket(ctx context.Context, id uint) error {
	res := s.db.
		WithContext(ctx).
		Model(&models.SupportTicket{}).
		Where("id = ?", id).
		Update("status", models.TicketStatusClosed)
	if res.Error != nil {
		return fmt.Errorf("closing ticket: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Storage) ListTickets(ctx context.Context, status *models.TicketStatus) ([]*models.SupportTicket, error) {
	q := s.db.WithContext(ctx).Preload("User").Order("id DESC")
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var tickets []*models.SupportTicket
	if err := q.Find(&tickets).Error; err != nil {
		return nil, fmt.Errorf("listing tickets: %w", err)
	}
	return tickets, nil
}

func (s *Storage) ListMessages(ctx context.Context, ticketID uint) ([]*models.SupportMessage, error) {
	var msgs []*models.SupportMessage
	if err := s.db.
		WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("created_at").
		Find(&msgs).
		Error; err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return msgs, nil
}
