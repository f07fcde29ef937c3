package tender

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

// StartReview verifies that actor may rate the selected executor of a closed
// tender and returns the application the review will reference. The same
// checks run again in SubmitReview; this one exists so the bot can refuse
// before walking the user through the rating wizard.
func (s *Service) StartReview(ctx context.Context, actorTgID int64, tenderID uint) (*models.TenderApplication, error) {
	_, app, err := s.reviewTarget(ctx, actorTgID, tenderID)
	return app, err
}

// SubmitReview records the rating. Exactly one review may exist per
// application, the storage unique guard rejects any second attempt.
func (s *Service) SubmitReview(ctx context.Context, actorTgID int64, tenderID uint, rating int, comment string) (*models.Review, error) {
	if !models.ValidRating(rating) {
		return nil, fmt.Errorf("rating must be between %d and %d: %w",
			models.RatingMin, models.RatingMax, domain.ErrInvalidInput)
	}

	owner, app, err := s.reviewTarget(ctx, actorTgID, tenderID)
	if err != nil {
		return nil, err
	}

	review := &models.Review{
		TenderID:      tenderID,
		ApplicationID: app.ID,
		FromUserID:    owner.ID,
		ToUserID:      app.UserID,
		Rating:        rating,
		Comment:       strings.TrimSpace(comment),
	}
	if err := s.storage.CreateReview(ctx, review); err != nil {
		return nil, err
	}

	if app.User != nil {
		text := fmt.Sprintf("Вам поставили оценку %d/5 по тендеру.", rating)
		if review.Comment != "" {
			text += " Комментарий: " + review.Comment
		}
		if err := s.notifier.Send(ctx, app.User.TgID, notify.Message{Text: text}); err != nil {
			logrus.Errorf("notifying executor about review: %v", err)
		}
	}

	return review, nil
}

// reviewTarget loads and validates everything a review needs: closed tender,
// actor is the owner, a selected application without an existing review.
func (s *Service) reviewTarget(ctx context.Context, actorTgID int64, tenderID uint) (*models.User, *models.TenderApplication, error) {
	tender, err := s.storage.GetTender(ctx, tenderID)
	if err != nil {
		return nil, nil, err
	}
	if tender.Status != models.TenderStatusClosed {
		return nil, nil, fmt.Errorf("tender %d is %s, not closed: %w",
			tenderID, tender.Status, domain.ErrInvalidTransition)
	}

	owner, err := s.storage.GetUserByTgID(ctx, actorTgID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, domain.ErrPermissionDenied
		}
		return nil, nil, err
	}
	if !isOwner(owner, tender) {
		return nil, nil, domain.ErrPermissionDenied
	}

	app, err := s.storage.GetSelectedApplication(ctx, tenderID)
	if err != nil {
		return nil, nil, err
	}

	reviewed, err := s.storage.HasReview(ctx, app.ID)
	if err != nil {
		return nil, nil, err
	}
	if reviewed {
		return nil, nil, domain.ErrAlreadyReviewed
	}

	return owner, app, nil
}
