// Package wizard holds the per-conversation state of the multi-step flows:
// registration, tender creation and the post-close review. State lives in an
// in-memory map keyed by tg id; abandoning a flow mid-way leaves no persisted
// record.
package wizard

import (
	"sync"
	"time"

	"github.com/tbmatch/tenderbot/internal/models"
)

type Step string

const (
	StepNone Step = ""

	StepRegFullName  Step = "reg_full_name"
	StepRegBirthDate Step = "reg_birth_date"
	StepRegCity      Step = "reg_city"
	StepRegPhone     Step = "reg_phone"
	StepRegSkills    Step = "reg_skills"
	StepRegDocuments Step = "reg_documents"
	StepRegConfirm   Step = "reg_confirm"

	StepTenderTitle       Step = "tender_title"
	StepTenderCategory    Step = "tender_category"
	StepTenderCity        Step = "tender_city"
	StepTenderBudget      Step = "tender_budget"
	StepTenderDescription Step = "tender_description"
	StepTenderDeadline    Step = "tender_deadline"
	StepTenderConfirm     Step = "tender_confirm"

	StepReviewRating  Step = "review_rating"
	StepReviewComment Step = "review_comment"

	StepSupportChat Step = "support_chat"
)

// RegistrationDraft accumulates the wizard's validated fields. Each field is
// written only after its own step validated it.
type RegistrationDraft struct {
	FullName  string
	BirthDate *time.Time
	City      string
	Phone     string
	Skills    []string
	Documents []models.Document
}

type TenderDraft struct {
	Title       string
	Category    string
	City        string
	Budget      string
	Description string
	Deadline    *time.Time
}

type ReviewDraft struct {
	TenderID uint
	Rating   int
}

type Session struct {
	Step Step

	Registration RegistrationDraft
	Tender       TenderDraft
	Review       ReviewDraft

	// SupportTicketID binds the support-chat state to its ticket.
	SupportTicketID uint
}

// Store is the conversation-state registry. All access goes through the
// mutex: telebot runs handlers concurrently and a user can race their own
// updates.
type Store struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[int64]*Session)}
}

// Begin drops any previous session and starts a new flow at step.
func (s *Store) Begin(tgID int64, step Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[tgID] = &Session{Step: step}
}

func (s *Store) Step(tgID int64) Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[tgID]; ok {
		return sess.Step
	}
	return StepNone
}

// Update mutates the session under the lock. Reports false when no session
// exists (expired or never started).
func (s *Store) Update(tgID int64, fn func(*Session)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[tgID]
	if !ok {
		return false
	}
	fn(sess)
	return true
}

// Snapshot returns a shallow copy for reading.
func (s *Store) Snapshot(tgID int64) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[tgID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

func (s *Store) Clear(tgID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, tgID)
}
