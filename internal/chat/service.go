// Package chat implements the chat transaction core: it authorizes a
// request against the token ledger, invokes the response backend, and
// records the exchange, with all-or-nothing balance semantics.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"chatmeter/internal/ledger"
	"chatmeter/pkg/models"
)

// DefaultRequestCost is the number of tokens debited per chat request.
const DefaultRequestCost = 100

var (
	// ErrEmptyMessage is returned when the request message is empty. No
	// tokens are spent.
	ErrEmptyMessage = errors.New("chat: message is required")

	// ErrInsufficientTokens is returned when the balance does not cover
	// the request cost. The balance is left unchanged.
	ErrInsufficientTokens = errors.New("chat: insufficient tokens")

	// ErrPersistence is returned when the exchange could not be recorded.
	// The debit is reversed before this error reaches the caller.
	ErrPersistence = errors.New("chat: failed to persist record")
)

// Service coordinates one chat request end to end. The ledger debit commits
// before the generator call so no per-user serialization is held across the
// (possibly slow) external request; any failure after the debit triggers a
// compensating credit.
type Service struct {
	ledger    ledger.Ledger
	log       Log
	generator Generator
	logger    *slog.Logger
	cost      int64
}

// Option configures a Service.
type Option func(*Service)

// WithRequestCost overrides the per-request token cost. The cost stays
// fixed and known in advance for every call.
func WithRequestCost(cost int64) Option {
	return func(s *Service) {
		if cost > 0 {
			s.cost = cost
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService wires a chat service from its collaborators.
func NewService(l ledger.Ledger, log Log, g Generator, opts ...Option) *Service {
	s := &Service{
		ledger:    l,
		log:       log,
		generator: g,
		logger:    slog.Default(),
		cost:      DefaultRequestCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cost returns the fixed token cost of one request.
func (s *Service) Cost() int64 {
	return s.cost
}

// Execute runs a single chat transaction for userID.
//
// On success exactly one debit of Cost() tokens and exactly one appended
// record are observable. On any failure the net balance change is zero and
// no record exists: failures before the debit have no side effects, and
// failures after it are compensated with a credit before the error returns.
func (s *Service) Execute(ctx context.Context, userID int64, message string) (*models.ChatResult, error) {
	if message == "" {
		return nil, ErrEmptyMessage
	}

	ok, balance, err := s.ledger.TryDebit(ctx, userID, s.cost)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInsufficientTokens
	}

	response, err := s.generator.Generate(ctx, message)
	if err != nil {
		s.refund(userID, err)
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	record := &models.ChatRecord{
		UserID:   userID,
		Message:  message,
		Response: response,
	}
	if _, err := s.log.Append(ctx, record); err != nil {
		s.refund(userID, err)
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	return &models.ChatResult{
		Message:         message,
		Response:        response,
		RemainingTokens: balance,
	}, nil
}

// refund issues the compensating credit after a failed step. It runs on a
// fresh context so a canceled request still gets its tokens back; if the
// credit itself fails there is nothing left to retry against, so the loss
// is logged for operator follow-up.
func (s *Service) refund(userID int64, cause error) {
	if _, err := s.ledger.Credit(context.Background(), userID, s.cost); err != nil {
		s.logger.Error("compensating credit failed",
			"user_id", userID,
			"amount", s.cost,
			"cause", cause,
			"error", err,
		)
	}
}

// History returns the user's past exchanges, oldest first.
func (s *Service) History(ctx context.Context, userID int64) ([]models.ChatRecord, error) {
	return s.log.ListByUser(ctx, userID)
}
