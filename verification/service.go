package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"votechain/ledger"
	"votechain/observability"
	"votechain/observability/logging"
)

const (
	defaultOTPTTL             = 5 * time.Minute
	defaultMinBiometricLength = 11
	defaultRecentSessions     = 100
)

// Event types anchored on the ledger.
const (
	EventStart        = "verification_start"
	EventStep         = "verification_step"
	EventBiometric    = "biometric_verification"
	EventOTPGenerated = "otp_generation"
	EventOTPVerified  = "otp_verification"
	EventFinal        = "final_verification"
	EventComplete     = "verification_complete"
)

// Recorder appends workflow events to the ledger. *ledger.Ledger satisfies it.
type Recorder interface {
	AddBlock(ctx context.Context, data map[string]any) (*ledger.Block, error)
}

// Config tunes the workflow.
type Config struct {
	OTPTTL             time.Duration
	OTPSalt            []byte
	MinBiometricLength int
}

// ProfileInput is the caller-supplied part of a voter profile.
type ProfileInput struct {
	VoterID          string `json:"voterId"`
	District         string `json:"district"`
	Age              int    `json:"age"`
	RegistrationDate string `json:"registrationDate"`
	Precinct         string `json:"precinct"`
	IsEligible       *bool  `json:"isEligible,omitempty"`
}

// OTPIssue describes a freshly generated code.
type OTPIssue struct {
	Code      string
	ExpiresAt time.Time
	Block     *ledger.Block
}

// Service drives the verification workflow and anchors each transition on
// the ledger.
type Service struct {
	store    *Store
	recorder Recorder
	notifier Notifier
	logger   *slog.Logger
	cfg      Config
	mu       sync.Mutex
	nowFn    func() time.Time
	codeFn   func() (string, error)
}

// NewService wires the workflow.
func NewService(store *Store, recorder Recorder, notifier Notifier, cfg Config, logger *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("store required")
	}
	if recorder == nil {
		return nil, errors.New("recorder required")
	}
	if notifier == nil {
		notifier = &LogNotifier{Logger: logger}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = defaultOTPTTL
	}
	if cfg.MinBiometricLength <= 0 {
		cfg.MinBiometricLength = defaultMinBiometricLength
	}
	cfg.OTPSalt = append([]byte(nil), cfg.OTPSalt...)
	return &Service{
		store:    store,
		recorder: recorder,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		nowFn:    time.Now,
		codeFn:   randomCode,
	}, nil
}

func (s *Service) now() time.Time {
	if s.nowFn == nil {
		return time.Now().UTC()
	}
	return s.nowFn().UTC()
}

// Profile returns the user's voter profile.
func (s *Service) Profile(ctx context.Context, userID string) (*VoterProfile, error) {
	return s.store.ProfileByUser(ctx, userID)
}

// CreateProfile registers the user's voter profile. A user has at most one.
func (s *Service) CreateProfile(ctx context.Context, userID string, input ProfileInput) (*VoterProfile, error) {
	voterID := normalizeVoterID(input.VoterID)
	district := norm.NFKC.String(strings.TrimSpace(input.District))
	precinct := norm.NFKC.String(strings.TrimSpace(input.Precinct))
	registered := strings.TrimSpace(input.RegistrationDate)
	if voterID == "" || district == "" || precinct == "" || registered == "" {
		return nil, fmt.Errorf("%w: voterId, district, precinct and registrationDate are required", ErrInvalidProfile)
	}
	if input.Age <= 0 {
		return nil, fmt.Errorf("%w: age must be positive", ErrInvalidProfile)
	}
	eligible := true
	if input.IsEligible != nil {
		eligible = *input.IsEligible
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.store.ProfileByUser(ctx, userID); err == nil {
		return nil, ErrProfileExists
	} else if !errors.Is(err, ErrProfileNotFound) {
		return nil, err
	}
	profile := &VoterProfile{
		UserID:           userID,
		VoterID:          voterID,
		District:         district,
		Age:              input.Age,
		RegistrationDate: registered,
		Precinct:         precinct,
		IsEligible:       eligible,
	}
	if err := s.store.CreateProfile(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// Sessions returns the user's sessions newest first.
func (s *Service) Sessions(ctx context.Context, userID string) ([]Session, error) {
	return s.store.Sessions(ctx, userID)
}

// RecentSessions returns the latest sessions across all users.
func (s *Service) RecentSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = defaultRecentSessions
	}
	return s.store.RecentSessions(ctx, limit)
}

// Start opens the workflow at IDENTITY for an eligible voter.
func (s *Service) Start(ctx context.Context, userID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, err := s.store.ProfileByUser(ctx, userID)
	if errors.Is(err, ErrProfileNotFound) {
		return nil, ErrProfileRequired
	}
	if err != nil {
		return nil, err
	}
	if !profile.IsEligible {
		return nil, ErrNotEligible
	}
	block, err := s.record(ctx, EventStart, map[string]any{
		"userId":  userID,
		"voterId": profile.VoterID,
	})
	if err != nil {
		return nil, err
	}
	session := s.newSession(userID, StepIdentity, block)
	if err := s.store.Advance(ctx, nil, "", session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.logger.Info("verification started",
		logging.MaskField("userId", userID),
		slog.String("hash", block.Hash))
	return session, nil
}

// Advance completes the current step and opens step, which must be its
// immediate successor. READY is delegated to EnterReady.
func (s *Service) Advance(ctx context.Context, userID string, step string) (*Session, error) {
	target := Step(strings.ToUpper(strings.TrimSpace(step)))
	if target.Index() < 0 {
		return nil, ErrUnknownStep
	}
	if target == StepReady {
		return s.EnterReady(ctx, userID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.store.LatestSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	if target.Index() != latest.Step.Index()+1 {
		return nil, ErrOutOfSequence
	}
	block, err := s.record(ctx, EventStep, map[string]any{
		"userId": userID,
		"step":   string(latest.Step),
		"status": string(StatusVerified),
	})
	if err != nil {
		return nil, err
	}
	next := s.newSession(userID, target, block)
	if err := s.store.Advance(ctx, latest, StatusVerified, next); err != nil {
		return nil, fmt.Errorf("advance session: %w", err)
	}
	return next, nil
}

// SubmitBiometric checks a biometric sample while the user is at BIOMETRIC.
func (s *Service) SubmitBiometric(ctx context.Context, userID, biometricType, sample string) (*ledger.Block, error) {
	biometricType = strings.TrimSpace(biometricType)
	if biometricType == "" || sample == "" {
		return nil, ErrBiometricRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.currentAt(ctx, userID, StepBiometric); err != nil {
		return nil, err
	}
	if len(sample) < s.cfg.MinBiometricLength {
		observability.Events().RecordVerification(EventBiometric, ErrBiometricMismatch)
		return nil, ErrBiometricMismatch
	}
	return s.record(ctx, EventBiometric, map[string]any{
		"userId":        userID,
		"biometricType": biometricType,
		"verified":      true,
	})
}

// GenerateOTP issues a code for the user's OTP step. Only its digest is
// stored and anchored; the code goes to the Notifier and back to the caller.
// Delivery happens after the workflow lock is released so a slow notifier
// cannot stall other users.
func (s *Service) GenerateOTP(ctx context.Context, userID string) (*OTPIssue, error) {
	issue, err := s.issueOTP(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.notifier.DeliverOTP(ctx, OTPMessage{UserID: userID, Code: issue.Code, ExpiresAt: issue.ExpiresAt}); err != nil {
		s.logger.Warn("otp delivery failed", logging.MaskField("userId", userID), slog.String("error", err.Error()))
	}
	return issue, nil
}

func (s *Service) issueOTP(ctx context.Context, userID string) (*OTPIssue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.currentAt(ctx, userID, StepOTP)
	if err != nil {
		return nil, err
	}
	code, err := s.codeFn()
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}
	expires := s.now().Add(s.cfg.OTPTTL)
	digest := otpDigest(s.cfg.OTPSalt, session.SessionID.String(), code)

	block, err := s.record(ctx, EventOTPGenerated, map[string]any{
		"userId":  userID,
		"otpHash": digest,
	})
	if err != nil {
		return nil, err
	}
	session.OTPDigest = digest
	session.OTPExpiresAt = &expires
	if err := s.store.SaveOTP(ctx, session); err != nil {
		return nil, fmt.Errorf("store otp: %w", err)
	}
	return &OTPIssue{Code: code, ExpiresAt: expires, Block: block}, nil
}

// VerifyOTP checks code against the digest issued for the current session.
func (s *Service) VerifyOTP(ctx context.Context, userID, code string) (*ledger.Block, error) {
	code = strings.TrimSpace(code)
	if !otpPattern.MatchString(code) {
		return nil, ErrOTPFormat
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.currentAt(ctx, userID, StepOTP)
	if err != nil {
		return nil, err
	}
	if session.OTPDigest == "" || session.OTPExpiresAt == nil {
		return nil, ErrOTPMismatch
	}
	if s.now().After(session.OTPExpiresAt.UTC()) {
		observability.Events().RecordVerification(EventOTPVerified, ErrOTPExpired)
		return nil, ErrOTPExpired
	}
	if !digestsEqual(session.OTPDigest, otpDigest(s.cfg.OTPSalt, session.SessionID.String(), code)) {
		observability.Events().RecordVerification(EventOTPVerified, ErrOTPMismatch)
		return nil, ErrOTPMismatch
	}
	block, err := s.record(ctx, EventOTPVerified, map[string]any{
		"userId":   userID,
		"verified": true,
	})
	if err != nil {
		return nil, err
	}
	if err := s.store.CompleteOTP(ctx, session); err != nil {
		return nil, fmt.Errorf("complete otp: %w", err)
	}
	return block, nil
}

// EnterReady opens the READY step once the OTP step is verified.
func (s *Service) EnterReady(ctx context.Context, userID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.currentAt(ctx, userID, StepOTP)
	if err != nil {
		return nil, err
	}
	if latest.Status != StatusVerified {
		return nil, ErrOTPNotVerified
	}
	block, err := s.record(ctx, EventFinal, map[string]any{
		"userId":   userID,
		"verified": true,
	})
	if err != nil {
		return nil, err
	}
	next := s.newSession(userID, StepReady, block)
	if err := s.store.Advance(ctx, nil, "", next); err != nil {
		return nil, fmt.Errorf("create ready session: %w", err)
	}
	return next, nil
}

// CompleteReady marks the voter ready to vote.
func (s *Service) CompleteReady(ctx context.Context, userID string) (*ledger.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.currentAt(ctx, userID, StepReady)
	if err != nil {
		return nil, err
	}
	if latest.Status != StatusInProgress {
		return nil, ErrReadyNotInProgress
	}
	block, err := s.record(ctx, EventComplete, map[string]any{
		"userId":   userID,
		"verified": true,
	})
	if err != nil {
		return nil, err
	}
	if err := s.store.Advance(ctx, latest, StatusVerified, nil); err != nil {
		return nil, fmt.Errorf("complete ready session: %w", err)
	}
	s.logger.Info("voter ready", logging.MaskField("userId", userID), slog.String("hash", block.Hash))
	return block, nil
}

func (s *Service) currentAt(ctx context.Context, userID string, step Step) (*Session, error) {
	latest, err := s.store.LatestSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	if latest.Step != step {
		return nil, fmt.Errorf("%w: current step is %s, expected %s", ErrOutOfSequence, latest.Step, step)
	}
	return latest, nil
}

func (s *Service) record(ctx context.Context, eventType string, fields map[string]any) (*ledger.Block, error) {
	payload := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		payload[k] = v
	}
	payload["type"] = eventType
	payload["timestamp"] = s.now().Unix()
	block, err := s.recorder.AddBlock(ctx, payload)
	observability.Events().RecordVerification(eventType, err)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", eventType, err)
	}
	return block, nil
}

func (s *Service) newSession(userID string, step Step, block *ledger.Block) *Session {
	return &Session{
		SessionID:     uuid.New(),
		UserID:        userID,
		Step:          step,
		Status:        StatusInProgress,
		CreatedAt:     s.now(),
		BlockchainRef: block.Hash,
	}
}

func normalizeVoterID(raw string) string {
	return strings.ToUpper(norm.NFKC.String(strings.TrimSpace(raw)))
}
