package authz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/casbin/casbin/v2"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	"github.com/sirupsen/logrus"
)

// Service provides helpers for enforcing authorization decisions.
type Service struct {
	cfg          Config
	enforcer     *casbin.Enforcer
	logger       *logrus.Entry
	flagProvider FlagProvider
	mu           sync.RWMutex
}

// NewService constructs a Service with the provided config.
func NewService(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.normalized()

	var logger *logrus.Entry
	if cfg.Logger != nil {
		logger = cfg.Logger.WithField("component", "authz")
	} else {
		logger = logrus.WithField("component", "authz")
	}

	enf, err := casbin.NewEnforcer(cfg.ModelPath, fileadapter.NewAdapter(cfg.PolicyPath))
	if err != nil {
		return nil, fmt.Errorf("authz: failed to initialize enforcer: %w", err)
	}
	if err := enf.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("authz: failed to load policies: %w", err)
	}

	provider := cfg.FlagProvider
	if provider == nil {
		provider = NewFileFlagProvider(cfg.FlagPath, cfg.FlagMode)
	}

	return &Service{
		cfg:          cfg,
		enforcer:     enf,
		logger:       logger,
		flagProvider: provider,
	}, nil
}

func (s *Service) Mode() Mode {
	return sanitizeMode(s.flagProvider.Mode())
}

// Authorize returns an error if the request is denied. In shadow mode denials
// are logged and allowed through.
func (s *Service) Authorize(ctx context.Context, req Request) error {
	return s.AuthorizeCaller(ctx, req.Subject, nil, req.Object, req.Action)
}

// AuthorizeCaller evaluates the user subject and each of its role subjects;
// any allowing subject grants the request.
func (s *Service) AuthorizeCaller(ctx context.Context, userID string, roles []string, object, action string) error {
	mode := s.Mode()
	if mode == ModeDisabled {
		return nil
	}
	subject := SubjectForUser(userID)
	if userID == "" || isPrefixed(userID) {
		subject = userID
	}
	allowed, err := s.CheckCaller(ctx, userID, roles, object, action)
	if err != nil {
		return err
	}
	if allowed {
		return nil
	}

	fields := logrus.Fields{
		"subject": subject,
		"roles":   roles,
		"object":  object,
		"action":  NormalizeAction(action),
		"mode":    mode,
	}
	if mode == ModeShadow {
		s.logger.WithContext(ctx).WithFields(fields).Warn("authz shadow deny")
		return nil
	}
	s.logger.WithContext(ctx).WithFields(fields).Warn("authz denied request")
	return forbiddenError(NewRequest(subject, object, action))
}

// Check evaluates a single subject without returning an authorization error.
func (s *Service) Check(ctx context.Context, req Request) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	started := time.Now()
	res, err := s.enforcer.Enforce(req.Subject, req.Object, NormalizeAction(req.Action))
	if err != nil {
		return false, fmt.Errorf("authz: enforce failed: %w", err)
	}
	recordDecision(s.Mode(), res, time.Since(started))
	return res, nil
}

// CheckCaller reports whether the user or any of its roles may perform
// action on object, regardless of the enforcement mode.
func (s *Service) CheckCaller(ctx context.Context, userID string, roles []string, object, action string) (bool, error) {
	subjects := make([]string, 0, len(roles)+1)
	if userID != "" {
		if isPrefixed(userID) {
			subjects = append(subjects, userID)
		} else {
			subjects = append(subjects, SubjectForUser(userID))
		}
	}
	for _, r := range roles {
		subjects = append(subjects, SubjectForRole(r))
	}
	for _, sub := range subjects {
		ok, err := s.Check(ctx, NewRequest(sub, object, action))
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// HasFullAdmin reports whether the caller may grant roster permissions
// directly. Evaluation errors count as "no".
func (s *Service) HasFullAdmin(ctx context.Context, userID string, roles []string) bool {
	ok, err := s.CheckCaller(ctx, userID, roles, ObjectPermissions, ActionGrant)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("authz: full admin check failed")
		return false
	}
	return ok
}

// ReloadPolicy reloads policy data from disk.
func (s *Service) ReloadPolicy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enforcer.LoadPolicy(); err != nil {
		return fmt.Errorf("authz: reload policy failed: %w", err)
	}
	s.logger.WithContext(ctx).Info("authz policy reloaded")
	return nil
}

func isPrefixed(subject string) bool {
	return len(subject) > len(userPrefix) && subject[:len(userPrefix)+1] == userPrefix+subjectSeparator
}
