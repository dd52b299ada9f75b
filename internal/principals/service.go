package principals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/matchday/backend/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultProvider = "matchday"

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("principals: invalid identity")
	// ErrUnknownPrincipal indicates no identity has been recorded for a principal id.
	ErrUnknownPrincipal = errors.New("principals: unknown principal")
)

// ServiceConfig describes the dependencies required for principal resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service records who has signed in and maps session claims to principal ids.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

// NewService constructs the identity service. The schema must already be migrated.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("principals: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
	}, nil
}

// ResolvePrincipalID returns the principal id for the provided session claims and
// records the identity the first time it is seen. A principal id of the form
// "provider:subject" is split so the same login always resolves to the subject.
func (s *Service) ResolvePrincipalID(ctx context.Context, claims auth.SessionClaims) (string, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if principalID, ok := cached.(string); ok {
			return principalID, nil
		}
	}

	db := s.db.WithContext(ctx)
	var identity Identity
	err := db.Where("provider = ? AND subject = ?", provider, subject).Take(&identity).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			PrincipalID: subject,
			Email:       normalize(claims.Email),
			DisplayName: normalize(claims.DisplayName),
			LastSeenAt:  s.now().UTC(),
		}
		if err := db.Create(&identity).Error; err != nil {
			return "", err
		}
		s.logger.Info("principal identity recorded",
			zap.String("provider", provider),
			zap.String("principal_id", identity.PrincipalID))
	case err != nil:
		return "", err
	default:
		updates := map[string]interface{}{"last_seen_at": s.now().UTC()}
		if email := normalize(claims.Email); email != "" && email != identity.Email {
			updates["email"] = email
		}
		if display := normalize(claims.DisplayName); display != "" && display != identity.DisplayName {
			updates["display_name"] = display
		}
		if err := db.Model(&Identity{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).Error; err != nil {
			s.logger.Warn("principal identity refresh failed", zap.String("principal_id", identity.PrincipalID), zap.Error(err))
		}
	}

	s.cache.Store(cacheKey, identity.PrincipalID)
	return identity.PrincipalID, nil
}

// Lookup returns the most recently seen identity recorded for principalID.
func (s *Service) Lookup(ctx context.Context, principalID string) (Identity, error) {
	var identity Identity
	err := s.db.WithContext(ctx).
		Where("principal_id = ?", normalize(principalID)).
		Order("last_seen_at DESC").
		Take(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, fmt.Errorf("%w: %s", ErrUnknownPrincipal, principalID)
	}
	if err != nil {
		return Identity{}, err
	}
	return identity, nil
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := defaultProvider
	subject := normalize(claims.Subject)

	raw := normalize(claims.PrincipalID)
	if raw != "" {
		if strings.Contains(raw, ":") {
			segments := strings.SplitN(raw, ":", 2)
			if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
				provider = normalize(segments[0])
				subject = normalize(segments[1])
			}
		} else {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.Email)
	}
	return provider, subject
}
