package services

import (
	"chatrelay/internal/core/contracts"
	"chatrelay/internal/core/domain"
	"chatrelay/pkg/logging"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// PresenceService is the durable side of presence. Every change is written
// to the user store and, when configured, to the presence cache.
type PresenceService struct {
	log   *slog.Logger
	users domain.UserRepository
	cache contracts.PresenceCache
}

func NewPresenceService(log *slog.Logger, users domain.UserRepository, cache contracts.PresenceCache) *PresenceService {
	return &PresenceService{log: log, users: users, cache: cache}
}

func (p *PresenceService) UpdateUserPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error {
	var err error
	if p.users != nil {
		if uErr := p.users.UpdateUserPresence(ctx, userID, online, lastSeen); uErr != nil {
			err = errors.Join(err, fmt.Errorf("user store: %w", uErr))
		}
	}
	if p.cache != nil {
		if cErr := p.cache.UpdateUserPresence(ctx, userID, online, lastSeen); cErr != nil {
			err = errors.Join(err, fmt.Errorf("presence cache: %w", cErr))
		}
	}
	return err
}

// Statuses resolves the status of each id. Live state comes from the
// registry; for users offline in this process the last-seen time is taken
// from the cache and then from the user store.
func (p *PresenceService) Statuses(ctx context.Context, hub contracts.Registry, ids []string) []domain.UserStatus {
	out := make([]domain.UserStatus, len(ids))
	var missing []string
	for i, id := range ids {
		out[i] = hub.Query(id)
		if out[i].IsOnline || out[i].LastSeen != nil {
			continue
		}
		if p.cache != nil {
			seen, err := p.cache.LastSeen(ctx, id)
			if err != nil {
				p.log.WarnContext(ctx, "presence - statuses - cache lookup failed", logging.User(id), logging.Err(err))
			}
			if seen != nil {
				out[i].LastSeen = seen
				continue
			}
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 || p.users == nil {
		return out
	}
	users, err := p.users.FindUsers(ctx, missing)
	if err != nil {
		p.log.WarnContext(ctx, "presence - statuses - user lookup failed", logging.Err(err))
		return out
	}
	for i := range out {
		if out[i].IsOnline || out[i].LastSeen != nil {
			continue
		}
		if u, ok := users[out[i].UserID]; ok {
			out[i].LastSeen = u.LastSeen
		}
	}
	return out
}
