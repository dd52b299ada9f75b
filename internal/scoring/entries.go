package scoring

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// VerifyToken succeeds only when token is the day token of a checked-in entry
// registered in the match's tournament. Every mismatch yields the same error.
func (s *Service) VerifyToken(ctx context.Context, matchID, token string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	matchID, err := requireID("match", matchID)
	if err != nil {
		return s.fail(opVerifyToken, err)
	}
	match, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return s.fail(opVerifyToken, err, zap.String("match_id", matchID))
	}
	presented := strings.TrimSpace(token)
	if presented == "" {
		return s.fail(opVerifyToken, newServiceError(opVerifyToken, "invalid_token", ErrInvalidToken, errors.New("empty token")),
			zap.String("match_id", matchID))
	}
	entries, err := s.store.ListEntries(ctx, match.TournamentID)
	if err != nil {
		return s.fail(opVerifyToken, err, zap.String("match_id", matchID))
	}

	matched := false
	for _, entry := range entries {
		if subtle.ConstantTimeCompare([]byte(entry.DayToken), []byte(presented)) == 1 && entry.IsCheckedIn {
			matched = true
		}
	}
	if !matched {
		return s.fail(opVerifyToken, newServiceError(opVerifyToken, "invalid_token", ErrInvalidToken, nil),
			zap.String("match_id", matchID))
	}
	return nil
}

// IssueEntry registers a tournament entry with a fresh day token.
func (s *Service) IssueEntry(ctx context.Context, principalID, tournamentID, displayName string) (TournamentEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tournamentID, err := requireID("tournament", tournamentID)
	if err != nil {
		return TournamentEntry{}, s.fail(opIssueEntry, err)
	}
	if err := s.authorizeTournament(ctx, opIssueEntry, principalID, tournamentID); err != nil {
		return TournamentEntry{}, s.fail(opIssueEntry, err, zap.String("tournament_id", tournamentID), zap.String("principal_id", principalID))
	}
	entryID, err := s.idProvider.NewID()
	if err != nil {
		return TournamentEntry{}, s.fail(opIssueEntry, newServiceError(opIssueEntry, "id_generation_failed", ErrPersistence, err))
	}
	token, err := s.idProvider.NewToken()
	if err != nil {
		return TournamentEntry{}, s.fail(opIssueEntry, newServiceError(opIssueEntry, "token_generation_failed", ErrPersistence, err))
	}
	entry := TournamentEntry{
		ID:              entryID,
		TournamentID:    tournamentID,
		DisplayName:     strings.TrimSpace(displayName),
		DayToken:        token,
		CreatedAtMillis: s.nowMillis(),
	}
	if err := s.store.CreateEntry(ctx, entry); err != nil {
		return TournamentEntry{}, s.fail(opIssueEntry, err, zap.String("tournament_id", tournamentID))
	}
	s.logger.Info("tournament entry issued", zap.String("entry_id", entryID), zap.String("tournament_id", tournamentID))
	return entry, nil
}

// CheckInEntry marks an entry as present on site. Checking in twice is a no-op.
func (s *Service) CheckInEntry(ctx context.Context, principalID, entryID string) (TournamentEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	entryID, err := requireID("entry", entryID)
	if err != nil {
		return TournamentEntry{}, s.fail(opCheckInEntry, err)
	}
	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return TournamentEntry{}, s.fail(opCheckInEntry, err, zap.String("entry_id", entryID))
	}
	if err := s.authorizeTournament(ctx, opCheckInEntry, principalID, entry.TournamentID); err != nil {
		return TournamentEntry{}, s.fail(opCheckInEntry, err, zap.String("entry_id", entryID), zap.String("principal_id", principalID))
	}
	if err := s.store.MarkEntryCheckedIn(ctx, entryID, s.nowMillis()); err != nil {
		return TournamentEntry{}, s.fail(opCheckInEntry, err, zap.String("entry_id", entryID))
	}
	updated, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return TournamentEntry{}, s.fail(opCheckInEntry, err, zap.String("entry_id", entryID))
	}
	return updated, nil
}
