package user

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah-isme/printdesk/internal/common"
	"github.com/noah-isme/printdesk/internal/remote"
	"github.com/noah-isme/printdesk/internal/session"
)

// Profiles is the upstream profile API.
type Profiles interface {
	CurrentUser(ctx context.Context, token string) (remote.User, error)
	UpdateProfile(ctx context.Context, token string, upd remote.ProfileUpdate) (remote.User, error)
	ChangePassword(ctx context.Context, token string, change remote.PasswordChange) error
}

// Sessions is the part of the session store the profile service needs.
type Sessions interface {
	Get(ctx context.Context, id string) (session.State, error)
	Dispatch(ctx context.Context, id string, action session.Action) (session.State, error)
}

// Service manages the profile of the account logged into a session.
type Service struct {
	Sessions Sessions
	Profiles Profiles
}

// Profile returns the current upstream profile and refreshes the copy cached in the session.
func (s *Service) Profile(ctx context.Context, sessionID string) (remote.User, error) {
	st, err := s.authenticated(ctx, sessionID)
	if err != nil {
		return remote.User{}, err
	}
	u, err := s.Profiles.CurrentUser(ctx, st.Credential)
	if err != nil {
		return remote.User{}, err
	}
	s.remember(ctx, sessionID, st.Credential, u)
	return u, nil
}

// Update edits the profile. At least one field must be present.
func (s *Service) Update(ctx context.Context, sessionID string, upd remote.ProfileUpdate) (remote.User, error) {
	if upd.Email == nil && upd.FullName == nil && upd.PhoneNumber == nil {
		return remote.User{}, common.ValidationError("no profile fields to update", nil)
	}
	if err := common.ValidateStruct(upd); err != nil {
		return remote.User{}, err
	}
	st, err := s.authenticated(ctx, sessionID)
	if err != nil {
		return remote.User{}, err
	}
	u, err := s.Profiles.UpdateProfile(ctx, st.Credential, upd)
	if err != nil {
		return remote.User{}, err
	}
	s.remember(ctx, sessionID, st.Credential, u)
	zerolog.Ctx(ctx).Info().Str("username", u.Username).Msg("profile_updated")
	return u, nil
}

// ChangePassword changes the account password. The session stays logged in.
func (s *Service) ChangePassword(ctx context.Context, sessionID string, change remote.PasswordChange) error {
	if err := common.ValidateStruct(change); err != nil {
		return err
	}
	st, err := s.authenticated(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.Profiles.ChangePassword(ctx, st.Credential, change); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Msg("password_changed")
	return nil
}

func (s *Service) authenticated(ctx context.Context, sessionID string) (session.State, error) {
	st, err := s.Sessions.Get(ctx, sessionID)
	if err != nil {
		return session.State{}, err
	}
	if !st.Authenticated || st.Credential == "" {
		return session.State{}, common.StaleStateError("log in to manage your profile", "login")
	}
	return st, nil
}

func (s *Service) remember(ctx context.Context, sessionID, credential string, u remote.User) {
	if _, err := s.Sessions.Dispatch(ctx, sessionID, session.Authenticate{User: u, Credential: credential}); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("profile_cache_refresh_failed")
	}
}
