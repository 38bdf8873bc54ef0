// Package services provides validation and sanitization in front of the
// repositories, keeping the repositories persistence-focused.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/akovalev/syncbridge/internal/database"
	"github.com/akovalev/syncbridge/internal/database/profile"
	"github.com/akovalev/syncbridge/internal/remote"
)

// MaxBioLength is the cap free-text bios are silently truncated to.
const MaxBioLength = 500

// Validation errors. These are returned before any network or queue
// activity happens.
var (
	ErrMissingUserID      = errors.New("user id is required")
	ErrMissingEmail       = errors.New("email is required")
	ErrInvalidEmail       = errors.New("email is not valid")
	ErrInvalidURL         = errors.New("url is not valid")
	ErrNoUpdates          = errors.New("no updates provided")
	ErrDeleteNotConfirmed = errors.New("delete requires explicit confirmation")
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ProfileService fronts the profile repository with input validation.
type ProfileService struct {
	repo *profile.Repository
}

// NewProfileService creates a profile service.
func NewProfileService(repo *profile.Repository) *ProfileService {
	return &ProfileService{repo: repo}
}

// GetProfile fetches a profile after validating the identifier.
func (s *ProfileService) GetProfile(ctx context.Context, userID string) database.Response[profile.Profile] {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return database.Fail[profile.Profile](ErrMissingUserID)
	}
	return s.repo.Get(ctx, userID)
}

// CreateProfile validates and sanitizes the inputs, then creates the
// profile.
func (s *ProfileService) CreateProfile(ctx context.Context, userID string, params profile.CreateParams) database.Response[profile.Profile] {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return database.Fail[profile.Profile](ErrMissingUserID)
	}

	params.Email = strings.ToLower(strings.TrimSpace(params.Email))
	if params.Email == "" {
		return database.Fail[profile.Profile](ErrMissingEmail)
	}
	if !emailPattern.MatchString(params.Email) {
		return database.Fail[profile.Profile](ErrInvalidEmail)
	}

	params.FullName = strings.TrimSpace(params.FullName)
	params.Bio = truncate(strings.TrimSpace(params.Bio), MaxBioLength)

	var err error
	if params.AvatarURL, err = sanitizeURL(params.AvatarURL); err != nil {
		return database.Fail[profile.Profile](err)
	}
	if params.Website, err = sanitizeURL(params.Website); err != nil {
		return database.Fail[profile.Profile](err)
	}

	return s.repo.Create(ctx, userID, params)
}

// UpdateProfile sanitizes the given field updates and applies them.
// Unknown fields pass through untouched; the repository treats them as an
// opaque patch.
func (s *ProfileService) UpdateProfile(ctx context.Context, userID string, updates map[string]any) database.Response[profile.Profile] {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return database.Fail[profile.Profile](ErrMissingUserID)
	}
	if len(updates) == 0 {
		return database.Fail[profile.Profile](ErrNoUpdates)
	}

	sanitized := make(map[string]any, len(updates))
	for field, value := range updates {
		text, isText := value.(string)
		if !isText {
			sanitized[field] = value
			continue
		}
		text = strings.TrimSpace(text)

		switch field {
		case "email":
			text = strings.ToLower(text)
			if !emailPattern.MatchString(text) {
				return database.Fail[profile.Profile](ErrInvalidEmail)
			}
		case "bio":
			// Silently truncated, not rejected.
			text = truncate(text, MaxBioLength)
		case "avatar_url", "website":
			clean, err := sanitizeURL(text)
			if err != nil {
				return database.Fail[profile.Profile](err)
			}
			text = clean
		}
		sanitized[field] = text
	}

	return s.repo.Update(ctx, userID, sanitized)
}

// DeleteProfile removes a profile. The confirm flag must be explicitly
// true; delete has no undo.
func (s *ProfileService) DeleteProfile(ctx context.Context, userID string, confirm bool) database.Response[bool] {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return database.Fail[bool](ErrMissingUserID)
	}
	if !confirm {
		return database.Fail[bool](ErrDeleteNotConfirmed)
	}
	return s.repo.Delete(ctx, userID)
}

// SubscribeToProfile streams remote changes for one profile.
func (s *ProfileService) SubscribeToProfile(ctx context.Context, userID string, handler func(remote.ChangeEvent)) (*remote.Subscription, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrMissingUserID
	}
	return s.repo.Subscribe(ctx, userID, handler)
}

// sanitizeURL trims and shape-checks a URL. Empty stays empty.
func sanitizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}
	return raw, nil
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit]
}
