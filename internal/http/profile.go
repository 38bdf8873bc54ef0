package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/akovalev/syncbridge/internal/database"
	"github.com/akovalev/syncbridge/internal/database/profile"
	"github.com/akovalev/syncbridge/internal/services"
)

// ProfileController exposes profile CRUD. Responses carry the data or
// fallback alongside the error: a degraded result (queued write served from
// cache) comes back 200 with success=false so callers can tell the two
// apart.
type ProfileController struct {
	service *services.ProfileService
}

func NewProfileController(service *services.ProfileService) *ProfileController {
	return &ProfileController{service: service}
}

type createProfileRequest struct {
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url"`
	Bio       string `json:"bio"`
	Website   string `json:"website"`
}

func (p *ProfileController) Get(c *gin.Context) {
	resp := p.service.GetProfile(c.Request.Context(), c.Param("id"))
	writeResponse(c, resp)
}

func (p *ProfileController) Create(c *gin.Context) {
	var req createProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp := p.service.CreateProfile(c.Request.Context(), c.Param("id"), profile.CreateParams{
		Email:     req.Email,
		FullName:  req.FullName,
		AvatarURL: req.AvatarURL,
		Bio:       req.Bio,
		Website:   req.Website,
	})
	writeResponse(c, resp)
}

func (p *ProfileController) Update(c *gin.Context) {
	var updates map[string]any
	if err := c.ShouldBindJSON(&updates); err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp := p.service.UpdateProfile(c.Request.Context(), c.Param("id"), updates)
	writeResponse(c, resp)
}

func (p *ProfileController) Delete(c *gin.Context) {
	confirm := c.Query("confirm") == "true"
	resp := p.service.DeleteProfile(c.Request.Context(), c.Param("id"), confirm)
	writeResponse(c, resp)
}

// writeResponse maps a repository response onto HTTP. Anything with data is
// a 200, even degraded; only data-less failures become errors.
func writeResponse[T any](c *gin.Context, resp database.Response[T]) {
	body := gin.H{"success": resp.Success}
	if resp.Data != nil {
		body["data"] = resp.Data
	}
	if resp.Err != nil {
		body["error"] = resp.Err.Error()
	}

	switch {
	case resp.Success || resp.Data != nil:
		c.IndentedJSON(http.StatusOK, body)
	case isValidationError(resp.Err):
		c.IndentedJSON(http.StatusBadRequest, body)
	default:
		c.IndentedJSON(http.StatusBadGateway, body)
	}
}

func isValidationError(err error) bool {
	for _, candidate := range []error{
		services.ErrMissingUserID,
		services.ErrMissingEmail,
		services.ErrInvalidEmail,
		services.ErrInvalidURL,
		services.ErrNoUpdates,
		services.ErrDeleteNotConfirmed,
	} {
		if errors.Is(err, candidate) {
			return true
		}
	}
	return false
}
