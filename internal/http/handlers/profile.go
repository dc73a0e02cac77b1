package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"
	"github.com/urban-engineer/sved/internal/models"
	"github.com/urban-engineer/sved/internal/repository"
)

// ProfileHandler handles encoding profile administration.
type ProfileHandler struct {
	profiles repository.ProfileRepository
	logger   *slog.Logger
}

// NewProfileHandler creates a new profile handler.
func NewProfileHandler(profiles repository.ProfileRepository, logger *slog.Logger) *ProfileHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileHandler{
		profiles: profiles,
		logger:   logger,
	}
}

// Register registers the profile routes with the API.
func (h *ProfileHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listProfiles",
		Method:      "GET",
		Path:        "/api/encodes/profiles",
		Summary:     "List profiles",
		Description: "Returns all encoding profiles ordered by name",
		Tags:        []string{"Profiles"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getProfile",
		Method:      "GET",
		Path:        "/api/encodes/profiles/{id}",
		Summary:     "Get profile",
		Description: "Returns an encoding profile by ID",
		Tags:        []string{"Profiles"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "createProfile",
		Method:      "POST",
		Path:        "/api/encodes/profiles",
		Summary:     "Create profile",
		Description: "Creates a new encoding profile",
		Tags:        []string{"Profiles"},
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "deleteProfile",
		Method:      "DELETE",
		Path:        "/api/encodes/profiles/{id}",
		Summary:     "Delete profile",
		Description: "Deletes an encoding profile",
		Tags:        []string{"Profiles"},
	}, h.Delete)
}

// ListProfilesInput is the input for listing profiles.
type ListProfilesInput struct{}

// ListProfilesOutput is the output for listing profiles.
type ListProfilesOutput struct {
	Body struct {
		Profiles []ProfileResponse `json:"profiles"`
	}
}

// List returns all profiles.
func (h *ProfileHandler) List(ctx context.Context, input *ListProfilesInput) (*ListProfilesOutput, error) {
	profiles, err := h.profiles.GetAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list profiles", err)
	}

	resp := &ListProfilesOutput{}
	resp.Body.Profiles = make([]ProfileResponse, 0, len(profiles))
	for _, p := range profiles {
		resp.Body.Profiles = append(resp.Body.Profiles, *ProfileFromModel(p))
	}
	return resp, nil
}

// GetProfileInput is the input for getting a profile.
type GetProfileInput struct {
	ID uint `path:"id" doc:"Profile ID"`
}

// GetProfileOutput is the output for getting a profile.
type GetProfileOutput struct {
	Body ProfileResponse
}

// GetByID returns a profile by ID.
func (h *ProfileHandler) GetByID(ctx context.Context, input *GetProfileInput) (*GetProfileOutput, error) {
	profile, err := h.profiles.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get profile", err)
	}
	if profile == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("profile %d not found", input.ID))
	}
	return &GetProfileOutput{Body: *ProfileFromModel(profile)}, nil
}

// CreateProfileInput is the input for creating a profile.
type CreateProfileInput struct {
	Body struct {
		Name                  string `json:"name" doc:"Unique profile name, also the output subdirectory"`
		Description           string `json:"description,omitempty"`
		Codec                 string `json:"codec" doc:"h264 or h265"`
		EncodeType            string `json:"encode_type" doc:"crf or abr"`
		EncodeValue           int    `json:"encode_value" doc:"Starting CRF value or bitrate in kb/s"`
		Preset                string `json:"preset,omitempty"`
		Tune                  string `json:"tune,omitempty"`
		ExtraArgs             string `json:"extra_args,omitempty"`
		KeepOriginalMainAudio bool   `json:"keep_original_main_audio,omitempty"`
	}
}

// CreateProfileOutput is the output for creating a profile.
type CreateProfileOutput struct {
	Body ProfileResponse
}

// Create creates a new profile.
func (h *ProfileHandler) Create(ctx context.Context, input *CreateProfileInput) (*CreateProfileOutput, error) {
	profile := &models.Profile{
		Name:                  input.Body.Name,
		Description:           input.Body.Description,
		Codec:                 models.Codec(input.Body.Codec),
		EncodeType:            models.EncodeType(input.Body.EncodeType),
		EncodeValue:           input.Body.EncodeValue,
		Preset:                input.Body.Preset,
		Tune:                  input.Body.Tune,
		ExtraArgs:             input.Body.ExtraArgs,
		KeepOriginalMainAudio: input.Body.KeepOriginalMainAudio,
	}

	if err := profile.Validate(); err != nil {
		return nil, huma.Error400BadRequest("invalid profile", err)
	}

	existing, err := h.profiles.GetByName(ctx, profile.Name)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to check profile name", err)
	}
	if existing != nil {
		return nil, huma.Error400BadRequest(fmt.Sprintf("profile %q already exists", profile.Name))
	}

	if err := h.profiles.Create(ctx, profile); err != nil {
		if errors.Is(err, models.ErrProfileNameRequired) || errors.Is(err, models.ErrInvalidCodec) || errors.Is(err, models.ErrInvalidEncodeType) {
			return nil, huma.Error400BadRequest("invalid profile", err)
		}
		return nil, huma.Error500InternalServerError("failed to create profile", err)
	}

	h.logger.InfoContext(ctx, "profile created",
		slog.Uint64("profile_id", uint64(profile.ID)),
		slog.String("name", profile.Name),
	)

	return &CreateProfileOutput{Body: *ProfileFromModel(profile)}, nil
}

// Delete deletes a profile by ID.
func (h *ProfileHandler) Delete(ctx context.Context, input *GetProfileInput) (*MessageOutput, error) {
	profile, err := h.profiles.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get profile", err)
	}
	if profile == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("profile %d not found", input.ID))
	}

	if err := h.profiles.Delete(ctx, input.ID); err != nil {
		return nil, huma.Error500InternalServerError("failed to delete profile", err)
	}

	return messageOutput(fmt.Sprintf("profile %d deleted", input.ID)), nil
}
