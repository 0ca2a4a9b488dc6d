package orchestrator

import (
	"fmt"
	"strings"

	"github.com/bobarin/slnpart/internal/models"
	"github.com/bobarin/slnpart/internal/services"
)

// validate rejects a request before any balance check or write.
func validate(kind models.JobKind, params models.JSONB, hasUpload bool) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown job kind %q", models.ErrValidation, kind)
	}

	switch kind {
	case models.JobKindCoverArt:
		for _, key := range []string{models.ParamArtistName, models.ParamAlbumTitle, models.ParamGenre} {
			if strings.TrimSpace(params.String(key)) == "" {
				return fmt.Errorf("%w: %s is required", models.ErrValidation, key)
			}
		}
	case models.JobKindAudioMaster:
		if !hasUpload {
			return fmt.Errorf("%w: a vocal file is required", models.ErrValidation)
		}
		if err := validateMastering(params); err != nil {
			return err
		}
	case models.JobKindVideo:
		if err := oneOf(params, models.ParamVisualStyle, models.VisualStyles, false); err != nil {
			return err
		}
		if err := oneOf(params, models.ParamDuration, models.VideoDurations, true); err != nil {
			return err
		}
		if err := oneOf(params, models.ParamResolution, models.VideoResolutions, true); err != nil {
			return err
		}
	}
	return nil
}

func validateMastering(params models.JSONB) error {
	if t := params.String(models.ParamTemplate); !services.ValidMasteringTemplate(t) {
		return fmt.Errorf("%w: unknown template %q", models.ErrValidation, t)
	}
	return nil
}

func oneOf(params models.JSONB, key string, allowed []string, optional bool) error {
	v := params.String(key)
	if v == "" && optional {
		return nil
	}
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("%w: %s must be one of %s", models.ErrValidation, key, strings.Join(allowed, ", "))
}
