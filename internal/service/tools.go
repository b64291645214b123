package service

import (
	"bytes"
	"encoding/json"
	"image"
	"io"

	"github.com/UnendingLoop/PhotoRevive/internal/model"
	"github.com/disintegration/imaging"
)

// providers choke on huge scans - anything larger gets fitted down
const maxSourceSide = 4096

func validateNormalizeAttemptInfo(raw *model.AttemptCreateData, clean *model.Attempt) error {
	clean.Kind = model.Kind(raw.Kind)
	if !model.KindsMap[clean.Kind] {
		return model.ErrIncorrectKind
	}

	if raw.ParamsRaw != "" {
		var p model.Params
		if err := json.Unmarshal([]byte(raw.ParamsRaw), &p); err != nil {
			return model.ErrIncorrectParams
		}
		clean.Params = p
	}

	// without a source attempt the caller must upload the image itself
	if raw.SourceAttempt == "" &&
		(raw.SourceImg == nil || raw.SourceImgSize <= 0 || !model.InImageTypeMap[raw.SourceCType]) {
		return model.ErrEmptySource
	}

	return nil
}

// normalizeSource sniffs the real format of the upload and downsizes
// oversized scans; the declared content-type is not trusted.
func normalizeSource(raw *model.AttemptCreateData) ([]byte, string, error) {
	data, err := io.ReadAll(raw.SourceImg)
	if err != nil || len(data) == 0 {
		return nil, "", model.ErrEmptySource
	}

	_, f, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", model.ErrUnsupportedFormat
	}

	format, err := imaging.FormatFromExtension(f)
	if err != nil {
		return nil, "", model.ErrUnsupportedFormat
	}

	switch format {
	case imaging.JPEG, imaging.PNG:
	default:
		return nil, "", model.ErrUnsupportedFormat
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", model.ErrUnsupportedFormat
	}

	bounds := img.Bounds()
	if bounds.Dx() <= maxSourceSide && bounds.Dy() <= maxSourceSide {
		return data, model.GetCType[format], nil
	}

	fitted := imaging.Fit(img, maxSourceSide, maxSourceSide, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, format); err != nil {
		return nil, "", model.ErrUnsupportedFormat
	}

	return buf.Bytes(), model.GetCType[format], nil
}
