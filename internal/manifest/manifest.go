// Package manifest reads description.json, the file every package carries at
// its root to declare its format version and entrypoints.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	Filename = "description.json"

	// MaxSupportedVersion is the newest format this server can play.
	MaxSupportedVersion = 1
)

var (
	ErrInvalid     = errors.New("invalid package description")
	ErrUnsupported = errors.New("unsupported package format")
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("relpath", validateRelPath)
}

func validateRelPath(fl validator.FieldLevel) bool {
	p := strings.ReplaceAll(fl.Field().String(), "\\", "/")
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

type Description struct {
	FormatVersion    int     `json:"format_version" validate:"required,gte=1"`
	Title            string  `json:"title" validate:"max=255"`
	Entrypoint       string  `json:"entrypoint" validate:"required,relpath"`
	ReportEntrypoint *string `json:"report_entrypoint" validate:"omitempty,relpath"`
}

// FilePath is a package-relative file split into directory and name.
type FilePath struct {
	Dir      string
	Filename string
}

// Parse decodes and validates raw description bytes.
func Parse(raw []byte) (*Description, error) {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))

	var d Description
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	d.Entrypoint = strings.TrimSpace(d.Entrypoint)
	if d.ReportEntrypoint != nil {
		trimmed := strings.TrimSpace(*d.ReportEntrypoint)
		if trimmed == "" {
			d.ReportEntrypoint = nil
		} else {
			d.ReportEntrypoint = &trimmed
		}
	}

	if err := validate.Struct(&d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("%w: field %s failed %q", ErrInvalid, verrs[0].Field(), verrs[0].Tag())
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if d.FormatVersion > MaxSupportedVersion {
		return nil, fmt.Errorf("%w: version %d, newest supported is %d", ErrUnsupported, d.FormatVersion, MaxSupportedVersion)
	}
	return &d, nil
}

// Entry returns the player entrypoint split into dir and filename.
func (d *Description) Entry() FilePath {
	return SplitPath(d.Entrypoint)
}

// Report returns the detailed-report entrypoint, or nil when the package has
// none.
func (d *Description) Report() *FilePath {
	if d.ReportEntrypoint == nil {
		return nil
	}
	fp := SplitPath(*d.ReportEntrypoint)
	return &fp
}

// SplitPath splits a package-relative path. Dirs are returned with a
// trailing slash and no leading one; a root-level file has Dir "".
func SplitPath(p string) FilePath {
	p = strings.TrimLeft(strings.ReplaceAll(p, "\\", "/"), "/")
	dir, file := path.Split(p)
	return FilePath{Dir: dir, Filename: file}
}
