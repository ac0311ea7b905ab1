package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidProfile reports a profile payload that could not be decoded or
// failed field validation.
var ErrInvalidProfile = errors.New("invalid profile")

var validate = validator.New(validator.WithRequiredStructEnabled())

const maxSocialLinks = 32

// Profile carries the user-editable attributes of a User as written by
// signup and profile setup. Zero values are stored as-is.
type Profile struct {
	Name        string       `json:"name"               validate:"max=255"`
	Email       string       `json:"email"              validate:"required,email,max=320"`
	Bio         string       `json:"bio"                validate:"max=4000"`
	ContentType ContentType  `json:"content_type"`
	SocialLinks []SocialLink `json:"social_media_links" validate:"max=32,dive"`
}

// ProfileUpdate is a partial profile change. A nil field is left untouched;
// ContentType and SocialLinks replace the stored value wholesale.
type ProfileUpdate struct {
	Name        *string       `json:"name,omitempty"               validate:"omitnil,max=255"`
	Email       *string       `json:"email,omitempty"              validate:"omitnil,email,max=320"`
	Bio         *string       `json:"bio,omitempty"                validate:"omitnil,max=4000"`
	ContentType *ContentType  `json:"content_type,omitempty"`
	SocialLinks *[]SocialLink `json:"social_media_links,omitempty" validate:"omitnil"`
}

// Empty reports whether the update names no fields at all.
func (u ProfileUpdate) Empty() bool {
	return u.Name == nil && u.Email == nil && u.Bio == nil &&
		u.ContentType == nil && u.SocialLinks == nil
}

// Columns flattens the update into a column/value map suitable for a GORM
// Updates call. Email is normalized the same way as on create.
func (u ProfileUpdate) Columns() map[string]any {
	cols := make(map[string]any, 6)
	if u.Name != nil {
		cols["name"] = strings.TrimSpace(*u.Name)
	}
	if u.Email != nil {
		cols["email"] = NormalizeEmail(*u.Email)
	}
	if u.Bio != nil {
		cols["bio"] = *u.Bio
	}
	if u.ContentType != nil {
		cols["content_type"] = contentColumn(*u.ContentType)
	}
	if u.SocialLinks != nil {
		cols["social_media_links"] = linksColumn(*u.SocialLinks)
	}
	if len(cols) > 0 {
		cols["updated_at"] = time.Now().UTC()
	}
	return cols
}

// Validate runs the struct-tag rules on the profile.
func (p Profile) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	return nil
}

// Validate runs the struct-tag rules on every field present in the update.
func (u ProfileUpdate) Validate() error {
	if err := validate.Struct(u); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	if u.SocialLinks != nil {
		if len(*u.SocialLinks) > maxSocialLinks {
			return fmt.Errorf("%w: at most %d social links", ErrInvalidProfile, maxSocialLinks)
		}
		for _, l := range *u.SocialLinks {
			if err := validate.Struct(l); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
			}
		}
	}
	return nil
}

// DecodeProfileUpdate strictly decodes a partial update: unknown fields and
// trailing data are rejected, then the result is validated.
func DecodeProfileUpdate(r io.Reader) (ProfileUpdate, error) {
	var u ProfileUpdate
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&u); err != nil {
		return ProfileUpdate{}, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	if dec.More() {
		return ProfileUpdate{}, fmt.Errorf("%w: trailing data", ErrInvalidProfile)
	}
	if err := u.Validate(); err != nil {
		return ProfileUpdate{}, err
	}
	return u, nil
}

// DecodeProfile is the strict counterpart of DecodeProfileUpdate for full
// profile writes.
func DecodeProfile(r io.Reader) (Profile, error) {
	var p Profile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	if dec.More() {
		return Profile{}, fmt.Errorf("%w: trailing data", ErrInvalidProfile)
	}
	p.Email = NormalizeEmail(p.Email)
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// NormalizeEmail trims and lower-cases an address for storage and lookup.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
