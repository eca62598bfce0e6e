package validation

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/open-builders/knock-backend/internal/common/errors"
)

const (
	MinPrizeStock = 1
	MaxPrizeStock = 999
	MinWeight     = 0
	MaxWeight     = 1000
	MaxNameLength = 100
)

var (
	prizeIDRegex    = regexp.MustCompile(`^[a-z][a-z-]{2,25}$`)
	snowflakeRegex  = regexp.MustCompile(`^\d+$`)
	deviantArtRegex = regexp.MustCompile(`^[a-zA-Z0-9-]{1,30}$`)
)

var (
	once     sync.Once
	validate *validator.Validate
)

// Validator returns the shared validator with the custom tags registered:
// prizeid, snowflake, imageurl and deviantart.
func Validator() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("prizeid", func(fl validator.FieldLevel) bool {
			return IsPrizeID(fl.Field().String())
		})
		_ = v.RegisterValidation("snowflake", func(fl validator.FieldLevel) bool {
			return IsSnowflake(fl.Field().String())
		})
		_ = v.RegisterValidation("imageurl", func(fl validator.FieldLevel) bool {
			return IsImageURL(fl.Field().String())
		})
		_ = v.RegisterValidation("deviantart", func(fl validator.FieldLevel) bool {
			return IsDeviantArtName(fl.Field().String())
		})
		validate = v
	})
	return validate
}

// IsPrizeID reports whether id is a lowercase, dash-separated prize id.
func IsPrizeID(id string) bool { return prizeIDRegex.MatchString(id) }

// IsSnowflake reports whether s is a Discord id.
func IsSnowflake(s string) bool { return snowflakeRegex.MatchString(s) }

// IsDeviantArtName reports whether s is a plausible DeviantArt username.
func IsDeviantArtName(s string) bool { return deviantArtRegex.MatchString(s) }

// IsImageURL accepts absolute http(s) URLs whose path ends in .png or .jpg.
func IsImageURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	p := strings.ToLower(u.Path)
	return strings.HasSuffix(p, ".png") || strings.HasSuffix(p, ".jpg")
}

// Struct validates v and converts the first failure to a VALIDATION_ERROR.
func Struct(v interface{}) error {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return apperrors.NewValidationError(fieldName(fe), describe(fe))
	}
	return apperrors.Wrap(err, apperrors.ErrCodeValidation, "Validation failed")
}

func fieldName(fe validator.FieldError) string {
	return strings.ToLower(fe.Field())
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "prizeid":
		return "must be 3-26 lowercase letters or dashes and start with a letter"
	case "snowflake":
		return "must be a Discord id"
	case "deviantart":
		return "must contain only letters, numbers and hyphens and be at most 30 characters"
	case "imageurl":
		return "must be an http(s) link to a .png or .jpg image"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "ltefield":
		return fmt.Sprintf("must not exceed %s", strings.ToLower(fe.Param()))
	default:
		return fmt.Sprintf("failed %s", fe.Tag())
	}
}
