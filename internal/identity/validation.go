package identity

import (
	"regexp"
	"strings"

	"github.com/respawn-arena/arena_auth/internal/autherr"
)

const MinPasswordLength = 6

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^[0-9]{10}$`)
	otpPattern   = regexp.MustCompile(`^[0-9]{6}$`)
)

// SignupProfile is the form submitted to create an account.
type SignupProfile struct {
	Name     string
	Email    string
	Password string
	Confirm  string
	Phone    string
}

// ValidateSignup checks the profile locally, field by field, and returns the
// first violation. requirePhone selects the variant of the form that asks for
// a phone number; a phone given to the other variant is still checked.
func ValidateSignup(p SignupProfile, requirePhone bool) error {
	if strings.TrimSpace(p.Name) == "" {
		return autherr.Validation("name", "Name is required")
	}
	if !emailPattern.MatchString(strings.TrimSpace(p.Email)) {
		return autherr.Validation("email", "Please enter a valid email address")
	}
	if len(p.Password) < MinPasswordLength {
		return autherr.Validation("password", "Password must be at least 6 characters")
	}
	if p.Password != p.Confirm {
		return autherr.Validation("confirm", "Passwords do not match")
	}
	if requirePhone || p.Phone != "" {
		if err := ValidatePhone(p.Phone); err != nil {
			return err
		}
	}
	return nil
}

// ValidatePhone accepts exactly ten digits.
func ValidatePhone(phone string) error {
	if !phonePattern.MatchString(phone) {
		return autherr.Validation("phone", "Phone number must be exactly 10 digits")
	}
	return nil
}

// ValidateOTP accepts exactly six digits.
func ValidateOTP(code string) error {
	if !otpPattern.MatchString(code) {
		return autherr.Validation("otp", "Enter the 6-digit code")
	}
	return nil
}
