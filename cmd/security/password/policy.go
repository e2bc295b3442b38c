package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validate pre-checks a candidate password against the policy. A nil error
// means only that the password is worth sending to the backend; the server
// still enforces its own rules.
func (c Config) Validate(pw string) error {
	// Length limits count runes, not bytes.
	switch n := utf8.RuneCountInString(pw); {
	case n < c.Policy.MinLength:
		return ErrPasswordTooShort
	case n > c.Policy.MaxLength:
		return ErrPasswordTooLong
	}

	if c.Policy.RejectVeryWeak && triviallyGuessable(pw) {
		return ErrWeakPassword
	}
	return nil
}

// Passwords rejected outright regardless of length. Kept small; this is a
// fail-fast filter, not a strength estimator.
var denylist = map[string]struct{}{
	"password":     {},
	"password123":  {},
	"123456":       {},
	"123456789":    {},
	"qwerty":       {},
	"qwerty123":    {},
	"11111111":     {},
	"contentcrush": {},
}

func triviallyGuessable(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}
	if _, bad := denylist[strings.ToLower(s)]; bad {
		return true
	}

	single := true
	digits := true
	var first rune
	for i, r := range s {
		if i == 0 {
			first = r
		} else if r != first {
			single = false
		}
		if !unicode.IsDigit(r) {
			digits = false
		}
	}
	if single {
		return true
	}
	// PIN-like: all digits and not long enough to make up for it.
	return digits && utf8.RuneCountInString(s) < 12
}
