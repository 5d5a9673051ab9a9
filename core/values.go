// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Length limits enforced by the value constructors.
const (
	NameMinLength     = 3
	NameMaxLength     = 30
	EmailMaxLength    = 254
	PasswordMinLength = 8
	PasswordMaxLength = 72
	ContentMinLength  = 1
	ContentMaxLength  = 300
	TokenMaxLength    = 128
)

// formatValidator is only used through Var with fixed tags and is never reconfigured.
var formatValidator = validator.New()

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func runeLengthBetween(s string, min, max int) bool {
	n := utf8.RuneCountInString(s)
	return n >= min && n <= max
}

// ID identifies an entity. Zero means the entity has not been assigned an identifier yet.
type ID struct {
	value int64
}

// NewID validates v as an identifier.
func NewID(v int64) (ID, error) {
	var vs violations
	vs.check(v >= 0, "id", RuleRange, "must not be negative")
	if err := vs.err(); err != nil {
		return ID{}, err
	}
	return ID{value: v}, nil
}

// MustID is NewID for values known to be valid. It panics otherwise.
func MustID(v int64) ID {
	id, err := NewID(v)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ID) Int64() int64 { return id.value }

func (id ID) IsZero() bool { return id.value == 0 }

func (id ID) String() string { return strconv.FormatInt(id.value, 10) }

// Compare orders identifiers numerically.
func (id ID) Compare(other ID) int {
	switch {
	case id.value < other.value:
		return -1
	case id.value > other.value:
		return 1
	}
	return 0
}

// Name is a display name for users and channels.
type Name struct {
	value string
}

// NewName validates raw as a display name.
func NewName(raw string) (Name, error) {
	var vs violations
	vs.check(!isBlank(raw), "name", RuleRequired, "must not be blank")
	vs.check(runeLengthBetween(raw, NameMinLength, NameMaxLength), "name", RuleLength,
		"length must be between "+strconv.Itoa(NameMinLength)+" and "+strconv.Itoa(NameMaxLength))
	if err := vs.err(); err != nil {
		return Name{}, err
	}
	return Name{value: raw}, nil
}

func (n Name) String() string { return n.value }

func (n Name) IsZero() bool { return n.value == "" }

// Email is a user's address.
type Email struct {
	value string
}

// NewEmail validates raw as an email address.
func NewEmail(raw string) (Email, error) {
	var vs violations
	blank := isBlank(raw)
	vs.check(!blank, "email", RuleRequired, "must not be blank")
	vs.check(utf8.RuneCountInString(raw) <= EmailMaxLength, "email", RuleLength,
		"length must not exceed "+strconv.Itoa(EmailMaxLength))
	if !blank {
		vs.check(formatValidator.Var(raw, "email") == nil, "email", RuleFormat, "must be a valid email address")
	}
	if err := vs.err(); err != nil {
		return Email{}, err
	}
	return Email{value: raw}, nil
}

func (e Email) String() string { return e.value }

func (e Email) IsZero() bool { return e.value == "" }

// Password is a plain text password accepted from a user. It is never stored;
// see HashPassword.
type Password struct {
	value string
}

// NewPassword validates raw as a password.
func NewPassword(raw string) (Password, error) {
	var vs violations
	vs.check(!isBlank(raw), "password", RuleRequired, "must not be blank")
	vs.check(runeLengthBetween(raw, PasswordMinLength, PasswordMaxLength), "password", RuleLength,
		"length must be between "+strconv.Itoa(PasswordMinLength)+" and "+strconv.Itoa(PasswordMaxLength))
	vs.check(isPasswordComplex(raw), "password", RuleFormat,
		"must contain an upper case letter, a lower case letter, a digit and a symbol")
	if err := vs.err(); err != nil {
		return Password{}, err
	}
	return Password{value: raw}, nil
}

func (p Password) String() string { return "********" }

func (p Password) IsZero() bool { return p.value == "" }

func isPasswordComplex(s string) bool {
	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, char := range s {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}
	return hasUpper && hasLower && hasNumber && hasSpecial
}

// Content is the body of a message.
type Content struct {
	value string
}

// NewContent validates raw as message content.
func NewContent(raw string) (Content, error) {
	var vs violations
	vs.check(!isBlank(raw), "content", RuleRequired, "must not be blank")
	vs.check(runeLengthBetween(raw, ContentMinLength, ContentMaxLength), "content", RuleLength,
		"length must be between "+strconv.Itoa(ContentMinLength)+" and "+strconv.Itoa(ContentMaxLength))
	if err := vs.err(); err != nil {
		return Content{}, err
	}
	return Content{value: raw}, nil
}

func (c Content) String() string { return c.value }

func (c Content) IsZero() bool { return c.value == "" }

// Token is an opaque credential or invitation code.
type Token struct {
	value string
}

// NewToken validates raw as an opaque token.
func NewToken(raw string) (Token, error) {
	var vs violations
	vs.check(!isBlank(raw), "token", RuleRequired, "must not be blank")
	vs.check(utf8.RuneCountInString(raw) <= TokenMaxLength, "token", RuleLength,
		"length must not exceed "+strconv.Itoa(TokenMaxLength))
	vs.check(strings.IndexFunc(raw, unicode.IsSpace) < 0, "token", RuleFormat, "must not contain whitespace")
	if err := vs.err(); err != nil {
		return Token{}, err
	}
	return Token{value: raw}, nil
}

// GenerateToken returns a new random token.
func GenerateToken() Token {
	return Token{value: uuid.NewString()}
}

func (t Token) String() string { return t.value }

func (t Token) IsZero() bool { return t.value == "" }

// Compare orders tokens lexicographically by their bytes.
func (t Token) Compare(other Token) int {
	return strings.Compare(t.value, other.value)
}
