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
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters used for new hashes.
const (
	argonMemory      = 64 * 1024
	argonIterations  = 3
	argonParallelism = 2
	argonSaltLength  = 16
	argonKeyLength   = 32
)

// PasswordHash is the stored form of a Password, an encoded argon2id hash.
type PasswordHash struct {
	value string
}

type argonParams struct {
	version     int
	memory      uint32
	iterations  uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

// HashPassword derives a new PasswordHash with a random salt.
func HashPassword(p Password) (PasswordHash, error) {
	if p.IsZero() {
		return PasswordHash{}, &ValidationError{Violations: []Violation{{
			Field: "password", Rule: RuleRequired, Message: "must not be blank",
		}}}
	}
	salt := make([]byte, argonSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return PasswordHash{}, fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(p.value), salt, argonIterations, argonMemory, argonParallelism, argonKeyLength)
	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonIterations, argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key))
	return PasswordHash{value: encoded}, nil
}

// ParsePasswordHash validates an encoded hash read back from storage.
func ParsePasswordHash(encoded string) (PasswordHash, error) {
	if _, err := parseArgon(encoded); err != nil {
		return PasswordHash{}, &ValidationError{Violations: []Violation{{
			Field: "password", Rule: RuleFormat, Message: err.Error(),
		}}}
	}
	return PasswordHash{value: encoded}, nil
}

// Verify reports whether p matches the hash.
func (h PasswordHash) Verify(p Password) bool {
	params, err := parseArgon(h.value)
	if err != nil {
		return false
	}
	key := argon2.IDKey([]byte(p.value), params.salt, params.iterations, params.memory, params.parallelism, uint32(len(params.key)))
	return subtle.ConstantTimeCompare(key, params.key) == 1
}

func (h PasswordHash) String() string { return h.value }

func (h PasswordHash) IsZero() bool { return h.value == "" }

func parseArgon(encoded string) (argonParams, error) {
	var params argonParams
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return params, fmt.Errorf("invalid hash format")
	}
	if _, err := fmt.Sscanf(parts[2], "v=%d", &params.version); err != nil {
		return params, fmt.Errorf("invalid hash version: %w", err)
	}
	if params.version != argon2.Version {
		return params, fmt.Errorf("unsupported argon2 version %d", params.version)
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.iterations, &params.parallelism); err != nil {
		return params, fmt.Errorf("invalid hash parameters: %w", err)
	}
	var err error
	if params.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return params, fmt.Errorf("invalid hash salt: %w", err)
	}
	if params.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return params, fmt.Errorf("invalid hash key: %w", err)
	}
	if len(params.key) == 0 {
		return params, fmt.Errorf("empty hash key")
	}
	return params, nil
}
