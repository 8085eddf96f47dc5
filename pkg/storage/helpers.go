package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"golang.org/x/crypto/bcrypt"
)

// PasswordCost is the bcrypt work factor used by every backend.
// Tests lower it to bcrypt.MinCost.
var PasswordCost = bcrypt.DefaultCost

// BackendKey is the settings key naming the selected backend.
const BackendKey = "Backend"

var validate = validator.New()

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

var (
	dummyMu   sync.Mutex
	dummyCost int
	dummyHash []byte
)

// burnHash returns a throwaway hash at the current PasswordCost, so an unknown
// user costs the same bcrypt comparison as a wrong password.
func burnHash() []byte {
	dummyMu.Lock()
	defer dummyMu.Unlock()
	if dummyHash == nil || dummyCost != PasswordCost {
		hash, err := bcrypt.GenerateFromPassword([]byte("dittochat-invalid"), PasswordCost)
		if err != nil {
			// Out-of-range cost; fail the comparison at the default cost instead.
			hash, _ = bcrypt.GenerateFromPassword([]byte("dittochat-invalid"), bcrypt.DefaultCost)
		}
		dummyCost, dummyHash = PasswordCost, hash
	}
	return dummyHash
}

// BurnPasswordCheck performs a throwaway comparison for unknown users.
func BurnPasswordCheck(password string) {
	_ = bcrypt.CompareHashAndPassword(burnHash(), []byte(password))
}

// InvalidCredentials is the single error every backend returns from a failed
// ValidateUser.
func InvalidCredentials() *StoreError {
	return NewError(ErrInvalidCredentials, "invalid username or password")
}

// DecodeSettings decodes a backend settings map into out and validates it
// with its struct tags. Keys are matched case-insensitively and the
// BackendKey entry is ignored.
func DecodeSettings(settings map[string]any, out any) error {
	clean := make(map[string]any, len(settings))
	for k, v := range settings {
		if k == BackendKey {
			continue
		}
		clean[strings.ToLower(k)] = v
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("create settings decoder: %w", err)
	}
	if err := decoder.Decode(clean); err != nil {
		return NewError(ErrInvalidArgument, "invalid backend settings: %v", err)
	}
	if err := validate.Struct(out); err != nil {
		return NewError(ErrInvalidArgument, "invalid backend settings: %v", err)
	}
	return nil
}

// SortMessagesNewestFirst orders msgs by descending id.
func SortMessagesNewestFirst(msgs []Message) {
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].MsgID > msgs[j].MsgID })
}
