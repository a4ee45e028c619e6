package authz

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// SupervisorCode is the shared override secret required to void a sale. Only
// its bcrypt hash is kept in memory.
type SupervisorCode struct {
	hash []byte
}

func NewSupervisorCode(code string) (*SupervisorCode, error) {
	return newSupervisorCode(code, bcrypt.DefaultCost)
}

func newSupervisorCode(code string, cost int) (*SupervisorCode, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errors.New("supervisor code must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), cost)
	if err != nil {
		return nil, err
	}
	return &SupervisorCode{hash: hash}, nil
}

func (s *SupervisorCode) VerifySupervisorCode(code string) bool {
	if s == nil || len(s.hash) == 0 {
		return false
	}
	input := strings.TrimSpace(code)
	if input == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(s.hash, []byte(input)) == nil
}
