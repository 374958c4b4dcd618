package room

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/TygroTheProgrammer/Hububble/internal/domain"
	"github.com/TygroTheProgrammer/Hububble/internal/store"
)

// Room codes are 5 characters drawn uniformly from a 34-symbol
// alphabet: uppercase letters and digits, minus the visually ambiguous
// I and O.
const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ0123456789"
	codeLength   = 5
)

// CodeGenerator produces collision-checked room keys
type CodeGenerator struct {
	store store.Store
}

func NewCodeGenerator(st store.Store) *CodeGenerator {
	return &CodeGenerator{store: st}
}

// GenerateCandidate returns a random 5-character code. The candidate is
// not checked for uniqueness; use AllocateUniqueCode for that.
func (g *CodeGenerator) GenerateCandidate() (string, error) {
	code := make([]byte, codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code), nil
}

// AllocateUniqueCode generates candidates until one is unused, then
// claims it by creating an empty room record under that key.
//
// The retry loop is unbounded on purpose: with 34^5 (~45M) possible
// codes a collision is negligible while live-room counts stay small,
// and a cap would turn an operational anomaly into a silent failure.
func (g *CodeGenerator) AllocateUniqueCode() (string, error) {
	for {
		key, err := g.GenerateCandidate()
		if err != nil {
			return "", err
		}
		taken, err := g.store.Exists(key)
		if err != nil {
			return "", fmt.Errorf("check room code %s: %w", key, err)
		}
		if taken {
			continue
		}

		record, err := json.Marshal(domain.NewRoomRecord(key))
		if err != nil {
			return "", fmt.Errorf("encode room record: %w", err)
		}
		if err := g.store.Set(key, record); err != nil {
			return "", fmt.Errorf("create room %s: %w", key, err)
		}
		return key, nil
	}
}
