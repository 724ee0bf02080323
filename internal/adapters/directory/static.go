// Package directory resolves which users receive admin notifications.
package directory

import (
	"context"
	"strings"

	"github.com/kevin07696/escrow-service/internal/domain/ports"
)

// Static is an admin directory fixed at startup
type Static struct {
	ids []string
}

var _ ports.AdminDirectory = (*Static)(nil)

// NewStatic builds a directory from ids, dropping blanks and duplicates
func NewStatic(ids []string) *Static {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return &Static{ids: out}
}

// AdminIDs returns a copy of the configured admin ids
func (s *Static) AdminIDs(context.Context) ([]string, error) {
	return append([]string(nil), s.ids...), nil
}
