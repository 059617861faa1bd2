package search

import (
	"fmt"

	"github.com/hyperjump/proshno/internal/models"
	"github.com/hyperjump/proshno/pkg/utils"
)

// ProcessQuery validates k against maxK and returns the normalized query text.
// Text that normalizes to nothing is rejected with models.ErrInvalidQuery.
func ProcessQuery(query *models.Query, maxK int) (string, error) {
	if err := query.Validate(maxK); err != nil {
		return "", err
	}
	normalized := utils.NormalizeText(query.Text)
	if normalized == "" {
		return "", fmt.Errorf("%w: query is empty after normalization", models.ErrInvalidQuery)
	}
	return normalized, nil
}
