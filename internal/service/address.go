package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.io/infrasutra/mailcat/internal/outcome"
)

var emailPattern = regexp.MustCompile(`(?i)^[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}$`)

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func validEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// checkAddress validates a single required address.
func checkAddress(field, email string) (string, *outcome.Problem) {
	normalized := normalizeEmail(email)
	if normalized == "" {
		return "", &outcome.Problem{Field: field, Message: field + " is required"}
	}
	if !validEmail(normalized) {
		return "", &outcome.Problem{Field: field, Message: fmt.Sprintf("%s does not look like an email address.", email)}
	}
	return normalized, nil
}

// checkAddressList normalizes and de-duplicates emails, keeping order, and
// reports every malformed entry at once.
func checkAddressList(field string, emails []string) ([]string, *outcome.Problem) {
	seen := map[string]struct{}{}
	result := make([]string, 0, len(emails))
	var invalid []string
	for _, email := range emails {
		normalized := normalizeEmail(email)
		if !validEmail(normalized) {
			invalid = append(invalid, email)
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		result = append(result, normalized)
	}
	if len(invalid) > 0 {
		return nil, &outcome.Problem{
			Field:   field,
			Message: fmt.Sprintf("[%s] don't look like email address(es)", strings.Join(invalid, ", ")),
		}
	}
	return result, nil
}
