package automation

import (
	"strings"
	"time"

	"automation-engine/internal/model"
)

var secretKeyFragments = []string{"password", "secret", "token", "api_key", "apikey", "credential"}

func isSafeKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "_") {
		return false
	}
	lower := strings.ToLower(key)
	for _, frag := range secretKeyFragments {
		if strings.Contains(lower, frag) {
			return false
		}
	}
	return true
}

// BuildMergeVariables flattens the triggering record for template substitution.
// Recipient keys are written last so they always win over record fields.
func BuildMergeVariables(record map[string]any, recipient model.Contact, now time.Time) map[string]string {
	vars := make(map[string]string, len(record)+3)
	for k, v := range record {
		if !isSafeKey(k) {
			continue
		}
		if s, ok := model.ScalarString(v); ok {
			vars[k] = s
		}
	}

	vars["current_date"] = now.Format("2006-01-02")
	vars["name"] = recipient.Name
	vars["email"] = recipient.Email
	return vars
}
