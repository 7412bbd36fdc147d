package parse

import (
	"fmt"
	"regexp"
	"strings"

	"bloodlink-backend/internal/model"
)

var (
	bloodTypeRe = regexp.MustCompile(`(?i)^(AB|A|B|O|0)\s*(?:TYPE\s*)?([+-]|POS(?:ITIVE)?|NEG(?:ATIVE)?)$`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// BloodType normalizes user input such as "o+", "AB neg" or "A positive" into a model.BloodType.
func BloodType(raw string) (model.BloodType, error) {
	s := strings.TrimSpace(raw)
	s = spaceRe.ReplaceAllString(s, " ")
	// Rh written as a word may be separated by spaces, "-" or "_".
	s = strings.NewReplacer("_", " ", "−", "-", "＋", "+").Replace(s)

	m := bloodTypeRe.FindStringSubmatch(s)
	if m == nil {
		// "A-pos" style: hyphen used as a separator before the Rh word.
		if idx := strings.LastIndex(s, "-"); idx > 0 && idx < len(s)-1 {
			m = bloodTypeRe.FindStringSubmatch(s[:idx] + " " + s[idx+1:])
		}
	}
	if m == nil {
		return "", fmt.Errorf("unable to parse blood type: %q", raw)
	}

	group := strings.ToUpper(m[1])
	if group == "0" {
		group = "O"
	}

	rh := strings.ToUpper(m[2])
	switch {
	case rh == "+" || strings.HasPrefix(rh, "POS"):
		rh = "+"
	default:
		rh = "-"
	}

	bt := model.BloodType(group + rh)
	if !bt.Valid() {
		return "", fmt.Errorf("unable to parse blood type: %q", raw)
	}
	return bt, nil
}
