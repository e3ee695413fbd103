package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/width"
)

// OutputTimeLayout is the canonical timestamp format of normalized fields.
const OutputTimeLayout = "2006-01-02 15:04:05"

type transformFunc func(string) string

type transformSpec struct {
	name string
	arg  string
	fn   transformFunc
}

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

var amountPattern = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// compileTransforms parses a pipeline such as "trim|date:2006年1月2日".
func compileTransforms(pipeline string) ([]transformSpec, error) {
	pipeline = strings.TrimSpace(pipeline)
	if pipeline == "" {
		return nil, nil
	}

	var specs []transformSpec
	for _, part := range strings.Split(pipeline, "|") {
		name, arg, _ := strings.Cut(strings.TrimSpace(part), ":")
		name = strings.ToLower(strings.TrimSpace(name))

		spec := transformSpec{name: name, arg: arg}
		switch name {
		case "trim":
			spec.fn = strings.TrimSpace
		case "collapse":
			spec.fn = func(s string) string { return strings.Join(strings.Fields(s), " ") }
		case "lower":
			spec.fn = strings.ToLower
		case "upper":
			spec.fn = strings.ToUpper
		case "currency":
			spec.fn = normalizeCurrency
		case "number":
			spec.fn = firstNumber
		case "date":
			if strings.TrimSpace(arg) == "" {
				return nil, errors.New("transform date needs a layout, e.g. date:2006/01/02")
			}
			layout := strings.TrimSpace(arg)
			spec.arg = layout
			spec.fn = func(s string) string { return reformatDate(s, layout) }
		case "":
			return nil, fmt.Errorf("empty transform in %q", pipeline)
		default:
			return nil, fmt.Errorf("unknown transform %q", name)
		}
		if name != "date" && arg != "" {
			return nil, fmt.Errorf("transform %q takes no argument", name)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func applyTransforms(specs []transformSpec, v string) string {
	for _, t := range specs {
		v = t.fn(v)
	}
	return v
}

func pipelineString(specs []transformSpec) string {
	parts := make([]string, len(specs))
	for i, t := range specs {
		parts[i] = t.name
		if t.arg != "" {
			parts[i] += ":" + t.arg
		}
	}
	return strings.Join(parts, "|")
}

// normalizeCurrency keeps the first amount in s without its currency symbol
// or grouping separators: "¥1,200" -> "1200", "$ 12.50" -> "12.50",
// "￥1,200〜￥3,400" -> "1200". Full-width digits are folded to ASCII. A minus
// sign before the amount, symbols and spaces aside, is kept.
func normalizeCurrency(s string) string {
	s = foldWidth(s)
	loc := amountPattern.FindStringIndex(s)
	if loc == nil {
		return ""
	}
	out := strings.ReplaceAll(s[loc[0]:loc[1]], ",", "")
	prefix := strings.TrimRight(s[:loc[0]], " ¥$€£")
	if strings.HasSuffix(prefix, "-") || strings.HasSuffix(prefix, "−") {
		out = "-" + out
	}
	return out
}

func firstNumber(s string) string {
	s = strings.ReplaceAll(foldWidth(s), ",", "")
	return numberPattern.FindString(s)
}

func reformatDate(s, layout string) string {
	t, err := time.Parse(layout, strings.TrimSpace(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return t.Format(OutputTimeLayout)
}

// foldWidth maps full-width ASCII variants (common on Japanese EC sites) to
// their half-width forms and every space separator to a plain space.
func foldWidth(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Zs, r) {
			return ' '
		}
		return r
	}, width.Fold.String(s))
}
