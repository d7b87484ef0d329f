// Package translate turns short Chinese or English instructions into
// scene commands.
package translate

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/width"

	"github.com/rvald/twinctl/internal/command"
)

const (
	DefaultAngle       = 30.0
	DefaultRotateDir   = "left"
	magnifyScale       = 2.0
	shrinkScale        = 0.5
	neutralScale       = 1.5
	defaultFocusTarget = "center"
)

var (
	rotateKeywords = []string{"旋转", "转动", "rotate", "turn", "spin"}
	zoomKeywords   = []string{"缩放", "放大", "缩小", "zoom", "scale", "magnify", "shrink", "enlarge"}
	focusKeywords  = []string{"聚焦", "焦点", "集中", "关注", "focus", "look at", "定位", "locate"}
	resetKeywords  = []string{"重置", "复位", "reset", "restore", "default", "初始", "original"}

	magnifyWords = []string{"放大", "magnify", "larger", "enlarge", "zoom in", "bigger"}
	shrinkWords  = []string{"缩小", "shrink", "smaller", "zoom out"}

	directions = []struct {
		name     string
		keywords []string
	}{
		{"left", []string{"左", "left"}},
		{"right", []string{"右", "right"}},
		{"up", []string{"上", "up"}},
		{"down", []string{"下", "down"}},
	}

	angleRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:度|°|degrees?|deg\b)`)
	scaleRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:倍|times\b|x\b)`)
	areaRe  = regexp.MustCompile(`(?:区域|区块|区|部分|组件|area|part|component)\s*(\d+|十[一二三四五六七八九]?|[一二三四五六七八九十]|[a-z][a-z0-9_-]*)`)

	numerals = map[rune]int{'一': 1, '二': 2, '三': 3, '四': 4, '五': 5, '六': 6, '七': 7, '八': 8, '九': 9}

	englishNumerals = map[string]int{
		"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
		"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
		"thirteen": 13, "fourteen": 14, "fifteen": 15, "sixteen": 16,
		"seventeen": 17, "eighteen": 18, "nineteen": 19, "twenty": 20,
	}
)

// Translator applies keyword rules in a fixed priority: rotate, zoom,
// focus, reset.
type Translator struct {
	defaultAngle float64
	fold         cases.Caser
}

// Option configures a Translator.
type Option func(*Translator)

// WithDefaultAngle sets the rotation angle used when the text names none.
func WithDefaultAngle(deg float64) Option {
	return func(t *Translator) {
		if deg > 0 {
			t.defaultAngle = deg
		}
	}
}

func New(opts ...Option) *Translator {
	t := &Translator{defaultAngle: DefaultAngle, fold: cases.Fold()}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Translate maps text to an operation and its parameters. The action is
// empty when no rule matches.
func (t *Translator) Translate(text string) (command.Action, command.Params) {
	s := t.normalize(text)
	if s == "" {
		return "", command.Params{}
	}

	switch {
	case containsAny(s, rotateKeywords):
		return command.ActionRotate, t.rotate(s)
	case containsAny(s, zoomKeywords):
		return command.ActionZoom, zoom(s)
	case containsAny(s, focusKeywords):
		return command.ActionFocus, focus(s)
	case containsAny(s, resetKeywords):
		return command.ActionReset, command.Params{}
	}
	return "", command.Params{}
}

// normalize folds case and maps full-width forms to their narrow ASCII
// equivalents.
func (t *Translator) normalize(text string) string {
	s := width.Narrow.String(strings.TrimSpace(text))
	return t.fold.String(s)
}

func (t *Translator) rotate(s string) command.Params {
	dir := DefaultRotateDir
	for _, d := range directions {
		if containsAny(s, d.keywords) {
			dir = d.name
			break
		}
	}
	angle := t.defaultAngle
	if m := angleRe.FindStringSubmatch(s); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			angle = v
		}
	}
	return command.NewParams("direction", dir, "angle", angle)
}

func zoom(s string) command.Params {
	shrinking := containsAny(s, shrinkWords)
	if m := scaleRe.FindStringSubmatch(s); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > 0 {
			// "shrink 2x" means half size.
			if shrinking && v > 1 {
				v = 1 / v
			}
			return command.NewParams("scale", v)
		}
	}
	switch {
	case containsAny(s, magnifyWords):
		return command.NewParams("scale", magnifyScale)
	case shrinking:
		return command.NewParams("scale", shrinkScale)
	}
	return command.NewParams("scale", neutralScale)
}

func focus(s string) command.Params {
	target := defaultFocusTarget
	if m := areaRe.FindStringSubmatch(s); m != nil {
		target = "area" + areaID(m[1])
	}
	return command.NewParams("target", target)
}

// areaID converts spelled numerals (Chinese up to nineteen, English up to
// twenty) to digits.
func areaID(s string) string {
	if n, ok := englishNumerals[s]; ok {
		return strconv.Itoa(n)
	}
	r := []rune(s)
	switch {
	case len(r) == 1 && r[0] == '十':
		return "10"
	case len(r) == 1 && numerals[r[0]] > 0:
		return strconv.Itoa(numerals[r[0]])
	case len(r) == 2 && r[0] == '十' && numerals[r[1]] > 0:
		return strconv.Itoa(10 + numerals[r[1]])
	}
	return s
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
