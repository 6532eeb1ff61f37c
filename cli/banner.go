package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	boxTopLeft     = "╒"
	boxBottomLeft  = "└"
	boxTopRight    = "╕"
	boxBottomRight = "┘"
	boxSide        = "│"
	boxTop         = "═"
	boxBottom      = "─"
	dividerLeft    = "┠"
	dividerMiddle  = "─"
	dividerRight   = "┨"
	ellipsis       = "…"
)

// Alignment of banner text.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignCenter
	AlignRight
)

const (
	// DefaultTerminalWidth is used when COLUMNS is unset or invalid.
	DefaultTerminalWidth = 80

	borderWidth = 2
)

// BannersSuppressed reports whether STAGECTL_NO_BANNER asks for plain output.
func BannersSuppressed() bool {
	suppress, _ := strconv.ParseBool(os.Getenv("STAGECTL_NO_BANNER"))

	return suppress
}

// TerminalWidth reads the width from COLUMNS.
func TerminalWidth() int {
	width, err := strconv.Atoi(os.Getenv("COLUMNS"))
	if err != nil || width <= borderWidth {
		return DefaultTerminalWidth
	}

	return width
}

// StageTitle turns a stage name such as "payment_pending" into "Payment Pending".
func StageTitle(stage string) string {
	words := strings.FieldsFunc(stage, func(r rune) bool {
		return r == '_' || r == '-' || unicode.IsSpace(r)
	})

	return cases.Title(language.English).String(strings.Join(words, " "))
}

// Divider returns a horizontal rule of the given width.
func Divider(width int) string {
	if width <= borderWidth {
		return ""
	}

	return fmt.Sprintf("%s%s%s\n", dividerLeft, strings.Repeat(dividerMiddle, width-borderWidth), dividerRight)
}

// Banner boxes each line of s. When banners are suppressed s is returned as is.
func Banner(s string, width int, alignment Alignment) string {
	if BannersSuppressed() {
		return s + "\n"
	}

	if width <= borderWidth || s == "" {
		return ""
	}

	inner := width - borderWidth
	parts := []string{boxTopLeft + strings.Repeat(boxTop, inner) + boxTopRight}

	for _, line := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		parts = append(parts, boxSide+pad(line, inner, alignment)+boxSide)
	}

	parts = append(parts, boxBottomLeft+strings.Repeat(boxBottom, inner)+boxBottomRight)

	return strings.Join(parts, "\n") + "\n"
}

func countGraphic(s string) int {
	count := 0

	for _, r := range s {
		if unicode.IsGraphic(r) {
			count++
		}
	}

	return count
}

// truncateGraphic keeps the first n graphic runes of s.
func truncateGraphic(s string, n int) string {
	var sb strings.Builder

	count := 0

	for _, r := range s {
		if unicode.IsGraphic(r) {
			if count == n {
				break
			}

			count++
		}

		sb.WriteRune(r)
	}

	return sb.String()
}

func pad(text string, width int, alignment Alignment) string {
	length := countGraphic(text)
	if length > width {
		text = truncateGraphic(text, width-1) + ellipsis
		length = width
	}

	diff := width - length

	switch alignment {
	case AlignCenter:
		left := diff / 2 //nolint:mnd

		return strings.Repeat(" ", left) + text + strings.Repeat(" ", diff-left)
	case AlignRight:
		return strings.Repeat(" ", diff) + text
	default:
		return text + strings.Repeat(" ", diff)
	}
}
