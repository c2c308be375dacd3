package tilesource

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/tileloader/internal/tile"
)

const DefaultPathTemplate = "/{z}/{x}/{y}"

var ErrInvalidTemplate = errors.New("invalid tile path template")

// Template formats the request path of a tile from a pattern holding the
// {z}, {x} and {y} placeholders.
type Template struct {
	pattern string
}

func ParseTemplate(pattern string) (Template, error) {
	if pattern == "" {
		pattern = DefaultPathTemplate
	}
	for _, p := range []string{"{z}", "{x}", "{y}"} {
		if !strings.Contains(pattern, p) {
			return Template{}, fmt.Errorf("%w: placeholder %s not found in %q", ErrInvalidTemplate, p, pattern)
		}
	}
	if !strings.HasPrefix(pattern, "/") {
		pattern = "/" + pattern
	}
	return Template{pattern: pattern}, nil
}

func (t Template) Format(id tile.ID) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(id.Z),
		"{x}", strconv.Itoa(id.X),
		"{y}", strconv.Itoa(id.Y),
	).Replace(t.pattern)
}

func (t Template) String() string { return t.pattern }
