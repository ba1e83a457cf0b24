package policy

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/ryanuber/go-glob"

	"github.com/fluxcd/ecsroll/pkg/image"
)

const (
	globPrefix   = "glob:"
	semverPrefix = "semver:"
	regexpPrefix = "regexp:"
)

// PatternAll matches every tag.
var PatternAll = NewPattern(globPrefix + "*")

// Pattern decides which image tags a service accepts for deployment.
type Pattern interface {
	Matches(tag string) bool
	// String is the pattern with its prefix, as it is configured.
	String() string
	Valid() bool
}

// NewPattern reads a pattern written as `glob:<glob>` (the default
// when there is no prefix), `semver:<constraint>` or
// `regexp:<expression>` (`regex:` also works). A pattern that does
// not parse is not Valid and matches no tag.
func NewPattern(s string) Pattern {
	if rest, ok := cut(s, semverPrefix); ok {
		c, err := semver.NewConstraint(rest)
		if err != nil {
			c = nil
		}
		return semverPattern{rest, c}
	}
	for _, prefix := range []string{regexpPrefix, "regex:"} {
		if rest, ok := cut(s, prefix); ok {
			r, err := regexp.Compile(rest)
			if err != nil {
				r = nil
			}
			return regexpPattern{rest, r}
		}
	}
	rest, _ := cut(s, globPrefix)
	return globPattern(rest)
}

func cut(s, prefix string) (string, bool) {
	if strings.HasPrefix(s, prefix) {
		return s[len(prefix):], true
	}
	return s, false
}

// Accepts is Matches, except that the mutable "latest" tag is
// never accepted whatever the pattern says.
func Accepts(p Pattern, tag string) bool {
	if tag == "" || tag == image.LatestTag {
		return false
	}
	return p.Matches(tag)
}

type globPattern string

func (g globPattern) Matches(tag string) bool { return glob.Glob(string(g), tag) }
func (g globPattern) String() string          { return globPrefix + string(g) }
func (g globPattern) Valid() bool             { return true }

type semverPattern struct {
	constraint  string
	constraints *semver.Constraints
}

func (s semverPattern) Matches(tag string) bool {
	if s.constraints == nil {
		return false
	}
	v, err := semver.NewVersion(tag)
	return err == nil && s.constraints.Check(v)
}

func (s semverPattern) String() string { return semverPrefix + s.constraint }
func (s semverPattern) Valid() bool    { return s.constraints != nil }

type regexpPattern struct {
	expr string
	re   *regexp.Regexp
}

func (r regexpPattern) Matches(tag string) bool { return r.re != nil && r.re.MatchString(tag) }
func (r regexpPattern) String() string          { return regexpPrefix + r.expr }
func (r regexpPattern) Valid() bool             { return r.re != nil }

// Spec is a Pattern as it appears in configuration. The zero value
// means PatternAll.
type Spec string

func (s Spec) Pattern() Pattern {
	if s == "" {
		return PatternAll
	}
	return NewPattern(string(s))
}

func (s Spec) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Pattern().String())
}
