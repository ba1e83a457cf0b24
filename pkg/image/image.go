package image

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// LatestTag is the mutable pointer every publish also moves. It is
// never deployed, since a rollout to it could not be told apart from
// a rollout to whatever it pointed at before.
const LatestTag = "latest"

var (
	ErrInvalidImageID   = errors.New("invalid image ID")
	ErrBlankImageID     = errors.Wrap(ErrInvalidImageID, "blank image name")
	ErrMalformedImageID = errors.Wrap(ErrInvalidImageID, `expected image name as either <image>:<tag> or just <image>`)
	ErrMutableTag       = errors.New(`refusing to use the mutable tag "latest"; deploy by an explicit version tag`)
)

// Name represents an unversioned (i.e., untagged) image a.k.a.,
// an image repo, including the registry domain when there is one.
//
// Examples (stringified):
//   * crm-system
//   * 123456789012.dkr.ecr.us-east-1.amazonaws.com/ecs-modernization/crm-system
//   * localhost:5000/arbitrary/path/to/repo
type Name struct {
	Domain, Image string
}

func (i Name) String() string {
	if i.Image == "" {
		return "" // Doesn't make sense to return anything if it doesn't even have an image
	}
	var host string
	if i.Domain != "" {
		host = i.Domain + "/"
	}
	return fmt.Sprintf("%s%s", host, i.Image)
}

func (i Name) ToRef(tag string) Ref {
	return Ref{
		Name: i,
		Tag:  tag,
	}
}

// Ref represents a versioned (i.e., tagged) image.
//
// Examples (stringified):
//  * crm-system:20250801-101500
//  * 123456789012.dkr.ecr.us-east-1.amazonaws.com/ecs-modernization/crm-system:1.4.0
type Ref struct {
	Name
	Tag string
}

// String returns the Ref as a string (i.e., unparsed).
func (i Ref) String() string {
	var tag string
	if i.Tag != "" {
		tag = ":" + i.Tag
	}
	return fmt.Sprintf("%s%s", i.Name.String(), tag)
}

func (i Ref) WithNewTag(t string) Ref {
	i.Tag = t
	return i
}

// Deployable returns an error if the ref cannot be used as the
// target of a rollout: it must carry an explicit, immutable tag.
func (i Ref) Deployable() error {
	switch i.Tag {
	case "":
		return errors.Wrapf(ErrInvalidImageID, "%s has no tag", i.String())
	case LatestTag:
		return ErrMutableTag
	}
	return nil
}

// ParseRef parses a string representation of an image id into an
// Ref value. The grammar is shown here:
// https://github.com/docker/distribution/blob/master/reference/reference.go
// (but we do not care about all the productions.)
func ParseRef(s string) (Ref, error) {
	var id Ref
	if s == "" {
		return id, errors.Wrapf(ErrBlankImageID, "parsing %q", s)
	}
	if strings.HasPrefix(s, "/") || strings.HasSuffix(s, "/") {
		return id, errors.Wrapf(ErrMalformedImageID, "parsing %q", s)
	}

	elements := strings.Split(s, "/")
	switch len(elements) {
	case 1: // no slashes, e.g., "alpine:1.5"
		id.Image = s
	case 2: // may have a domain e.g., "localhost/foo", or not e.g., "weaveworks/scope"
		if domainRegexp.MatchString(elements[0]) {
			id.Domain = elements[0]
			id.Image = elements[1]
		} else {
			id.Image = s
		}
	default: // the first element is assumed to be a domain
		id.Domain = elements[0]
		id.Image = strings.Join(elements[1:], "/")
	}

	// Figure out if there's a tag
	imageParts := strings.Split(id.Image, ":")
	switch len(imageParts) {
	case 1:
		break
	case 2:
		if imageParts[0] == "" || imageParts[1] == "" {
			return id, errors.Wrapf(ErrMalformedImageID, "parsing %q", s)
		}
		id.Image = imageParts[0]
		id.Tag = imageParts[1]
	default:
		return id, ErrMalformedImageID
	}

	return id, nil
}

var (
	domainComponent = `([a-zA-Z0-9]|[a-zA-Z0-9][a-zA-Z0-9-]*[a-zA-Z0-9])`
	domain          = fmt.Sprintf(`^(localhost|(%s([.]%s)+))(:[0-9]+)?$`, domainComponent, domainComponent)
	domainRegexp    = regexp.MustCompile(domain)
)

// Ref is serialized/deserialized as a string
func (i Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.String())
}

// Ref is serialized/deserialized as a string
func (i *Ref) UnmarshalJSON(data []byte) (err error) {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*i, err = ParseRef(str)
	return err
}
