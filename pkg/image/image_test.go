package image

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

const ecrHost = "123456789012.dkr.ecr.us-east-1.amazonaws.com"

func TestParseRef(t *testing.T) {
	for _, x := range []struct {
		test   string
		domain string
		image  string
		tag    string
	}{
		{"crm-system", "", "crm-system", ""},
		{"crm-system:1.0", "", "crm-system", "1.0"},
		{"library/alpine:3.5", "", "library/alpine", "3.5"},
		{"localhost:5000/repo:tag", "localhost:5000", "repo", "tag"},
		{ecrHost + "/ecs-modernization/crm-system:20250801-101500", ecrHost, "ecs-modernization/crm-system", "20250801-101500"},
	} {
		ref, err := ParseRef(x.test)
		if err != nil {
			t.Fatalf("parsing %q: %v", x.test, err)
		}
		assert.Equal(t, x.domain, ref.Domain, x.test)
		assert.Equal(t, x.image, ref.Image, x.test)
		assert.Equal(t, x.tag, ref.Tag, x.test)
		assert.Equal(t, x.test, ref.String())
	}
}

func TestParseRefErrors(t *testing.T) {
	for _, x := range []string{"", "/leading", "trailing/", "repo:", "a:b:c"} {
		if _, err := ParseRef(x); err == nil {
			t.Errorf("expected error parsing %q", x)
		}
	}
}

func TestDeployable(t *testing.T) {
	name := Name{Domain: ecrHost, Image: "ecs-modernization/hr-portal"}
	assert.NoError(t, name.ToRef("1.2.3").Deployable())
	assert.Equal(t, ErrMutableTag, name.ToRef(LatestTag).Deployable())
	assert.Error(t, name.ToRef("").Deployable())
}

func TestRefJSON(t *testing.T) {
	ref := Name{Domain: ecrHost, Image: "ecs-modernization/crm-system"}.ToRef("7")
	bytes, err := json.Marshal(ref)
	assert.NoError(t, err)
	var got Ref
	assert.NoError(t, json.Unmarshal(bytes, &got))
	assert.Equal(t, ref, got)
}
