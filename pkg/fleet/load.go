package fleet

import (
	"io/ioutil"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

// schema is checked before decoding, so that type and shape errors
// are reported against the file rather than against Go types.
const schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["configVersion", "cluster", "registry", "services"],
  "additionalProperties": false,
  "definitions": {
    "duration": {"type": "string", "pattern": "^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"},
    "policy": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "pollInterval": {"$ref": "#/definitions/duration"},
        "maxPolls": {"type": "integer", "minimum": 1},
        "healthInterval": {"$ref": "#/definitions/duration"},
        "healthAttempts": {"type": "integer", "minimum": 1},
        "healthTimeout": {"$ref": "#/definitions/duration"},
        "healthFailureAction": {"enum": ["rollback", "warn"]},
        "expectedStatus": {"type": "integer", "minimum": 100, "maximum": 599},
        "autoRollback": {"type": "boolean"}
      }
    }
  },
  "properties": {
    "configVersion": {"type": "string"},
    "cluster": {"type": "string", "minLength": 1},
    "region": {"type": "string"},
    "endpoint": {"type": "string"},
    "registry": {
      "type": "object",
      "required": ["host"],
      "additionalProperties": false,
      "properties": {
        "host": {"type": "string", "minLength": 1},
        "prefix": {"type": "string"},
        "registryIds": {"type": "array", "items": {"type": "string"}}
      }
    },
    "rollout": {"$ref": "#/definitions/policy"},
    "run": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "pause": {"$ref": "#/definitions/duration"},
        "haltOnFailure": {"type": "boolean"},
        "concurrency": {"type": "integer", "minimum": 1},
        "apiRps": {"type": "number", "exclusiveMinimum": 0},
        "apiBurst": {"type": "integer", "minimum": 1}
      }
    },
    "metrics": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "namespace": {"type": "string"},
        "cloudwatch": {"type": "boolean"}
      }
    },
    "events": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "snsTopicArn": {"type": "string"}
      }
    },
    "services": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "context", "healthPath"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "pattern": "^[a-zA-Z0-9][a-zA-Z0-9_-]*$"},
          "context": {"type": "string"},
          "dockerfile": {"type": "string"},
          "port": {"type": "integer", "minimum": 1, "maximum": 65535},
          "healthPath": {"type": "string"},
          "order": {"type": "integer"},
          "repository": {"type": "string"},
          "container": {"type": "string"},
          "endpoint": {"type": "string"},
          "tags": {"type": "string"},
          "rollout": {"$ref": "#/definitions/policy"}
        }
      }
    }
  }
}`

// Parse reads a fleet description from YAML (or JSON) bytes, checks
// it against the schema, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	asJSON, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, errors.Wrap(err, "parsing fleet configuration")
	}

	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewBytesLoader(asJSON))
	if err != nil {
		return nil, errors.Wrap(err, "checking fleet configuration against schema")
	}
	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return nil, errors.New("fleet configuration does not match schema:\n  " + strings.Join(problems, "\n  "))
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(err, "decoding fleet configuration")
	}
	if err := config.ApplyDefaults(); err != nil {
		return nil, errors.Wrap(err, "applying defaults")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Load reads the fleet description at path.
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return Parse(data)
}
