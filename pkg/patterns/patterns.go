// Package patterns holds the regex-driven entity extractors and error
// classifiers shared by pkg/audit and pkg/enrichment. Keeping the
// tables as loadable YAML data, rather than inline code, lets the
// vocabulary evolve without a rebuild, per spec.md §9 "Pattern
// dictionaries."
//
// cuemby-warren declares `gopkg.in/yaml.v3` as a direct go.mod
// dependency without a visible use in the retrieved source; this
// package gives it an actual home.
package patterns

import (
	"os"
	"regexp"

	coreerrors "github.com/cuemby/workloadcore/pkg/errors"
	"github.com/cuemby/workloadcore/pkg/types"
	"gopkg.in/yaml.v3"
)

// EntityType is the closed set of things the extractor recognizes,
// matching types.NodeType's job/workstation/error_code/command/
// resource/job_stream subset.
type EntityType string

const (
	EntityJob         EntityType = "job"
	EntityWorkstation EntityType = "workstation"
	EntityErrorCode   EntityType = "error_code"
	EntityCommand     EntityType = "command"
	EntityResource    EntityType = "resource"
	EntityJobStream   EntityType = "job_stream"
)

// ErrorType is the closed set of ways an auditor's finding can be
// classified by AuditToKGPipeline.
type ErrorType string

const (
	ErrorTechnicalInaccuracy ErrorType = "technical_inaccuracy"
	ErrorIrrelevantResponse  ErrorType = "irrelevant_response"
	ErrorContradictoryInfo   ErrorType = "contradictory_info"
	ErrorWrongRecommendation ErrorType = "wrong_recommendation"
	ErrorHallucination       ErrorType = "hallucination"
	ErrorDeprecatedInfo      ErrorType = "deprecated_info"
	ErrorMisleadingContext   ErrorType = "misleading_context"
	ErrorCommon              ErrorType = "common_error"
)

// EntityMatch is one recognized occurrence of an entity in text.
type EntityMatch struct {
	Type  EntityType
	Value string
}

// rawDictionary is the YAML wire shape: entity type / error type name
// to a list of regex source strings (any one matching classifies as
// that type).
type rawDictionary struct {
	Entities map[string][]string `yaml:"entities"`
	Errors   map[string][]string `yaml:"errors"`
}

// Dictionary is a compiled set of entity and error-classification
// regex tables.
type Dictionary struct {
	entities map[EntityType][]*regexp.Regexp
	errors   map[ErrorType][]*regexp.Regexp
}

// errorTypeOrder fixes classification precedence across all
// dictionaries, independent of Go's randomized map iteration order:
// the first error type below with a matching regex wins. Error types
// loaded from a YAML override that fall outside this fixed set are
// checked afterwards, in unspecified order.
var errorTypeOrder = []ErrorType{
	ErrorWrongRecommendation,
	ErrorTechnicalInaccuracy,
	ErrorContradictoryInfo,
	ErrorIrrelevantResponse,
	ErrorHallucination,
	ErrorDeprecatedInfo,
	ErrorMisleadingContext,
	ErrorCommon,
}

// Load reads a YAML pattern dictionary from path and compiles it.
func Load(path string) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.ErrInputValidation, "reading pattern dictionary file", err)
	}
	var raw rawDictionary
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, coreerrors.Wrap(coreerrors.ErrInputValidation, "parsing pattern dictionary yaml", err)
	}
	return compile(raw)
}

func compile(raw rawDictionary) (*Dictionary, error) {
	d := &Dictionary{
		entities: make(map[EntityType][]*regexp.Regexp),
		errors:   make(map[ErrorType][]*regexp.Regexp),
	}
	for name, patterns := range raw.Entities {
		compiled, err := compilePatterns(patterns)
		if err != nil {
			return nil, err
		}
		d.entities[EntityType(name)] = compiled
	}
	for name, patterns := range raw.Errors {
		compiled, err := compilePatterns(patterns)
		if err != nil {
			return nil, err
		}
		d.errors[ErrorType(name)] = compiled
	}
	return d, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, coreerrors.Wrap(coreerrors.ErrInputValidation, "invalid pattern regex: "+p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Default returns the built-in dictionary used when no YAML override
// is configured, covering the entity and error-type vocabularies named
// in spec.md §4.8/§4.9.
func Default() *Dictionary {
	d, err := compile(rawDictionary{
		Entities: map[string][]string{
			string(EntityJob):         {`\b[A-Z][A-Z0-9_]{2,31}\b`},
			string(EntityJobStream):  {`\b[A-Z][A-Z0-9_]{2,31}_SCHED\b`, `\b[A-Z][A-Z0-9_]{2,31}_STREAM\b`},
			string(EntityWorkstation): {`\bWS[A-Z0-9_]{2,16}\b`, `\b[A-Z]{2,10}WKS[0-9]{0,4}\b`},
			string(EntityErrorCode):  {`\b(?:AWS[A-Z]{2,4}\d{3,6}|EQQ\d{4}[A-Z]?)\b`},
			string(EntityCommand):    {`\b(?:conman|composer|optman|datacalc|planman|jnextplan)\b`},
			string(EntityResource):  {`\b(?:resource|RES)[A-Z0-9_]{2,16}\b`},
		},
		Errors: map[string][]string{
			string(ErrorWrongRecommendation): {`(?i)wrong (?:recommendation|suggestion|fix|solution)`, `(?i)incorrect (?:fix|solution|recommendation)`},
			string(ErrorTechnicalInaccuracy):  {`(?i)technical(?:ly)? (?:inaccura|incorrect|wrong)`, `(?i)factually (?:wrong|incorrect)`},
			string(ErrorContradictoryInfo):    {`(?i)contradict`, `(?i)conflicting (?:info|information|statement)`},
			string(ErrorIrrelevantResponse):   {`(?i)irrelevant`, `(?i)off[- ]topic`, `(?i)not relevant`},
			string(ErrorHallucination):        {`(?i)hallucinat`, `(?i)made up|fabricat`},
			string(ErrorDeprecatedInfo):       {`(?i)deprecat`, `(?i)outdated|no longer (?:valid|supported)`},
			string(ErrorMisleadingContext):    {`(?i)misleading`, `(?i)missing context`},
			string(ErrorCommon):               {`(?i)common (?:mistake|error)`},
		},
	})
	if err != nil {
		panic("patterns: built-in default dictionary failed to compile: " + err.Error())
	}
	return d
}

// ExtractEntities scans text against every entity regex in d and
// returns the deduplicated matches, grouped by entity type in
// entityTypeOrder and, within a type, in the order they appear in text.
func (d *Dictionary) ExtractEntities(text string) []EntityMatch {
	// claimed tracks which literal substrings have already been
	// assigned an entity type, in entityTypeOrder's precedence, so a
	// string like an error code isn't also reported as a generic job.
	claimed := make(map[string]bool)
	var out []EntityMatch
	for _, entityType := range entityTypeOrder {
		for _, re := range d.entities[entityType] {
			for _, m := range re.FindAllString(text, -1) {
				if claimed[m] {
					continue
				}
				claimed[m] = true
				out = append(out, EntityMatch{Type: entityType, Value: m})
			}
		}
	}
	return out
}

// entityTypeOrder fixes iteration order for deterministic extraction
// output across repeated calls.
var entityTypeOrder = []EntityType{
	EntityJobStream, EntityWorkstation, EntityErrorCode, EntityCommand, EntityResource, EntityJob,
}

// ClassifyError returns the first error type (in errorTypeOrder's
// precedence, then any YAML-defined extras) whose regex matches
// reasonText, or ErrorCommon if none match.
func (d *Dictionary) ClassifyError(reasonText string) ErrorType {
	checked := make(map[ErrorType]bool, len(errorTypeOrder))
	for _, et := range errorTypeOrder {
		checked[et] = true
		for _, re := range d.errors[et] {
			if re.MatchString(reasonText) {
				return et
			}
		}
	}
	for et, patterns := range d.errors {
		if checked[et] {
			continue
		}
		for _, re := range patterns {
			if re.MatchString(reasonText) {
				return et
			}
		}
	}
	return ErrorCommon
}

// NodeTypeFor maps an EntityType to its corresponding knowledge-graph
// NodeType.
func NodeTypeFor(e EntityType) types.NodeType {
	switch e {
	case EntityJob:
		return types.NodeJob
	case EntityJobStream:
		return types.NodeJobStream
	case EntityWorkstation:
		return types.NodeWorkstation
	case EntityErrorCode:
		return types.NodeErrorCode
	case EntityCommand:
		return types.NodeCommand
	case EntityResource:
		return types.NodeResource
	default:
		return types.NodeConcept
	}
}
