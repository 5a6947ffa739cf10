package patterns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDictionaryCompiles(t *testing.T) {
	d := Default()
	require.NotNil(t, d)
}

func TestLoadParsesYAMLFile(t *testing.T) {
	d, err := Load("../../configs/patterns.yaml")
	require.NoError(t, err)
	matches := d.ExtractEntities("job BATCH_A failed on WSNODE01 with error AWSBIS529")
	require.NotEmpty(t, matches)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/patterns.yaml")
	assert.Error(t, err)
}

// Scenario F from the audit-to-KG worked example: entities extracted
// from a query mentioning job BATCH_A, response mentioning command
// conman, and reason "wrong recommendation for error code AWSBIS529".
func TestExtractEntitiesScenarioF(t *testing.T) {
	d := Default()
	text := "why did BATCH_A fail? use conman to check. wrong recommendation for error code AWSBIS529"

	matches := d.ExtractEntities(text)

	var gotJob, gotCommand, gotError bool
	for _, m := range matches {
		switch {
		case m.Type == EntityJob && m.Value == "BATCH_A":
			gotJob = true
		case m.Type == EntityCommand && m.Value == "conman":
			gotCommand = true
		case m.Type == EntityErrorCode && m.Value == "AWSBIS529":
			gotError = true
		}
	}
	assert.True(t, gotJob, "expected BATCH_A to be extracted as a job")
	assert.True(t, gotCommand, "expected conman to be extracted as a command")
	assert.True(t, gotError, "expected AWSBIS529 to be extracted as an error code")
}

func TestExtractEntitiesDoesNotDoubleClassifyErrorCodeAsJob(t *testing.T) {
	d := Default()
	matches := d.ExtractEntities("error code AWSBIS529 occurred")

	count := 0
	for _, m := range matches {
		if m.Value == "AWSBIS529" {
			count++
		}
	}
	assert.Equal(t, 1, count, "AWSBIS529 should be classified once, as an error code, not also as a generic job")
}

func TestClassifyErrorWrongRecommendation(t *testing.T) {
	d := Default()
	assert.Equal(t, ErrorWrongRecommendation, d.ClassifyError("wrong recommendation for error code AWSBIS529"))
}

func TestClassifyErrorFallsBackToCommon(t *testing.T) {
	d := Default()
	assert.Equal(t, ErrorCommon, d.ClassifyError("this reason text matches nothing specific"))
}

func TestClassifyErrorTechnicalInaccuracy(t *testing.T) {
	d := Default()
	assert.Equal(t, ErrorTechnicalInaccuracy, d.ClassifyError("this response was technically incorrect"))
}
