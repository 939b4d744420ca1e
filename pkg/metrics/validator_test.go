package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidIdentifier(t *testing.T) {
	assert.True(t, isValidIdentifier("http.requests-total_v2/ms"))
	assert.False(t, isValidIdentifier(""))
	assert.False(t, isValidIdentifier("has space"))
	assert.False(t, isValidIdentifier("has:colon"))
	assert.False(t, isValidIdentifier("emoji🎉"))
}

func TestValidator_MetricNameRejectsInvalidChars(t *testing.T) {
	v := Validator{}
	_, err := v.metricName("bad name")
	var ce *ConstructionError
	assert := assert.New(t)
	assert.ErrorAs(err, &ce)
	assert.Equal("invalid-name", ce.Reason)
}

func TestValidator_AppliesTransformBeforeValidating(t *testing.T) {
	v := Validator{NameTransform: LowercaseTransform}
	n, err := v.metricName("HTTP.Requests")
	assert := assert.New(t)
	assert.NoError(err)
	assert.Equal("http.requests", n)
}

func TestValidator_TagNameAndValue(t *testing.T) {
	v := Validator{}
	assert := assert.New(t)

	n, err := v.tagName("host")
	assert.NoError(err)
	assert.Equal("host", n)

	_, err = v.tagName("")
	assert.Error(err)

	val, err := v.tagValue("web-01")
	assert.NoError(err)
	assert.Equal("web-01", val)

	_, err = v.tagValue("has space")
	assert.Error(err)
}

func TestLowercaseTransform(t *testing.T) {
	assert.Equal(t, "abc", LowercaseTransform("ABC"))
}
