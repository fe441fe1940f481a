package utils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

var successResult = Result[string]{value: "Success", err: nil}
var failedResult = Result[string]{
	err:       fmt.Errorf("Failed result"),
	Capture:   true,
	Retryable: true,
	details: &ErrorDetails{
		Code:    "failed_result",
		Message: "More details",
	},
}

type booleanTest struct {
	arg      Result[string]
	expected bool
}

type stringTest struct {
	arg      Result[string]
	expected string
}

var successTests = []booleanTest{
	booleanTest{successResult, true},
	booleanTest{failedResult, false},
}

func TestSuccess(t *testing.T) {
	for _, test := range successTests {
		assert.Equal(t, test.arg.Success(), test.expected)
	}
}

var failureTests = []booleanTest{
	booleanTest{successResult, false},
	booleanTest{failedResult, true},
}

func TestFailure(t *testing.T) {
	for _, test := range failureTests {
		assert.Equal(t, test.arg.Failure(), test.expected)
	}
}

var valueTests = []stringTest{
	{successResult, "Success"},
	{failedResult, ""},
}

func TestValue(t *testing.T) {
	for _, test := range valueTests {
		assert.Equal(t, test.arg.Value(), test.expected)
	}
}

var errorMsgTests = []stringTest{
	{successResult, ""},
	{failedResult, "Failed result"},
}

func TestErrorMsg(t *testing.T) {
	for _, test := range errorMsgTests {
		assert.Equal(t, test.arg.ErrorMsg(), test.expected)
	}
}

func TestFlags(t *testing.T) {
	result := FailedResult[string](fmt.Errorf("Failed result"))
	assert.True(t, result.IsRetryable())
	assert.True(t, result.IsCapturable())

	result = result.NonRetryable()
	assert.False(t, result.IsRetryable())
	assert.True(t, result.IsCapturable())

	result = result.NonCapturable()
	assert.False(t, result.IsCapturable())
}

func TestErrorDetails(t *testing.T) {
	assert.Equal(t, "failed_result", failedResult.ErrorCode())
	assert.Equal(t, "More details", failedResult.ErrorMessage())
	assert.Equal(t, "", successResult.ErrorCode())
	assert.Equal(t, "", successResult.ErrorMessage())
}

func TestFailedResultFrom(t *testing.T) {
	source := FailedResult[int](fmt.Errorf("Failed result")).
		AddErrorDetails("failed_result", "More details").
		NonRetryable().
		NonCapturable()

	converted := FailedResultFrom[string](source)

	assert.True(t, converted.Failure())
	assert.Equal(t, source.Error(), converted.Error())
	assert.Equal(t, "failed_result", converted.ErrorCode())
	assert.Equal(t, "More details", converted.ErrorMessage())
	assert.False(t, converted.IsRetryable())
	assert.False(t, converted.IsCapturable())
}
