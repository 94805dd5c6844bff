package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandem/internal/ir"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	data := map[string]string{"result": "success"}
	err := formatter.Success(data)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("UNKNOWN_DOCUMENT", "no snapshot for notes", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	assert.NotNil(t, resp.Error)
	assert.Equal(t, "UNKNOWN_DOCUMENT", resp.Error.Code)
	assert.Equal(t, "no snapshot for notes", resp.Error.Message)
}

func TestOutputFormatter_JSONErrorWithDetails(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	details := map[string]string{"doc_id": "notes", "position": "9"}
	err := formatter.Error("INVALID_OPERATION", "position 9 outside [0, 3]", details)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	assert.NotNil(t, resp.Error)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Success("2 documents open")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "2 documents open")
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: false,
	}

	err := formatter.Error("UNKNOWN_DOCUMENT", "no snapshot for notes", nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [UNKNOWN_DOCUMENT]")
	assert.Contains(t, buf.String(), "no snapshot for notes")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	details := map[string]string{"doc_id": "notes"}
	err := formatter.Error("UNKNOWN_DOCUMENT", "no snapshot for notes", details)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [UNKNOWN_DOCUMENT]")
	assert.Contains(t, buf.String(), "Details:")
}

func TestCLIResponse_JSON(t *testing.T) {
	resp := CLIResponse{
		Status: "ok",
		Data:   map[string]int{"count": 42},
	}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded CLIResponse
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, "ok", decoded.Status)
}

func TestCLIError_JSON(t *testing.T) {
	cliErr := CLIError{
		Code:    "E100",
		Message: "validation failed",
		Details: []string{"missing field: name"},
	}

	data, err := json.Marshal(cliErr)
	require.NoError(t, err)

	var decoded CLIError
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, "E100", decoded.Code)
	assert.Equal(t, "validation failed", decoded.Message)
}

func TestOutputFormatter_FailUsesSyncErrorCode(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	err := WrapExitError(ExitCommandError, "no snapshot", ir.NewUnknownDocumentError("notes"))
	require.NoError(t, formatter.Fail(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "UNKNOWN_DOCUMENT", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "notes")
}

func TestOutputFormatter_FailPlainError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Fail(errors.New("disk full")))
	assert.Equal(t, "Error [ERROR]: disk full\n", buf.String())
}

func TestExitError_CodesAndUnwrap(t *testing.T) {
	cause := ir.NewUnknownDocumentError("notes")
	wrapped := fmt.Errorf("inspect: %w", WrapExitError(ExitCommandError, "no snapshot", cause))

	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitFailure, GetExitCode(NewExitError(ExitFailure, "replay diverged")))
	assert.True(t, ir.IsUnknownDocument(wrapped))
	assert.Equal(t, "no snapshot: "+cause.Error(), errors.Unwrap(wrapped).Error())
	assert.Equal(t, "replay diverged", NewExitError(ExitFailure, "replay diverged").Error())
}
