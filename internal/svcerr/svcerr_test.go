package svcerr

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_FormatsMessage(t *testing.T) {
	se := New(http.StatusBadRequest, CodeValidation, "field %q is required", "ownerId")
	require.Equal(t, http.StatusBadRequest, se.StatusCode)
	require.Equal(t, CodeValidation, se.ErrorCode)
	require.Equal(t, `field "ownerId" is required`, se.Message)
}

func TestError_MarshalsEnvelope(t *testing.T) {
	se := New(http.StatusNotFound, CodeNotFound, "task %s not found", "t1")
	require.JSONEq(t, `{"error":{"code":"NotFound","message":"task t1 not found"}}`, se.Error())
}

func TestCheckVersion_IfNoneMatchRejectsExisting(t *testing.T) {
	version := 1
	se := CheckVersion(ResourceValues{Version: &version}, AccessConditions{IfNoneMatchVersion: true})
	require.NotNil(t, se)
	require.Equal(t, CodeVersionConflict, se.ErrorCode)
	require.Equal(t, http.StatusPreconditionFailed, se.StatusCode)
}

func TestCheckVersion_IfNoneMatchAllowsMissing(t *testing.T) {
	se := CheckVersion(ResourceValues{}, AccessConditions{IfNoneMatchVersion: true})
	require.Nil(t, se)
}

func TestCheckVersion_IfMatchRejectsMissingResource(t *testing.T) {
	want := 2
	se := CheckVersion(ResourceValues{}, AccessConditions{IfMatchVersion: &want})
	require.NotNil(t, se)
	require.Equal(t, CodeVersionConflict, se.ErrorCode)
}

func TestCheckVersion_IfMatchRejectsStaleVersion(t *testing.T) {
	current := 2
	want := 1
	se := CheckVersion(ResourceValues{Version: &current}, AccessConditions{IfMatchVersion: &want})
	require.NotNil(t, se)
	require.Equal(t, CodeVersionConflict, se.ErrorCode)
}

func TestCheckVersion_IfMatchAcceptsCurrentVersion(t *testing.T) {
	current := 2
	want := 2
	se := CheckVersion(ResourceValues{Version: &current}, AccessConditions{IfMatchVersion: &want})
	require.Nil(t, se)
}

func TestCheckVersion_NoConditionsAlwaysPasses(t *testing.T) {
	se := CheckVersion(ResourceValues{}, AccessConditions{})
	require.Nil(t, se)
}
