package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGraphError_Format(t *testing.T) {
	err := NewSchemaViolation(NodeRef("case", "c1"), "unknown properties", "colour", "size")
	assert.Equal(t, "SCHEMA_VIOLATION: unknown properties (case(c1)) [colour, size]", err.Error())

	err = NewConflict(EdgeRef("member_of", "c1", "p1"), 2, 3)
	assert.Equal(t, "CONFLICT: expected version 2, found 3 (member_of(c1->p1))", err.Error())

	err = NewStorageFailure("commit", errors.New("disk full"))
	assert.Equal(t, "STORAGE_FAILURE: commit: disk full", err.Error())
}

func TestGraphError_IsHelpersThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("submit: %w", NewConflict(NodeRef("case", "c1"), 1, 2))

	assert.True(t, IsConflict(wrapped))
	assert.False(t, IsSchemaViolation(wrapped))
	assert.False(t, IsSessionClosed(wrapped))
	assert.Equal(t, ErrCodeConflict, CodeOf(wrapped))

	assert.True(t, IsSessionClosed(NewSessionClosed("tx-1", "COMMITTED")))
	assert.True(t, IsNotFound(NewNotFound(NodeRef("case", "x"))))
	assert.True(t, IsStorageFailure(NewStorageFailure("begin", errors.New("x"))))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
}

func TestGraphError_Unwrap(t *testing.T) {
	cause := errors.New("locked")
	err := NewStorageFailure("write node", cause)
	assert.ErrorIs(t, err, cause)
}

func TestConflict_NoLongerCurrent(t *testing.T) {
	err := NewConflict(NodeRef("case", "c1"), 4, -1)
	assert.Contains(t, err.Error(), "no longer current")
}

func TestEntityRef_KeyAndString(t *testing.T) {
	n := NodeRef("case", "c1")
	e := EdgeRef("member_of", "c1", "p1")

	assert.Equal(t, "node/case/c1", n.Key())
	assert.Equal(t, "edge/member_of/c1/p1", e.Key())
	assert.Equal(t, "case(c1)", n.String())
	assert.Equal(t, "member_of(c1->p1)", e.String())
	assert.NotEqual(t, n.Key(), NodeRef("sample", "c1").Key())
}

func TestActor_HasRole(t *testing.T) {
	submitter := Actor{
		ID:       1,
		Username: "submitter",
		ProjectAccess: map[string][]string{
			"phs000218": AllRoles,
			"phs000235": {RoleRead},
		},
	}

	assert.True(t, submitter.HasRole("phs000218", RoleCreate))
	assert.False(t, submitter.HasRole("phs000235", RoleCreate))
	assert.False(t, submitter.HasRole("phs999999", RoleRead))
	assert.Equal(t, []string{"phs000218", "phs000235"}, submitter.Projects())

	admin := Actor{ID: 2, Username: "admin", IsAdmin: true}
	assert.True(t, admin.HasRole("anything", RoleDelete))
	assert.False(t, admin.IsZero())
	assert.True(t, Actor{}.IsZero())
}
