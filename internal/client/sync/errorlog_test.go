package sync

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrijs2005/carekeeper/internal/client/models"
)

func TestErrorLog_AppendAndRead(t *testing.T) {
	l := NewErrorLog(10)

	l.Append("a", models.ActionCreate, 1, errors.New("timeout"))
	l.Append("b", models.ActionUpdate, 3, errors.New("boom"))

	entries := l.Entries()
	assert.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].EntityID)
	assert.Equal(t, models.ActionCreate, entries[0].Action)
	assert.Equal(t, 1, entries[0].Attempt)
	assert.Equal(t, "timeout", entries[0].Message)
	assert.Equal(t, "boom", entries[1].Message)
}

func TestErrorLog_CapacityEvictsOldest(t *testing.T) {
	l := NewErrorLog(3)

	for i := 0; i < 5; i++ {
		l.Append(fmt.Sprintf("e%d", i), models.ActionCreate, 1, errors.New("x"))
	}

	entries := l.Entries()
	assert.Len(t, entries, 3)
	assert.Equal(t, "e2", entries[0].EntityID)
	assert.Equal(t, "e4", entries[2].EntityID)
}

func TestErrorLog_NilErrorIgnored(t *testing.T) {
	l := NewErrorLog(3)
	l.Append("a", models.ActionDelete, 1, nil)
	assert.Zero(t, l.Len())
}

func TestErrorLog_NilReceiverSafe(t *testing.T) {
	var l *ErrorLog
	l.Append("a", models.ActionCreate, 1, errors.New("x"))
	assert.Nil(t, l.Entries())
	assert.Zero(t, l.Len())
}
