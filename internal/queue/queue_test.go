package queue

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportRunTask(t *testing.T) {
	id := uuid.New()
	task, err := NewExportRunTask(ExportRunPayload{JobID: id, SealedPassphrase: "sealed"}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, TypeExportRun, task.Type())

	p, err := ParseExportRunPayload(task)
	require.NoError(t, err)
	assert.Equal(t, id, p.JobID)
	assert.Equal(t, "sealed", p.SealedPassphrase)
}

func TestArtifactTasks(t *testing.T) {
	verify, err := NewArtifactVerifyTask(ArtifactVerifyPayload{JobID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, TypeArtifactVerify, verify.Type())

	expire, err := NewArtifactExpireTask(ArtifactExpirePayload{RetentionDays: 7})
	require.NoError(t, err)
	p, err := ParseArtifactExpirePayload(expire)
	require.NoError(t, err)
	assert.Equal(t, 7, p.RetentionDays)
}
