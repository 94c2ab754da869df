package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"feedbackhub/internal/audit"
	"feedbackhub/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeExporter struct {
	called bool
	cutoff time.Time
	retErr error
}

func (f *fakeExporter) Export(_ context.Context, cutoff time.Time) (*audit.ArchiveResult, error) {
	f.called = true
	f.cutoff = cutoff
	if f.retErr != nil {
		return nil, f.retErr
	}
	return &audit.ArchiveResult{Records: 3, Files: []string{"audit_trails_2026-01.jsonl.gz"}}, nil
}

func TestHandleAuditExportSuccess(t *testing.T) {
	exp := &fakeExporter{}
	h := NewAuditExportHandler(exp, zaptest.NewLogger(t))
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	task, err := tasks.NewAuditExportTask(tasks.AuditExportPayload{Cutoff: cutoff, RequestedBy: "admin"})
	require.NoError(t, err)
	assert.Equal(t, tasks.TypeAuditExport, task.Type())

	require.NoError(t, h.HandleAuditExport(context.Background(), task))
	assert.True(t, exp.called)
	assert.True(t, exp.cutoff.Equal(cutoff))
}

func TestHandleAuditExportEmptyPayload(t *testing.T) {
	exp := &fakeExporter{}
	h := NewAuditExportHandler(exp, zaptest.NewLogger(t))

	require.NoError(t, h.HandleAuditExport(context.Background(), asynq.NewTask(tasks.TypeAuditExport, nil)))
	assert.True(t, exp.cutoff.IsZero(), "retention window is computed by the exporter")
}

func TestHandleAuditExportError(t *testing.T) {
	boom := errors.New("disk full")
	h := NewAuditExportHandler(&fakeExporter{retErr: boom}, zaptest.NewLogger(t))

	err := h.HandleAuditExport(context.Background(), asynq.NewTask(tasks.TypeAuditExport, nil))
	assert.ErrorIs(t, err, boom)
}

func TestHandleAuditExportInvalidPayload(t *testing.T) {
	exp := &fakeExporter{}
	h := NewAuditExportHandler(exp, zaptest.NewLogger(t))

	err := h.HandleAuditExport(context.Background(), asynq.NewTask(tasks.TypeAuditExport, []byte("not-json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.False(t, exp.called)
}
