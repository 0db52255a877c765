package relay

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/halvard/chainsentinel/internal/bundle"
	"github.com/halvard/chainsentinel/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTransport struct {
	submitCalls int32
	statusCalls int32
	submitID    domain.BundleID
	submitErr   error
	status      domain.BundleStatus
}

func (s *stubTransport) Simulate(b domain.Bundle, stateBlock uint64) (bundle.SimResult, error) {
	return bundle.SimResult{Success: true}, nil
}

func (s *stubTransport) Submit(b domain.Bundle, targetBlock uint64) (domain.BundleID, error) {
	atomic.AddInt32(&s.submitCalls, 1)
	if s.submitErr != nil {
		return "", s.submitErr
	}
	return s.submitID, nil
}

func (s *stubTransport) Status(id domain.BundleID) (domain.BundleStatus, error) {
	atomic.AddInt32(&s.statusCalls, 1)
	return s.status, nil
}

func sampleBundle() domain.Bundle {
	return domain.Bundle{Legs: []domain.BundleLeg{{Raw: []byte{1, 2, 3}}}}
}

func TestSubmit_AtMostOncePerBundleAndBlock(t *testing.T) {
	transport := &stubTransport{submitID: "bundle-1"}
	c := New(transport)

	b := sampleBundle()
	id1, err := c.Submit(b, 100)
	require.NoError(t, err)
	id2, err := c.Submit(b, 100)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, int32(1), transport.submitCalls)
}

func TestSubmit_DifferentTargetBlockResubmits(t *testing.T) {
	transport := &stubTransport{submitID: "bundle-1"}
	c := New(transport)

	b := sampleBundle()
	_, err := c.Submit(b, 100)
	require.NoError(t, err)
	_, err = c.Submit(b, 101)
	require.NoError(t, err)

	assert.Equal(t, int32(2), transport.submitCalls)
}

func TestSubmit_TransportErrorSurfacesTypedError(t *testing.T) {
	transport := &stubTransport{submitErr: errors.New("relay unreachable")}
	c := New(transport)

	_, err := c.Submit(sampleBundle(), 100)
	require.Error(t, err)
	var submitErr *SubmitError
	require.ErrorAs(t, err, &submitErr)
	assert.Equal(t, ErrKindTransport, submitErr.Kind)
}

func TestStatus_CachesWithinWindow(t *testing.T) {
	transport := &stubTransport{status: domain.BundlePending}
	c := New(transport)

	id := domain.BundleID("bundle-1")
	_, err := c.Status(id)
	require.NoError(t, err)
	_, err = c.Status(id)
	require.NoError(t, err)

	assert.Equal(t, int32(1), transport.statusCalls, "second call within 500ms must hit the cache")
}
