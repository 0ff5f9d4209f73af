package order

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"stockflow/internal/domain/packaging"
)

func pkgs(statuses ...packaging.Status) []*packaging.Package {
	out := make([]*packaging.Package, len(statuses))
	for i, s := range statuses {
		out[i] = &packaging.Package{Status: s}
	}
	return out
}

func TestDerive(t *testing.T) {
	tests := []struct {
		name    string
		current Status
		pkgs    []*packaging.Package
		want    Status
	}{
		{"no packages", StatusPending, nil, StatusPending},
		{"created", StatusPending, pkgs(packaging.StatusCreated), StatusAllocated},
		{"partially packed", StatusAllocated, pkgs(packaging.StatusReadyForDispatch, packaging.StatusCreated), StatusAllocated},
		{"all packed", StatusAllocated, pkgs(packaging.StatusReadyForDispatch, packaging.StatusReadyForDispatch), StatusPackaged},
		{"one dispatched", StatusPackaged, pkgs(packaging.StatusDispatched, packaging.StatusCreated), StatusDispatched},
		{"in transit", StatusPackaged, pkgs(packaging.StatusInTransit), StatusDispatched},
		{"partly delivered", StatusDispatched, pkgs(packaging.StatusDelivered, packaging.StatusInTransit), StatusDispatched},
		{"all delivered", StatusDispatched, pkgs(packaging.StatusDelivered, packaging.StatusDelivered), StatusDelivered},
		{"delivered and returned", StatusDispatched, pkgs(packaging.StatusDelivered, packaging.StatusReturned), StatusDelivered},
		{"all returned", StatusDelivered, pkgs(packaging.StatusReturned), StatusReturned},
		{"never backwards", StatusDelivered, pkgs(packaging.StatusCreated), StatusDelivered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Derive(tt.current, tt.pkgs))
		})
	}
}

func TestStatus_After(t *testing.T) {
	assert.True(t, StatusPackaged.After(StatusAllocated))
	assert.False(t, StatusAllocated.After(StatusAllocated))
	assert.False(t, StatusPending.After(StatusReturned))
	assert.Error(t, Status("shipped").Validate())
}
