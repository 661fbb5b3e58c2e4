package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubDevice struct {
	provisioned bool
	err         error
}

func (d stubDevice) Provisioned(context.Context) (bool, error) {
	return d.provisioned, d.err
}

func TestWarnIfProvisioned(t *testing.T) {
	tests := []struct {
		name   string
		device stubDevice
		want   bool
	}{
		{name: "fresh device", device: stubDevice{}},
		{name: "already provisioned", device: stubDevice{provisioned: true}, want: true},
		{name: "unreachable", device: stubDevice{err: errors.New("connection refused")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got := warnIfProvisioned(context.Background(), tt.device, &out)
			assert.Equal(t, tt.want, got)
			if tt.want {
				assert.Contains(t, out.String(), "already provisioned")
			} else {
				assert.Empty(t, out.String())
			}
		})
	}
}
