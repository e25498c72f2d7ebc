package entities

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForceToLegacyAddress(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "legacy passthrough",
			input: "1BpEi6DfDAUFd7GtittLSdBeYJvcoaVggu",
			want:  "1BpEi6DfDAUFd7GtittLSdBeYJvcoaVggu",
		},
		{
			name:  "cashaddr with prefix",
			input: "bitcoincash:qpm2qsznhks23z7629mms6s4cwef74vcwvy22gdx6a",
			want:  "1BpEi6DfDAUFd7GtittLSdBeYJvcoaVggu",
		},
		{
			name:  "cashaddr without prefix",
			input: "qpm2qsznhks23z7629mms6s4cwef74vcwvy22gdx6a",
			want:  "1BpEi6DfDAUFd7GtittLSdBeYJvcoaVggu",
		},
		{
			name:  "p2sh cashaddr",
			input: "bitcoincash:ppm2qsznhks23z7629mms6s4cwef74vcwvn0h829pq",
			want:  "3CWFddi6m4ndiGyKqzYvsFYagqDLPVMTzC",
		},
		{
			name:  "uppercase cashaddr",
			input: "BITCOINCASH:QPM2QSZNHKS23Z7629MMS6S4CWEF74VCWVY22GDX6A",
			want:  "1BpEi6DfDAUFd7GtittLSdBeYJvcoaVggu",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ForceToLegacyAddress(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestForceToLegacyAddressErrors(t *testing.T) {
	inputs := []string{
		"",
		"bitcoincash:qpm2qsznhks23z7629mms6s4cwef74vcwvy22gdx6b", // bad checksum
		"zzzzz",
	}
	for _, input := range inputs {
		_, err := ForceToLegacyAddress(input)
		var inputErr *InputError
		assert.True(t, errors.As(err, &inputErr), "input %q", input)
	}
}
