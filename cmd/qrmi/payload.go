package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/qiskit-community/qrmi/internal/config"
	"github.com/qiskit-community/qrmi/internal/observability"
	"github.com/qiskit-community/qrmi/internal/resource"
)

const defaultQASM2 = `OPENQASM 2.0;
include "qelib1.inc";
qreg q[1];
creg c[1];
h q[0];
measure q[0] -> c[0];
`

const defaultQASM3 = `OPENQASM 3.0;
qubit[1] q;
bit[1] c;
h q[0];
c[0] = measure q[0];
`

// readInput returns the program text from -input or -input-file.
func readInput(flags cliFlags) (string, error) {
	if flags.inputFile != "" {
		data, err := os.ReadFile(flags.inputFile) //nolint:gosec // operator-supplied path
		if err != nil {
			return "", fmt.Errorf("failed to read input file %s: %w", flags.inputFile, err)
		}
		return string(data), nil
	}
	return flags.input, nil
}

// defaultProgram is the one-qubit program run when no input is given.
func defaultProgram(format string) (string, bool) {
	switch strings.ToLower(format) {
	case "", resource.FormatQASM2:
		return defaultQASM2, true
	case resource.FormatQASM3:
		return defaultQASM3, true
	default:
		return "", false
	}
}

// buildPayload builds the payload variant the kind of rc accepts.
func buildPayload(rc *config.ResourceConfig, flags cliFlags, logger observability.Logger) (resource.Payload, error) {
	input, err := readInput(flags)
	if err != nil {
		return nil, err
	}
	kind, err := resource.ParseKind(rc.Kind)
	if err != nil {
		return nil, err
	}

	switch kind {
	case resource.KindIonQCloud, resource.KindIonQMock:
		format := strings.ToLower(flags.format)
		if input == "" {
			program, ok := defaultProgram(format)
			if !ok {
				return nil, fmt.Errorf("format %s has no built-in program, use -input-file", format)
			}
			logger.Debug("using built-in program", observability.String("format", format))
			input = program
		}
		return &resource.IonQCloudPayload{
			Input:  input,
			Target: rc.Backend,
			Shots:  flags.shots,
			Format: format,
		}, nil

	case resource.KindPasqalCloud, resource.KindPasqalLocal:
		if input == "" {
			return nil, fmt.Errorf("%s needs a serialized sequence, use -input or -input-file", kind)
		}
		return &resource.PasqalCloudPayload{Sequence: input, JobRuns: flags.shots}, nil

	case resource.KindDirectAccess:
		if input == "" {
			return nil, fmt.Errorf("%s needs primitive input, use -input or -input-file", kind)
		}
		return &resource.QiskitPrimitivePayload{Input: input, ProgramID: flags.program}, nil
	}
	return nil, fmt.Errorf("no payload for kind %s", kind)
}
