package resource

import (
	"encoding/json"
	"fmt"

	"github.com/qiskit-community/qrmi/internal/util"
)

// Payload is the work submitted by TaskStart. Each variant belongs to the
// kinds that accept it; the set of variants is closed.
type Payload interface {
	// Accepts reports whether a resource of kind k runs this payload.
	Accepts(k Kind) bool
	payload()
}

// Circuit formats accepted by IonQCloudPayload.
const (
	FormatQASM2 = "qasm2"
	FormatQASM3 = "qasm3"
	FormatQIR   = "qir"
	// FormatIonQ is the IonQ native JSON circuit.
	FormatIonQ = "ionq.circuit.v1"
)

// IonQCloudPayload is a circuit for IonQ Cloud and the IonQ mock.
type IonQCloudPayload struct {
	// Input is the circuit text, or a JSON document for FormatIonQ.
	Input string `json:"input"`
	// Target is the backend name, e.g. simulator or qpu.aria-1. Empty
	// means the backend the resource was created for.
	Target string `json:"target,omitempty"`
	Shots  int    `json:"shots"`
	Format string `json:"format,omitempty"`
	// Name is the job name shown by the provider.
	Name string `json:"name,omitempty"`
}

// Accepts implements Payload.
func (p *IonQCloudPayload) Accepts(k Kind) bool {
	return k == KindIonQCloud || k == KindIonQMock
}

func (*IonQCloudPayload) payload() {}

// Validate checks the payload fields.
func (p *IonQCloudPayload) Validate() error {
	if p.Input == "" {
		return fmt.Errorf("%w: ionq payload has no input", util.ErrTypeMismatch)
	}
	if p.Shots < 0 {
		return fmt.Errorf("%w: shots must not be negative", util.ErrTypeMismatch)
	}
	switch p.Format {
	case "", FormatQASM2, FormatQASM3, FormatQIR:
	case FormatIonQ:
		if !json.Valid([]byte(p.Input)) {
			return fmt.Errorf("%w: %s input is not JSON", util.ErrTypeMismatch, FormatIonQ)
		}
	default:
		return fmt.Errorf("%w: unknown circuit format %q", util.ErrTypeMismatch, p.Format)
	}
	return nil
}

// PasqalCloudPayload is a serialized pulser sequence for Pasqal Cloud and
// Pasqal Local.
type PasqalCloudPayload struct {
	Sequence string `json:"sequence"`
	JobRuns  int    `json:"job_runs"`
}

// Accepts implements Payload.
func (p *PasqalCloudPayload) Accepts(k Kind) bool {
	return k == KindPasqalCloud || k == KindPasqalLocal
}

func (*PasqalCloudPayload) payload() {}

// Validate checks the payload fields.
func (p *PasqalCloudPayload) Validate() error {
	if p.Sequence == "" {
		return fmt.Errorf("%w: pasqal payload has no sequence", util.ErrTypeMismatch)
	}
	if p.JobRuns <= 0 {
		return fmt.Errorf("%w: job_runs must be positive", util.ErrTypeMismatch)
	}
	return nil
}

// QiskitPrimitivePayload is a Qiskit Runtime primitive invocation for IBM
// Direct Access.
type QiskitPrimitivePayload struct {
	// Input is the JSON encoded primitive parameters.
	Input string `json:"input"`
	// ProgramID is sampler or estimator.
	ProgramID string `json:"program_id"`
}

// Accepts implements Payload.
func (p *QiskitPrimitivePayload) Accepts(k Kind) bool {
	return k == KindDirectAccess
}

func (*QiskitPrimitivePayload) payload() {}

// Validate checks the payload fields.
func (p *QiskitPrimitivePayload) Validate() error {
	switch p.ProgramID {
	case "sampler", "estimator":
	default:
		return fmt.Errorf("%w: unknown program %q", util.ErrTypeMismatch, p.ProgramID)
	}
	if !json.Valid([]byte(p.Input)) {
		return fmt.Errorf("%w: primitive input is not JSON", util.ErrTypeMismatch)
	}
	return nil
}

// Expect returns payload as T when it is accepted by kind k and valid.
func Expect[T Payload](payload Payload, k Kind) (T, error) {
	var zero T
	if payload == nil {
		return zero, fmt.Errorf("%w: no payload for %s", util.ErrTypeMismatch, k)
	}
	typed, ok := payload.(T)
	if !ok || !payload.Accepts(k) {
		return zero, fmt.Errorf("%w: %T is not accepted by %s", util.ErrTypeMismatch, payload, k)
	}
	if v, ok := payload.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return zero, err
		}
	}
	return typed, nil
}
