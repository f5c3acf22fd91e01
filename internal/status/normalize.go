package status

// Normalizer maps a provider status literal to a TaskStatus. Every
// Normalizer is total: literals outside its table map to Queued.
type Normalizer func(providerStatus string) TaskStatus

// table builds a total Normalizer from folded literals.
func table(entries map[string]TaskStatus) Normalizer {
	folded := make(map[string]TaskStatus, len(entries))
	for literal, st := range entries {
		folded[fold(literal)] = st
	}
	return func(providerStatus string) TaskStatus {
		if st, ok := folded[fold(providerStatus)]; ok {
			return st
		}
		return Queued
	}
}

// IonQ maps IonQ job statuses.
var IonQ = table(map[string]TaskStatus{
	"completed": Completed,
	"done":      Completed,
	"succeeded": Completed,
	"failed":    Failed,
	"error":     Failed,
	"canceled":  Cancelled,
	"cancelled": Cancelled,
	"running":   Running,
	"started":   Running,
	"submitted": Queued,
	"ready":     Queued,
	"queued":    Queued,
})

// PasqalCloud maps Pasqal Cloud batch statuses. A batch being cancelled
// is still running until the provider reports CANCELED.
var PasqalCloud = table(map[string]TaskStatus{
	"PENDING":   Queued,
	"PAUSED":    Queued,
	"RUNNING":   Running,
	"CANCELING": Running,
	"DONE":      Completed,
	"CANCELED":  Cancelled,
	"TIMED_OUT": Failed,
	"ERROR":     Failed,
})

// PasqalLocal maps the statuses of the on-premises Pasqal service, which
// shares the cloud vocabulary.
var PasqalLocal = PasqalCloud

// DirectAccess maps IBM Direct Access job statuses.
var DirectAccess = table(map[string]TaskStatus{
	"Queued":    Queued,
	"Running":   Running,
	"Completed": Completed,
	"Failed":    Failed,
	"Cancelled": Cancelled,
	"Canceled":  Cancelled,
})

// Mock maps the mock backend's own literals, which are the canonical
// names.
var Mock = table(map[string]TaskStatus{
	string(Queued):    Queued,
	string(Running):   Running,
	string(Completed): Completed,
	string(Failed):    Failed,
	string(Cancelled): Cancelled,
})
