package secrets

import (
	"context"
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/qiskit-community/qrmi/internal/util"
)

// DefaultKubernetesNamespace is used when no namespace is configured.
const DefaultKubernetesNamespace = "default"

// KubernetesSource reads a single Secret whose data keys are setting keys,
// either resource-scoped (FRESNEL_QRMI_PASQAL_CLOUD_PROJECT_ID) or bare.
type KubernetesSource struct {
	client    client.Client
	namespace string
	name      string
}

// NewKubernetesSource creates a source for the Secret namespace/name.
func NewKubernetesSource(c client.Client, namespace, name string) (*KubernetesSource, error) {
	if c == nil {
		return nil, util.NewConfigError("secrets.kubernetes", "kubernetes client is required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, util.NewConfigError("secrets.kubernetes.secret", "secret name is required")
	}
	if namespace == "" {
		namespace = DefaultKubernetesNamespace
	}
	return &KubernetesSource{client: c, namespace: namespace, name: name}, nil
}

// Name implements Source.
func (s *KubernetesSource) Name() string {
	return "kubernetes"
}

// Lookup implements Source. A missing Secret is an empty source.
func (s *KubernetesSource) Lookup(ctx context.Context, resource, key string) (string, bool, error) {
	secret := &corev1.Secret{}
	err := s.client.Get(ctx, types.NamespacedName{Namespace: s.namespace, Name: s.name}, secret)
	if apierrors.IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get secret %s/%s: %w", s.namespace, s.name, err)
	}

	for _, k := range candidates(resource, key) {
		if raw, ok := secret.Data[k]; ok {
			if v := strings.TrimSpace(string(raw)); v != "" {
				return v, true, nil
			}
		}
		if raw, ok := secret.StringData[k]; ok {
			if v := strings.TrimSpace(raw); v != "" {
				return v, true, nil
			}
		}
	}
	return "", false, nil
}

var _ Source = (*KubernetesSource)(nil)
