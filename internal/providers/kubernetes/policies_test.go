// ABOUTME: Tests for the Kubernetes ConfigMap policy source.
// ABOUTME: Uses the fake clientset to cover selection, tie-breaking and parse errors.

package kubernetes

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	ktesting "k8s.io/client-go/testing"
)

const standardPolicy = `
id: 4
business_criticality_weight: 40
network_reachability_weight: 20
cve_weight: 40
tolerance_threshold: 7.4
`

func policyConfigMap(name, namespace, data string, labelled bool) *corev1.ConfigMap {
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
		},
		Data: map[string]string{PolicyKey: data},
	}
	if labelled {
		cm.Labels = map[string]string{DefaultPolicyLabel: "true"}
	}
	return cm
}

func newTestSource(objects ...runtime.Object) *PolicySource {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewPolicySourceWithClient(fake.NewSimpleClientset(objects...), "security", logger)
}

func TestDefaultPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("labelled configmap", func(t *testing.T) {
		source := newTestSource(policyConfigMap("residual-risk", "security", standardPolicy, true))

		policy, err := source.DefaultPolicy(ctx)
		require.NoError(t, err)
		require.NotNil(t, policy)

		assert.Equal(t, int64(4), policy.ID)
		assert.Equal(t, "residual-risk", policy.Name)
		assert.Equal(t, 40.0, policy.BusinessCriticalityWeight)
		assert.Equal(t, 20.0, policy.NetworkReachabilityWeight)
		assert.Equal(t, 40.0, policy.CVEWeight)
		assert.Equal(t, 7.4, policy.ToleranceThreshold)
		assert.True(t, policy.IsDefault)
	})

	t.Run("no labelled configmap", func(t *testing.T) {
		source := newTestSource(policyConfigMap("unlabelled", "security", standardPolicy, false))

		policy, err := source.DefaultPolicy(ctx)
		require.NoError(t, err)
		assert.Nil(t, policy)
	})

	t.Run("other namespace is ignored", func(t *testing.T) {
		source := newTestSource(policyConfigMap("residual-risk", "default", standardPolicy, true))

		policy, err := source.DefaultPolicy(ctx)
		require.NoError(t, err)
		assert.Nil(t, policy)
	})

	t.Run("lowest name wins", func(t *testing.T) {
		source := newTestSource(
			policyConfigMap("zeta", "security", "id: 9\nname: zeta\ntolerance_threshold: 9", true),
			policyConfigMap("alpha", "security", "id: 10\nname: alpha\ntolerance_threshold: 5", true),
		)

		policy, err := source.DefaultPolicy(ctx)
		require.NoError(t, err)
		require.NotNil(t, policy)
		assert.Equal(t, "alpha", policy.Name)
		assert.Equal(t, int64(10), policy.ID)
	})
}

func TestDefaultPolicyErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing policy key", func(t *testing.T) {
		cm := policyConfigMap("broken", "security", "", true)
		cm.Data = map[string]string{"other.yaml": standardPolicy}
		source := newTestSource(cm)

		_, err := source.DefaultPolicy(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), PolicyKey)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		source := newTestSource(policyConfigMap("broken", "security", "tolerance_threshold: [", true))

		_, err := source.DefaultPolicy(ctx)
		assert.Error(t, err)
	})

	t.Run("api error", func(t *testing.T) {
		clientset := fake.NewSimpleClientset()
		clientset.PrependReactor("list", "configmaps", func(action ktesting.Action) (bool, runtime.Object, error) {
			return true, nil, errors.New("forbidden")
		})
		source := NewPolicySourceWithClient(clientset, "security", logrus.New())

		_, err := source.DefaultPolicy(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "forbidden")
	})
}
