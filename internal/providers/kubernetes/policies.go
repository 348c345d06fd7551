// ABOUTME: Kubernetes ConfigMap source for the default residual risk policy.
// ABOUTME: Reads labelled ConfigMaps holding the policy as YAML using the Kubernetes API.

package kubernetes

import (
	"context"
	"fmt"
	"sort"

	"github.com/jfeddern/RiskGate/internal/types"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const (
	// DefaultPolicyLabel marks ConfigMaps that hold a default policy
	DefaultPolicyLabel = "riskgate.io/default-policy"
	// PolicyKey is the ConfigMap data key holding the policy YAML
	PolicyKey = "policy.yaml"
)

// PolicySource implements engine.PolicyResolver on top of ConfigMaps in one namespace
type PolicySource struct {
	clientset kubernetes.Interface
	namespace string
	logger    *logrus.Logger
}

// NewPolicySource connects to the cluster and creates a new ConfigMap policy source
func NewPolicySource(namespace string, logger *logrus.Logger) (*PolicySource, error) {
	var config *rest.Config
	var err error

	// Try in-cluster config first (for pod deployment)
	config, err = rest.InClusterConfig()
	if err != nil {
		// Fallback to kubeconfig (for local development)
		logger.Info("In-cluster config not available, trying kubeconfig")
		config, err = clientcmd.BuildConfigFromFlags("", clientcmd.RecommendedHomeFile)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}

	logger.WithField("namespace", namespace).Info("Successfully connected to Kubernetes cluster")
	return NewPolicySourceWithClient(clientset, namespace, logger), nil
}

// NewPolicySourceWithClient creates a policy source around an existing clientset
func NewPolicySourceWithClient(clientset kubernetes.Interface, namespace string, logger *logrus.Logger) *PolicySource {
	return &PolicySource{
		clientset: clientset,
		namespace: namespace,
		logger:    logger,
	}
}

// DefaultPolicy returns the policy from the labelled ConfigMap with the lowest name,
// or nil when no ConfigMap carries the label
func (p *PolicySource) DefaultPolicy(ctx context.Context) (*types.PolicyConfig, error) {
	logger := p.logger.WithFields(logrus.Fields{
		"operation": "resolve_default_policy",
		"namespace": p.namespace,
	})

	list, err := p.clientset.CoreV1().ConfigMaps(p.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: DefaultPolicyLabel + "=true",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list policy configmaps: %w", err)
	}

	if len(list.Items) == 0 {
		logger.Debug("No default policy configmap found")
		return nil, nil
	}

	items := list.Items
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	if len(items) > 1 {
		logger.WithFields(logrus.Fields{
			"candidates": len(items),
			"configmap":  items[0].Name,
		}).Warn("Multiple default policy configmaps found, using lowest name")
	}

	return parsePolicy(items[0])
}

func parsePolicy(cm corev1.ConfigMap) (*types.PolicyConfig, error) {
	raw, ok := cm.Data[PolicyKey]
	if !ok {
		return nil, fmt.Errorf("configmap %s/%s has no %s key", cm.Namespace, cm.Name, PolicyKey)
	}

	var policy types.PolicyConfig
	if err := yaml.Unmarshal([]byte(raw), &policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy in configmap %s/%s: %w", cm.Namespace, cm.Name, err)
	}
	if policy.Name == "" {
		policy.Name = cm.Name
	}
	policy.IsDefault = true
	return &policy, nil
}
