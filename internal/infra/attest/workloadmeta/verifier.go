package workloadmeta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"trustplane/internal/domain"
)

// Verifier maps workload runtime metadata onto selectors. The caller is
// the node agent, already node-verified; the metadata describes the process
// it observed locally.
type Verifier struct {
	MaxSelectors int
}

type metadata struct {
	UID            *int              `json:"uid,omitempty"`
	GID            *int              `json:"gid,omitempty"`
	BinarySHA256   string            `json:"binary_sha256,omitempty"`
	ContainerImage string            `json:"container_image,omitempty"`
	Namespace      string            `json:"namespace,omitempty"`
	ServiceAccount string            `json:"service_account,omitempty"`
	Labels         map[string]string `json:"labels,omitempty"`
}

func New() *Verifier {
	return &Verifier{MaxSelectors: 32}
}

func (v *Verifier) Type() domain.EvidenceType {
	return domain.EvidenceWorkloadMetadata
}

func (v *Verifier) Verify(ctx context.Context, ev domain.Evidence) (domain.SelectorSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var meta metadata
	if err := json.Unmarshal(ev.Payload, &meta); err != nil {
		return nil, fmt.Errorf("malformed workload metadata: %w", err)
	}

	var selectors domain.SelectorSet
	if meta.UID != nil {
		selectors = append(selectors, domain.Selector{Type: "workload", Key: "uid", Value: fmt.Sprintf("%d", *meta.UID)})
	}
	if meta.GID != nil {
		selectors = append(selectors, domain.Selector{Type: "workload", Key: "gid", Value: fmt.Sprintf("%d", *meta.GID)})
	}
	if meta.BinarySHA256 != "" {
		selectors = append(selectors, domain.Selector{Type: "workload", Key: "binary_sha256", Value: meta.BinarySHA256})
	}
	if meta.ContainerImage != "" {
		selectors = append(selectors, domain.Selector{Type: "workload", Key: "container_image", Value: meta.ContainerImage})
	}
	if meta.Namespace != "" {
		selectors = append(selectors, domain.Selector{Type: "workload", Key: "namespace", Value: meta.Namespace})
	}
	if meta.ServiceAccount != "" {
		selectors = append(selectors, domain.Selector{Type: "workload", Key: "service_account", Value: meta.ServiceAccount})
	}
	for k, val := range meta.Labels {
		selectors = append(selectors, domain.Selector{Type: "workload", Key: "label:" + k, Value: val})
	}
	if len(selectors) == 0 {
		return nil, errors.New("workload metadata yields no selectors")
	}
	if len(selectors) > v.MaxSelectors {
		return nil, fmt.Errorf("workload metadata yields %d selectors, limit %d", len(selectors), v.MaxSelectors)
	}
	return selectors, nil
}
