package autoscaler

import (
	"encoding/json"
	"errors"

	"github.com/flowstate/flowstate/internal/artifactstore"
	"github.com/flowstate/flowstate/internal/domain"
)

// podStateKey is the fixed artifact key PodState is persisted under so
// it survives a dispatcher restart.
const podStateKey = "state/pod.json"

// ArtifactStateStore persists PodState as a JSON blob in an
// artifactstore.Store, giving the autoscaler the same durability
// mechanism the pipeline uses for task artifacts rather than a bespoke
// file format.
type ArtifactStateStore struct {
	store artifactstore.Store
}

// NewArtifactStateStore wraps store for PodState persistence.
func NewArtifactStateStore(store artifactstore.Store) *ArtifactStateStore {
	return &ArtifactStateStore{store: store}
}

// LoadPodState returns the zero PodState if none has been saved yet.
func (a *ArtifactStateStore) LoadPodState() (domain.PodState, error) {
	data, err := a.store.Get(podStateKey)
	if errors.Is(err, artifactstore.ErrNotFound) {
		return domain.PodState{}, nil
	}
	if err != nil {
		return domain.PodState{}, err
	}
	var state domain.PodState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.PodState{}, err
	}
	return state, nil
}

// SavePodState overwrites the persisted PodState.
func (a *ArtifactStateStore) SavePodState(state domain.PodState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return a.store.Put(podStateKey, data)
}
